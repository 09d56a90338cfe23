package authkit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline/authkit"
)

type recordingRedirector struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRedirector) RedirectToLogin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *recordingRedirector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubFetchers struct {
	mu        sync.Mutex
	user      *authkit.UserProfile
	orgs      []authkit.Organization
	userErrs  []error // consumed one per FetchUser call
	userCalls int
}

func (s *stubFetchers) FetchUser(ctx context.Context, userID int64) (*authkit.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCalls++
	if len(s.userErrs) > 0 {
		err := s.userErrs[0]
		s.userErrs = s.userErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.user, nil
}

func (s *stubFetchers) FetchOrganizations(ctx context.Context, userID int64) ([]authkit.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgs, nil
}

func sessionToken(t *testing.T, exp time.Time) string {
	t.Helper()
	return mintToken(t, "42", exp, func(c *authkit.AccessClaims) {
		c.Roles = []string{"member", "admin"}
		c.OrgRoles = map[string][]string{
			"9": {"admin"},
			"5": {"member"},
		}
	})
}

// refreshBackend serves /auth/refresh with a decodable rotated pair and
// counts the hits.
func refreshBackend(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			writeEnvelope(w, status, 1008, "refresh revoked", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, 0, "", map[string]any{
			"tokens": authkit.TokenPair{
				AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
				RefreshToken: "rotated-refresh",
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func newSession(t *testing.T, serverURL string, pair *authkit.TokenPair, opts ...authkit.SessionOption) (*authkit.SessionManager, *core) {
	t.Helper()

	c := newCore(t, serverURL)
	if pair != nil {
		require.NoError(t, c.store.Set(*pair))
	}

	m := authkit.NewSessionManager(c.store, c.refresher, c.storage, opts...)
	t.Cleanup(m.Close)
	return m, c
}

func TestSessionAdoptsStoredTokens(t *testing.T) {
	server, _ := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	}

	m, _ := newSession(t, server.URL, &pair)

	snap := m.Snapshot()
	assert.Equal(t, int64(42), snap.UserID)
	require.NotNil(t, snap.Claims)
	assert.Equal(t, []string{"member", "admin"}, snap.PlatformRoles)

	// Default selection: lowest organization, highest known role.
	require.NotNil(t, snap.Active.OrganizationID)
	assert.Equal(t, int64(5), *snap.Active.OrganizationID)
	assert.Equal(t, "admin", snap.Active.PlatformRole)
	assert.Equal(t, "member", snap.Active.OrgRole)
	assert.Equal(t, []string{"member"}, snap.OrganizationRoles)

	assert.False(t, m.IsTokenExpired())
}

func TestSessionSelectionPersistsAcrossManagers(t *testing.T) {
	server, _ := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	}

	first, c := newSession(t, server.URL, &pair)
	require.NoError(t, first.SetActiveOrganization(9))
	first.Close()

	raw, ok, err := c.storage.Get("auth:42:active")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"organizationId":9`)

	second := authkit.NewSessionManager(c.store, c.refresher, c.storage)
	t.Cleanup(second.Close)

	snap := second.Snapshot()
	require.NotNil(t, snap.Active.OrganizationID)
	assert.Equal(t, int64(9), *snap.Active.OrganizationID)
	assert.Equal(t, "admin", snap.Active.OrgRole)
	assert.Equal(t, []string{"admin"}, snap.OrganizationRoles)
}

func TestSessionSignOut(t *testing.T) {
	server, _ := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	}

	redirector := &recordingRedirector{}
	m, c := newSession(t, server.URL, &pair, authkit.WithRedirector(redirector))

	m.SignOut()
	m.SignOut()

	assert.Nil(t, c.store.Get())
	assert.Equal(t, authkit.SessionSnapshot{}, m.Snapshot())
	assert.Equal(t, 2, redirector.count())
	assert.True(t, m.IsTokenExpired())
}

func TestSessionRefetchAllWithoutTokensRedirects(t *testing.T) {
	server, calls := refreshBackend(t, http.StatusOK)

	redirector := &recordingRedirector{}
	m, _ := newSession(t, server.URL, nil, authkit.WithRedirector(redirector))

	require.NoError(t, m.RefetchAll(context.Background()))
	assert.Equal(t, 1, redirector.count())
	assert.Equal(t, int32(0), calls.Load())
}

func TestSessionRefetchAllRefreshesExpiredToken(t *testing.T) {
	server, calls := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "stale-refresh",
	}

	fetchers := &stubFetchers{
		user: &authkit.UserProfile{ID: 42, FirstName: "Dana"},
		orgs: []authkit.Organization{{ID: 5, Name: "Acme"}},
	}
	m, _ := newSession(t, server.URL, &pair,
		authkit.WithUserFetcher(fetchers),
		authkit.WithOrganizationFetcher(fetchers),
	)
	require.True(t, m.IsTokenExpired())

	require.NoError(t, m.RefetchAll(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, m.IsTokenExpired())

	snap := m.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "Dana", snap.User.FirstName)
	assert.Equal(t, []authkit.Organization{{ID: 5, Name: "Acme"}}, snap.Organizations)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Err)
}

func TestSessionRefetchAllSignsOutWhenRefreshFails(t *testing.T) {
	server, _ := refreshBackend(t, http.StatusUnauthorized)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(-time.Minute)),
		RefreshToken: "stale-refresh",
	}

	redirector := &recordingRedirector{}
	m, c := newSession(t, server.URL, &pair, authkit.WithRedirector(redirector))

	err := m.RefetchAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, authkit.ErrNoTokens)
	assert.Nil(t, c.store.Get())
	assert.Equal(t, 1, redirector.count())
}

func TestSessionRefetchAllRetriesBatchOnceAfter401(t *testing.T) {
	server, calls := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	}

	fetchers := &stubFetchers{
		user:     &authkit.UserProfile{ID: 42, FirstName: "Dana"},
		userErrs: []error{&authkit.APIError{Status: http.StatusUnauthorized}},
	}
	m, _ := newSession(t, server.URL, &pair, authkit.WithUserFetcher(fetchers))

	require.NoError(t, m.RefetchAll(context.Background()))

	assert.Equal(t, int32(1), calls.Load(), "one refresh for the surfaced 401")
	assert.Equal(t, 2, fetchers.userCalls, "the batch runs exactly twice")
	require.NotNil(t, m.Snapshot().User)
}

func TestSessionRefetchAllKeepsSessionOnPlainFailure(t *testing.T) {
	server, _ := refreshBackend(t, http.StatusOK)
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	}

	fetchers := &stubFetchers{
		userErrs: []error{&authkit.APIError{Status: http.StatusInternalServerError, Message: "backend down"}},
	}
	redirector := &recordingRedirector{}
	m, c := newSession(t, server.URL, &pair,
		authkit.WithUserFetcher(fetchers),
		authkit.WithRedirector(redirector),
	)

	err := m.RefetchAll(context.Background())
	require.Error(t, err)

	assert.NotNil(t, c.store.Get(), "a 500 is not a sign-out")
	assert.Equal(t, 0, redirector.count())
	assert.Equal(t, "backend down", m.Snapshot().Err)
}

func TestSessionProactiveRefreshTimer(t *testing.T) {
	server, calls := refreshBackend(t, http.StatusOK)

	// Deadline lands 150ms from now.
	pair := authkit.TokenPair{
		AccessToken:  sessionToken(t, time.Now().Add(authkit.RefreshLead+150*time.Millisecond)),
		RefreshToken: "refresh-1",
	}

	m, c := newSession(t, server.URL, &pair)
	_ = m

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond, "the timer must fire ahead of expiry")

	require.Eventually(t, func() bool {
		pair := c.store.Get()
		return pair != nil && pair.RefreshToken == "rotated-refresh"
	}, 2*time.Second, 20*time.Millisecond)
}
