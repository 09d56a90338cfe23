package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"
)

const refreshPath = "/auth/refresh"

// RefreshCoordinator owns the single in-flight refresh call. However many
// requests race into a 401 against the same stale token, exactly one POST to
// the refresh endpoint happens and every caller observes its outcome.
//
// A failed refresh is a hard invalidation: the store is cleared and callers
// are expected to sign out, not retry.
type RefreshCoordinator struct {
	endpoint string
	http     *http.Client
	store    *TokenStore
	logger   Logger
	group    singleflight.Group
}

type RefreshOption func(*RefreshCoordinator)

func WithRefreshHTTPClient(client *http.Client) RefreshOption {
	return func(rc *RefreshCoordinator) {
		if client != nil {
			rc.http = client
		}
	}
}

func WithRefreshLogger(logger Logger) RefreshOption {
	return func(rc *RefreshCoordinator) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

func NewRefreshCoordinator(baseURL string, store *TokenStore, opts ...RefreshOption) *RefreshCoordinator {
	rc := &RefreshCoordinator{
		endpoint: strings.TrimRight(baseURL, "/") + refreshPath,
		http:     &http.Client{},
		store:    store,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}

	return rc
}

// EnsureRefreshed rotates the stored pair, collapsing concurrent callers
// onto one network call. Returns true when the store now holds fresh tokens.
func (rc *RefreshCoordinator) EnsureRefreshed(ctx context.Context) bool {
	ok, _, _ := rc.group.Do("refresh", func() (any, error) {
		return rc.refresh(ctx), nil
	})
	return ok.(bool)
}

func (rc *RefreshCoordinator) refresh(ctx context.Context) bool {
	pair := rc.store.Get()
	if pair == nil {
		return false
	}

	body, err := json.Marshal(map[string]string{"refreshToken": pair.RefreshToken})
	if err != nil {
		rc.logger.Error("refresh failed to encode request", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.endpoint, bytes.NewReader(body))
	if err != nil {
		rc.logger.Error("refresh failed to build request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := rc.http.Do(req)
	if err != nil {
		if IsCancellation(err) {
			// An aborted caller is not a verdict on the refresh token.
			return false
		}
		rc.logger.Warn("refresh transport failure, invalidating session", "error", err)
		rc.invalidate()
		return false
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		rc.logger.Warn("refresh response unreadable, invalidating session", "error", err)
		rc.invalidate()
		return false
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		rc.logger.Warn("refresh rejected, invalidating session", "status", res.StatusCode)
		rc.invalidate()
		return false
	}

	fresh, err := normalizeTokenPayload(raw)
	if err != nil {
		rc.logger.Warn("refresh returned no usable tokens, invalidating session", "error", err)
		rc.invalidate()
		return false
	}

	if err := rc.store.Set(fresh); err != nil {
		rc.logger.Error("refresh could not persist tokens", "error", err)
		return false
	}

	rc.logger.Debug("refresh rotated token pair")
	return true
}

func (rc *RefreshCoordinator) invalidate() {
	if err := rc.store.Clear(); err != nil {
		rc.logger.Error("refresh failed to clear token store", "error", err)
	}
}
