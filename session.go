package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Organization is the backend's organization payload, fetched through the
// delegated OrganizationFetcher.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserFetcher and OrganizationFetcher are the delegated detail lookups; the
// host application implements them on top of the shared Client.
type UserFetcher interface {
	FetchUser(ctx context.Context, userID int64) (*UserProfile, error)
}

type OrganizationFetcher interface {
	FetchOrganizations(ctx context.Context, userID int64) ([]Organization, error)
}

// ActiveSelection is the user's current organization/role choice. It is
// persisted per user and survives reloads.
type ActiveSelection struct {
	OrganizationID *int64 `json:"organizationId"`
	PlatformRole   string `json:"platformRole,omitempty"`
	OrgRole        string `json:"orgRole,omitempty"`
}

// SessionSnapshot is the read model the UI renders from.
type SessionSnapshot struct {
	UserID            int64
	Claims            *AccessClaims
	User              *UserProfile
	Organizations     []Organization
	Active            ActiveSelection
	PlatformRoles     []string
	OrganizationRoles []string
	Loading           bool
	Err               string
}

// SessionManager composes the token store, decoded claims and the delegated
// fetches into one long-lived session object. It keeps the proactive refresh
// timer armed ahead of token expiry and tracks the persisted active
// selection.
type SessionManager struct {
	store      *TokenStore
	refresher  *RefreshCoordinator
	storage    Storage
	users      UserFetcher
	orgs       OrganizationFetcher
	redirector Redirector
	logger     Logger
	now        func() time.Time

	mu          sync.Mutex
	snapshot    SessionSnapshot
	timer       *time.Timer
	unsubscribe func()
	closed      bool
}

type SessionOption func(*SessionManager)

func WithUserFetcher(f UserFetcher) SessionOption {
	return func(m *SessionManager) { m.users = f }
}

func WithOrganizationFetcher(f OrganizationFetcher) SessionOption {
	return func(m *SessionManager) { m.orgs = f }
}

func WithRedirector(r Redirector) SessionOption {
	return func(m *SessionManager) {
		if r != nil {
			m.redirector = r
		}
	}
}

func WithSessionLogger(logger Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

func NewSessionManager(store *TokenStore, refresher *RefreshCoordinator, storage Storage, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:      store,
		refresher:  refresher,
		storage:    storage,
		redirector: noopRedirector{},
		logger:     defLogger{},
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.adoptTokens(store.Get())
	m.unsubscribe = store.Subscribe(func(change TokenChange) {
		m.adoptTokens(change.Pair)
	})

	return m
}

// Snapshot returns a copy of the current read model.
func (m *SessionManager) Snapshot() SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// IsTokenExpired applies the skew rule to the current access token. No
// token counts as expired.
func (m *SessionManager) IsTokenExpired() bool {
	m.mu.Lock()
	claims := m.snapshot.Claims
	m.mu.Unlock()

	if claims == nil {
		return true
	}
	return claims.ExpiredAt(m.now())
}

// SetActiveOrganization switches the active organization, defaulting the
// org role from the claims, and persists the selection.
func (m *SessionManager) SetActiveOrganization(orgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claims := m.snapshot.Claims
	if claims == nil {
		return ErrNoTokens
	}

	roles := claims.RolesForOrg(orgID)
	m.snapshot.Active.OrganizationID = &orgID
	m.snapshot.Active.OrgRole = firstRole(roles)
	m.snapshot.OrganizationRoles = roles

	return m.persistSelection()
}

// SetActiveRoles records the role pair the user is acting under.
func (m *SessionManager) SetActiveRoles(platformRole, orgRole string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot.Active.PlatformRole = platformRole
	m.snapshot.Active.OrgRole = orgRole

	return m.persistSelection()
}

// SignOut clears the token store and every cached detail, then redirects to
// the login entry point. Safe to call repeatedly.
func (m *SessionManager) SignOut() {
	if err := m.store.Clear(); err != nil {
		m.logger.Error("sign out could not clear token store", "error", err)
	}

	m.mu.Lock()
	m.snapshot = SessionSnapshot{}
	m.stopTimerLocked()
	m.mu.Unlock()

	m.redirector.RedirectToLogin()
}

// RefetchAll refreshes the whole read model. Absent tokens redirect to
// login; a stale token gets one refresh attempt; a 401 surfaced mid-flight
// gets one refresh-and-retry of the batch. Any of those failing signs out.
func (m *SessionManager) RefetchAll(ctx context.Context) error {
	pair := m.store.Get()
	if pair == nil {
		m.redirector.RedirectToLogin()
		return nil
	}

	if m.IsTokenExpired() {
		if !m.refresher.EnsureRefreshed(ctx) {
			m.SignOut()
			return ErrNoTokens
		}
	}

	m.setLoading(true)
	defer m.setLoading(false)

	err := m.fetchAll(ctx)
	if err != nil && IsUnauthorized(err) {
		if !m.refresher.EnsureRefreshed(ctx) {
			m.SignOut()
			return ErrNoTokens
		}
		err = m.fetchAll(ctx)
		if err != nil && IsUnauthorized(err) {
			m.SignOut()
			return err
		}
	}

	if err != nil {
		if IsCancellation(err) {
			return err
		}
		m.mu.Lock()
		m.snapshot.Err = HumanMessage(err)
		m.mu.Unlock()
		return err
	}

	return nil
}

// Close stops the proactive refresh timer and the store subscription. The
// token store itself is left untouched.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTimerLocked()
	m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *SessionManager) fetchAll(ctx context.Context) error {
	m.mu.Lock()
	userID := m.snapshot.UserID
	m.mu.Unlock()

	if userID == 0 {
		return ErrNoTokens
	}

	var user *UserProfile
	var orgs []Organization
	var err error

	if m.users != nil {
		if user, err = m.users.FetchUser(ctx, userID); err != nil {
			return err
		}
	}
	if m.orgs != nil {
		if orgs, err = m.orgs.FetchOrganizations(ctx, userID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.snapshot.User = user
	m.snapshot.Organizations = orgs
	m.snapshot.Err = ""
	m.ensureSelectionLocked()
	m.mu.Unlock()

	return nil
}

// adoptTokens recomputes the claims-derived parts of the snapshot whenever
// the token pair changes, and re-arms the proactive refresh timer.
func (m *SessionManager) adoptTokens(pair *TokenPair) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.stopTimerLocked()

	if pair == nil {
		m.snapshot = SessionSnapshot{}
		return
	}

	claims := DecodeAccessClaims(pair.AccessToken)
	if claims == nil {
		m.logger.Warn("stored access token does not decode")
		m.snapshot = SessionSnapshot{}
		return
	}

	m.snapshot.Claims = claims
	m.snapshot.UserID = claims.UserID()
	m.snapshot.PlatformRoles = claims.Roles
	m.loadSelectionLocked()
	m.ensureSelectionLocked()
	m.armTimerLocked(claims)
}

func (m *SessionManager) armTimerLocked(claims *AccessClaims) {
	if m.refresher == nil {
		return
	}

	deadline, ok := claims.RefreshDeadline()
	if !ok {
		return
	}

	wait := deadline.Sub(m.now())
	if wait < 0 {
		wait = 0
	}

	m.timer = time.AfterFunc(wait, func() {
		m.refresher.EnsureRefreshed(context.Background())
	})
}

func (m *SessionManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *SessionManager) setLoading(v bool) {
	m.mu.Lock()
	m.snapshot.Loading = v
	m.mu.Unlock()
}

// ensureSelectionLocked resets the active selection to the first available
// organization and roles when nothing valid is selected.
func (m *SessionManager) ensureSelectionLocked() {
	claims := m.snapshot.Claims
	if claims == nil {
		return
	}

	if m.snapshot.Active.PlatformRole == "" {
		m.snapshot.Active.PlatformRole = firstRole(claims.Roles)
	}

	if m.snapshot.Active.OrganizationID == nil {
		ids := claims.OrganizationIDs()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > 0 {
			id := ids[0]
			m.snapshot.Active.OrganizationID = &id
			m.snapshot.Active.OrgRole = firstRole(claims.RolesForOrg(id))
		}
	}

	if m.snapshot.Active.OrganizationID != nil {
		m.snapshot.OrganizationRoles = claims.RolesForOrg(*m.snapshot.Active.OrganizationID)
		if m.snapshot.Active.OrgRole == "" {
			m.snapshot.Active.OrgRole = firstRole(m.snapshot.OrganizationRoles)
		}
	}

	if err := m.persistSelection(); err != nil {
		m.logger.Warn("could not persist active selection", "error", err)
	}
}

func (m *SessionManager) selectionKey() string {
	if m.snapshot.UserID == 0 {
		return "auth:anon:active"
	}
	return fmt.Sprintf("auth:%d:active", m.snapshot.UserID)
}

func (m *SessionManager) loadSelectionLocked() {
	if m.storage == nil {
		return
	}

	raw, ok, err := m.storage.Get(m.selectionKey())
	if err != nil || !ok {
		return
	}

	selection := ActiveSelection{}
	if err := json.Unmarshal([]byte(raw), &selection); err != nil {
		m.logger.Warn("stored active selection is corrupt", "error", err)
		return
	}
	m.snapshot.Active = selection
}

func (m *SessionManager) persistSelection() error {
	if m.storage == nil {
		return nil
	}

	raw, err := json.Marshal(m.snapshot.Active)
	if err != nil {
		return err
	}
	return m.storage.Set(m.selectionKey(), string(raw))
}
