package authkit

import (
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultTokenKey is the storage key the token pair persists under.
const DefaultTokenKey = "auth:tokens"

// TokenStore is the single owner of the access/refresh token pair. All
// writers replace or clear the pair wholesale; readers always get an atomic
// snapshot. Changes, including external ones picked up from storage, are
// published to subscribers.
type TokenStore struct {
	storage Storage
	key     string
	logger  Logger
	now     func() time.Time

	mu        sync.Mutex
	current   *TokenPair
	listeners map[int]func(TokenChange)
	nextID    int
	stopWatch func()
}

type TokenStoreOption func(*TokenStore)

func WithTokenKey(key string) TokenStoreOption {
	return func(s *TokenStore) {
		if key != "" {
			s.key = key
		}
	}
}

func WithTokenStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenStoreClock injects a custom clock (useful for tests).
func WithTokenStoreClock(clock func() time.Time) TokenStoreOption {
	return func(s *TokenStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewTokenStore(storage Storage, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		storage:   storage,
		key:       DefaultTokenKey,
		logger:    defLogger{},
		now:       time.Now,
		listeners: map[int]func(TokenChange){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.current = s.load()

	if watcher, ok := storage.(StorageWatcher); ok {
		stop, err := watcher.Watch(func(key string) {
			if key == s.key {
				s.Reload()
			}
		})
		if err != nil {
			s.logger.Warn("token store could not watch storage", "error", err)
		} else {
			s.stopWatch = stop
		}
	}

	return s
}

// Get returns a snapshot of the current pair, or nil when logged out or when
// storage is unavailable.
func (s *TokenStore) Get() *TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snapshot := *s.current
	return &snapshot
}

// Set persists and publishes a new pair. Partial pairs are rejected before
// anything is written.
func (s *TokenStore) Set(pair TokenPair) error {
	if !pair.Complete() {
		return goerrors.New("token pair must carry both tokens", goerrors.CategoryBadInput).
			WithTextCode("PARTIAL_TOKEN_PAIR")
	}

	raw, err := json.Marshal(pair)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode token pair")
	}

	s.mu.Lock()
	if err := s.storage.Set(s.key, string(raw)); err != nil {
		s.mu.Unlock()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist token pair")
	}
	s.current = &pair
	listeners := s.snapshotListeners()
	snapshot := pair
	change := TokenChange{Pair: &snapshot, At: s.now()}
	s.mu.Unlock()

	s.publish(listeners, change)
	return nil
}

// Clear removes the pair. Safe to call repeatedly.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	hadTokens := s.current != nil
	if err := s.storage.Delete(s.key); err != nil {
		s.mu.Unlock()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear token pair")
	}
	s.current = nil
	listeners := s.snapshotListeners()
	change := TokenChange{At: s.now()}
	s.mu.Unlock()

	if hadTokens {
		s.publish(listeners, change)
	}
	return nil
}

// Reload re-reads storage and, when the persisted pair differs from the
// in-memory snapshot, adopts it and publishes an external change. This is the
// ingestion path for writes made by another tab or process; it never writes
// back.
func (s *TokenStore) Reload() {
	fresh := s.load()

	s.mu.Lock()
	if tokenPairsEqual(s.current, fresh) {
		s.mu.Unlock()
		return
	}
	s.current = fresh
	listeners := s.snapshotListeners()
	change := TokenChange{External: true, At: s.now()}
	if fresh != nil {
		snapshot := *fresh
		change.Pair = &snapshot
	}
	s.mu.Unlock()

	s.publish(listeners, change)
}

// Subscribe registers fn for every token change. The returned function
// removes the subscription.
func (s *TokenStore) Subscribe(fn func(TokenChange)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Close stops the storage watcher, if any.
func (s *TokenStore) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

func (s *TokenStore) load() *TokenPair {
	raw, ok, err := s.storage.Get(s.key)
	if err != nil {
		// Unavailable storage reads as logged out.
		s.logger.Warn("token store storage read failed", "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	pair := TokenPair{}
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		s.logger.Warn("token store found corrupt token pair", "error", err)
		return nil
	}
	if !pair.Complete() {
		return nil
	}
	return &pair
}

func (s *TokenStore) snapshotListeners() []func(TokenChange) {
	out := make([]func(TokenChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *TokenStore) publish(listeners []func(TokenChange), change TokenChange) {
	for _, fn := range listeners {
		fn(change)
	}
}

func tokenPairsEqual(a, b *TokenPair) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
