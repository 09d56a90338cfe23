package authkit_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline/authkit"
)

type brokenStorage struct{}

func (brokenStorage) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (brokenStorage) Set(string, string) error         { return errors.New("disk gone") }
func (brokenStorage) Delete(string) error              { return errors.New("disk gone") }

func TestTokenStoreRoundTrip(t *testing.T) {
	storage := authkit.NewMemoryStorage()
	store := authkit.NewTokenStore(storage)

	assert.Nil(t, store.Get())

	pair := authkit.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, store.Set(pair))

	got := store.Get()
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)

	// Mutating the snapshot must not reach the store.
	got.AccessToken = "tampered"
	assert.Equal(t, "access-1", store.Get().AccessToken)
}

func TestTokenStoreRejectsPartialPair(t *testing.T) {
	tests := []struct {
		name string
		pair authkit.TokenPair
	}{
		{"empty", authkit.TokenPair{}},
		{"access only", authkit.TokenPair{AccessToken: "a"}},
		{"refresh only", authkit.TokenPair{RefreshToken: "r"}},
	}

	storage := authkit.NewMemoryStorage()
	store := authkit.NewTokenStore(storage)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Set(tt.pair)
			require.Error(t, err)
			assert.Nil(t, store.Get())

			_, ok, err := storage.Get(authkit.DefaultTokenKey)
			require.NoError(t, err)
			assert.False(t, ok, "nothing may be persisted on rejection")
		})
	}
}

func TestTokenStorePersistsAcrossInstances(t *testing.T) {
	storage := authkit.NewMemoryStorage()

	first := authkit.NewTokenStore(storage)
	pair := authkit.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, first.Set(pair))

	second := authkit.NewTokenStore(storage)
	got := second.Get()
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)
}

func TestTokenStoreClearIsIdempotent(t *testing.T) {
	storage := authkit.NewMemoryStorage()
	store := authkit.NewTokenStore(storage)

	require.NoError(t, store.Set(authkit.TokenPair{AccessToken: "a", RefreshToken: "r"}))

	var changes []authkit.TokenChange
	store.Subscribe(func(change authkit.TokenChange) {
		changes = append(changes, change)
	})

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())

	assert.Nil(t, store.Get())
	require.Len(t, changes, 1, "a second clear publishes nothing")
	assert.Nil(t, changes[0].Pair)
}

func TestTokenStoreSubscribe(t *testing.T) {
	store := authkit.NewTokenStore(authkit.NewMemoryStorage())

	var changes []authkit.TokenChange
	unsubscribe := store.Subscribe(func(change authkit.TokenChange) {
		changes = append(changes, change)
	})

	pair := authkit.TokenPair{AccessToken: "a", RefreshToken: "r"}
	require.NoError(t, store.Set(pair))

	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Pair)
	assert.Equal(t, pair, *changes[0].Pair)
	assert.False(t, changes[0].External)

	unsubscribe()
	require.NoError(t, store.Clear())
	assert.Len(t, changes, 1, "no delivery after unsubscribe")
}

func TestTokenStoreReload(t *testing.T) {
	storage := authkit.NewMemoryStorage()
	store := authkit.NewTokenStore(storage)

	var changes []authkit.TokenChange
	store.Subscribe(func(change authkit.TokenChange) {
		changes = append(changes, change)
	})

	// Another process writes the pair behind the store's back.
	pair := authkit.TokenPair{AccessToken: "external-a", RefreshToken: "external-r"}
	raw, err := json.Marshal(pair)
	require.NoError(t, err)
	require.NoError(t, storage.Set(authkit.DefaultTokenKey, string(raw)))

	store.Reload()

	require.Len(t, changes, 1)
	assert.True(t, changes[0].External)
	require.NotNil(t, changes[0].Pair)
	assert.Equal(t, pair, *changes[0].Pair)

	got := store.Get()
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)

	// Reloading the same state publishes nothing.
	store.Reload()
	assert.Len(t, changes, 1)
}

func TestTokenStoreUnavailableStorageReadsAsLoggedOut(t *testing.T) {
	store := authkit.NewTokenStore(brokenStorage{})
	assert.Nil(t, store.Get())
}

func TestTokenStoreConcurrentWritersStayAtomic(t *testing.T) {
	store := authkit.NewTokenStore(authkit.NewMemoryStorage())

	pairA := authkit.TokenPair{AccessToken: "access-a", RefreshToken: "refresh-a"}
	pairB := authkit.TokenPair{AccessToken: "access-b", RefreshToken: "refresh-b"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Set(pairA)
		}()
		go func() {
			defer wg.Done()
			_ = store.Set(pairB)
		}()

		got := store.Get()
		if got != nil {
			assert.Contains(t, []authkit.TokenPair{pairA, pairB}, *got,
				"snapshot must never mix halves of two pairs")
		}
	}
	wg.Wait()
}
