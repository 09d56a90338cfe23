package authkit_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/sightline/authkit"
)

const testPhone = "09120000000"

func mintToken(t *testing.T, subject string, exp time.Time, mutate func(*authkit.AccessClaims)) string {
	t.Helper()

	claims := &authkit.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if !exp.IsZero() {
		claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	if mutate != nil {
		mutate(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func testPair(t *testing.T, subject string, exp time.Time) authkit.TokenPair {
	t.Helper()
	return authkit.TokenPair{
		AccessToken:  mintToken(t, subject, exp, nil),
		RefreshToken: "refresh-" + subject,
	}
}

func writeEnvelope(w http.ResponseWriter, status, code int, message string, data any) {
	raw, _ := json.Marshal(data)
	body := map[string]any{
		"success": status >= 200 && status <= 299,
		"code":    code,
		"message": message,
		"error":   nil,
		"data":    json.RawMessage(raw),
		"meta":    nil,
		"tookMs":  1.5,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// core bundles the wired auth components most tests need.
type core struct {
	storage   *authkit.MemoryStorage
	store     *authkit.TokenStore
	refresher *authkit.RefreshCoordinator
	client    *authkit.Client
	api       *authkit.API
}

func newCore(t *testing.T, baseURL string, clientOpts ...authkit.ClientOption) *core {
	t.Helper()

	storage := authkit.NewMemoryStorage()
	store := authkit.NewTokenStore(storage)
	refresher := authkit.NewRefreshCoordinator(baseURL, store)
	client := authkit.NewClient(baseURL, store, refresher, clientOpts...)
	api := authkit.NewAPI(client, store)

	t.Cleanup(store.Close)

	return &core{
		storage:   storage,
		store:     store,
		refresher: refresher,
		client:    client,
		api:       api,
	}
}

type recordingNotifier struct {
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(message string) {
	n.successes = append(n.successes, message)
}

func (n *recordingNotifier) Error(message string) {
	n.errors = append(n.errors, message)
}
