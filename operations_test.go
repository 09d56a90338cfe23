package authkit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline/authkit"
)

func TestValidPhone(t *testing.T) {
	rule := authkit.ValidPhone(authkit.DefaultPhoneRegion)

	tests := []struct {
		name  string
		phone string
		valid bool
	}{
		{"national mobile", "09120000000", true},
		{"international", "+989120000000", true},
		{"letters", "not-a-number", false},
		{"too short", "12", false},
		{"empty passes, Required owns absence", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule(tt.phone)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestOTPVerifyResultValidate(t *testing.T) {
	pair := &authkit.TokenPair{AccessToken: "a", RefreshToken: "r"}

	tests := []struct {
		name  string
		res   authkit.OTPVerifyResult
		valid bool
	}{
		{"login with tokens", authkit.OTPVerifyResult{Mode: authkit.VerifyModeLogin, Tokens: pair}, true},
		{"login without tokens", authkit.OTPVerifyResult{Mode: authkit.VerifyModeLogin}, false},
		{"login with half a pair", authkit.OTPVerifyResult{Mode: authkit.VerifyModeLogin, Tokens: &authkit.TokenPair{AccessToken: "a"}}, false},
		{"signup with token", authkit.OTPVerifyResult{Mode: authkit.VerifyModeSignup, SignupToken: "abc"}, true},
		{"signup without token", authkit.OTPVerifyResult{Mode: authkit.VerifyModeSignup}, false},
		{"unknown mode", authkit.OTPVerifyResult{Mode: "MAYBE"}, false},
		{"missing mode", authkit.OTPVerifyResult{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAPIRequestValidation(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	c := newCore(t, server.URL)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"bad phone on check", func() error {
			_, err := c.api.CheckIdentifier(ctx, "nope")
			return err
		}},
		{"empty password on login", func() error {
			_, err := c.api.LoginWithPassword(ctx, testPhone, "")
			return err
		}},
		{"unknown otp purpose", func() error {
			_, err := c.api.RequestOTP(ctx, testPhone, "MARKETING")
			return err
		}},
		{"non-digit code", func() error {
			_, err := c.api.VerifyOTP(ctx, testPhone, authkit.OTPPurposeLogin, "abc123")
			return err
		}},
		{"short password on registration", func() error {
			_, err := c.api.CompleteRegistration(ctx, "abc", "Dana", "Vu", "short")
			return err
		}},
		{"short code on reset", func() error {
			_, err := c.api.ResetPassword(ctx, testPhone, "12", "fresh-password-1")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, authkit.IsValidation(err))
		})
	}

	assert.Equal(t, 0, calls, "invalid payloads never reach the backend")
}

func TestAPILoginStoresTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 0, "", map[string]any{
			"user":   authkit.UserProfile{ID: 42},
			"tokens": authkit.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		})
	}))
	defer server.Close()

	c := newCore(t, server.URL)

	res, err := c.api.LoginWithPassword(context.Background(), testPhone, "hunter2-hunter2")
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(42), res.User.ID)

	got := c.store.Get()
	require.NotNil(t, got, "token-bearing successes write the store before returning")
	assert.Equal(t, "access-1", got.AccessToken)
}

func TestAPILoginRejectsIncompleteTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 0, "", map[string]any{
			"user":   authkit.UserProfile{ID: 42},
			"tokens": map[string]string{"accessToken": "only-half"},
		})
	}))
	defer server.Close()

	c := newCore(t, server.URL)

	_, err := c.api.LoginWithPassword(context.Background(), testPhone, "hunter2-hunter2")
	require.Error(t, err)
	assert.True(t, authkit.IsValidation(err))
	assert.Nil(t, c.store.Get())
}
