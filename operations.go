package authkit

import (
	"context"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// OTP purposes accepted by the backend.
const (
	OTPPurposeLogin         = "LOGIN"
	OTPPurposePasswordReset = "PASSWORD_RESET"
)

// Verification outcomes reported by /auth/otp/verify.
const (
	VerifyModeLogin  = "LOGIN"
	VerifyModeSignup = "SIGNUP"
)

// DefaultPhoneRegion is the region identifiers are parsed against when the
// user types a national number.
const DefaultPhoneRegion = "IR"

// UserProfile is the backend's user payload on token-bearing responses.
type UserProfile struct {
	ID        int64  `json:"id"`
	Phone     string `json:"phone"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ValidPhone builds a rule that accepts a dialable number for region.
func ValidPhone(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil // Required is a separate rule.
		}
		num, err := phonenumbers.Parse(s, region)
		if err != nil {
			return errors.New("must be a phone number")
		}
		if !phonenumbers.IsPossibleNumber(num) {
			return errors.New("must be a dialable phone number")
		}
		return nil
	}
}

type CheckIdentifierRequest struct {
	Phone string `json:"phone"`

	region string
}

func (r CheckIdentifierRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(ValidPhone(r.region))),
	)
}

// CheckIdentifierResult reports whether an account exists for the phone.
type CheckIdentifierResult struct {
	Exists bool `json:"exists"`
}

type PasswordLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`

	region string
}

func (r PasswordLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(ValidPhone(r.region))),
		validation.Field(&r.Password, validation.Required),
	)
}

// AuthResult is the payload of every token-bearing success.
type AuthResult struct {
	User   *UserProfile `json:"user"`
	Tokens TokenPair    `json:"tokens"`
}

func (r AuthResult) Validate() error {
	if !r.Tokens.Complete() {
		return errors.New("response carries an incomplete token pair")
	}
	return nil
}

type OTPRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`

	region string
}

func (r OTPRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(ValidPhone(r.region))),
		validation.Field(&r.Purpose, validation.Required, validation.In(OTPPurposeLogin, OTPPurposePasswordReset)),
	)
}

// OTPIssued acknowledges a code send. DevCode is only populated by
// non-production backends.
type OTPIssued struct {
	OK      bool   `json:"ok"`
	DevCode string `json:"devCode,omitempty"`
}

type OTPVerifyRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`

	region string
}

func (r OTPVerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(ValidPhone(r.region))),
		validation.Field(&r.Purpose, validation.Required, validation.In(OTPPurposeLogin, OTPPurposePasswordReset)),
		validation.Field(&r.Code, validation.Required, validation.Length(4, 8), is.Digit),
	)
}

// OTPVerifyResult is a union: mode LOGIN carries user and tokens, mode
// SIGNUP carries the signup token for registration completion.
type OTPVerifyResult struct {
	Mode        string       `json:"mode"`
	User        *UserProfile `json:"user,omitempty"`
	Tokens      *TokenPair   `json:"tokens,omitempty"`
	SignupToken string       `json:"signupToken,omitempty"`
}

func (r OTPVerifyResult) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Mode, validation.Required, validation.In(VerifyModeLogin, VerifyModeSignup)),
		validation.Field(&r.SignupToken, validation.By(func(any) error {
			if r.Mode == VerifyModeSignup && r.SignupToken == "" {
				return errors.New("signup mode requires a signup token")
			}
			return nil
		})),
		validation.Field(&r.Tokens, validation.By(func(any) error {
			if r.Mode == VerifyModeLogin && (r.Tokens == nil || !r.Tokens.Complete()) {
				return errors.New("login mode requires a complete token pair")
			}
			return nil
		})),
	)
}

type CompleteRegistrationRequest struct {
	SignupToken string `json:"signupToken"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Password    string `json:"password"`
}

func (r CompleteRegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SignupToken, validation.Required),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

type ResetPasswordRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`

	region string
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(ValidPhone(r.region))),
		validation.Field(&r.Code, validation.Required, validation.Length(4, 8), is.Digit),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

// API exposes the named credential-exchange operations. Token-bearing
// successes write the TokenStore before returning.
type API struct {
	client *Client
	store  *TokenStore
	region string
}

type APIOption func(*API)

func WithPhoneRegion(region string) APIOption {
	return func(a *API) {
		if region != "" {
			a.region = region
		}
	}
}

func NewAPI(client *Client, store *TokenStore, opts ...APIOption) *API {
	a := &API{
		client: client,
		store:  store,
		region: DefaultPhoneRegion,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// CheckIdentifier asks whether an account exists for phone.
func (a *API) CheckIdentifier(ctx context.Context, phone string) (bool, error) {
	out := &CheckIdentifierResult{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/check-identifier",
		Body:   CheckIdentifierRequest{Phone: phone, region: a.region},
		Out:    out,
		NoAuth: true,
		Silent: true,
	})
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}

// LoginWithPassword exchanges phone+password for a session.
func (a *API) LoginWithPassword(ctx context.Context, phone, password string) (*AuthResult, error) {
	out := &AuthResult{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/login/password",
		Body:   PasswordLoginRequest{Phone: phone, Password: password, region: a.region},
		Out:    out,
		NoAuth: true,
		Silent: true,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.Set(out.Tokens); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestOTP asks the backend to send a code for the given purpose.
func (a *API) RequestOTP(ctx context.Context, phone, purpose string) (*OTPIssued, error) {
	out := &OTPIssued{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/otp/request",
		Body:   OTPRequest{Phone: phone, Purpose: purpose, region: a.region},
		Out:    out,
		NoAuth: true,
		Silent: true,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyOTP submits a code. Mode LOGIN completes the session; mode SIGNUP
// hands back a signup token for registration completion.
func (a *API) VerifyOTP(ctx context.Context, phone, purpose, code string) (*OTPVerifyResult, error) {
	out := &OTPVerifyResult{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/otp/verify",
		Body:   OTPVerifyRequest{Phone: phone, Purpose: purpose, Code: code, region: a.region},
		Out:    out,
		Silent: true,
	})
	if err != nil {
		return nil, err
	}
	if out.Mode == VerifyModeLogin {
		if err := a.store.Set(*out.Tokens); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompleteRegistration finishes a signup started by an OTP in SIGNUP mode.
func (a *API) CompleteRegistration(ctx context.Context, signupToken, firstName, lastName, password string) (*AuthResult, error) {
	out := &AuthResult{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/complete-registration",
		Body: CompleteRegistrationRequest{
			SignupToken: signupToken,
			FirstName:   firstName,
			LastName:    lastName,
			Password:    password,
		},
		Out:    out,
		NoAuth: true,
		Silent: true,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.Set(out.Tokens); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetPassword submits the reset code together with the new password.
func (a *API) ResetPassword(ctx context.Context, phone, code, newPassword string) (*AuthResult, error) {
	out := &AuthResult{}
	_, err := a.client.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/reset-password",
		Body:   ResetPasswordRequest{Phone: phone, Code: code, NewPassword: newPassword, region: a.region},
		Out:    out,
		NoAuth: true,
		Silent: true,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.Set(out.Tokens); err != nil {
		return nil, err
	}
	return out, nil
}
