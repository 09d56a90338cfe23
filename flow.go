package authkit

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// FlowPhase names a credential-exchange state.
type FlowPhase string

const (
	PhaseIdentifier           FlowPhase = "IDENTIFIER"
	PhasePassword             FlowPhase = "PASSWORD"
	PhaseOTP                  FlowPhase = "OTP"
	PhaseOTPReset             FlowPhase = "OTP_RESET"
	PhaseCompleteRegistration FlowPhase = "COMPLETE_REGISTRATION"
)

// ErrInvalidFlowTransition is returned when an action does not belong to the
// current phase.
var ErrInvalidFlowTransition = goerrors.New("invalid login flow transition", goerrors.CategoryValidation).
	WithTextCode("INVALID_FLOW_TRANSITION").
	WithCode(goerrors.CodeBadRequest)

// ErrResendCooldown is returned when a resend is requested before the
// cooldown elapses.
var ErrResendCooldown = goerrors.New("wait before requesting another code", goerrors.CategoryRateLimit).
	WithTextCode("OTP_RESEND_COOLDOWN")

// FlowState is the sum type over phases; each variant carries only the
// fields that phase needs.
type FlowState interface {
	Phase() FlowPhase
}

type IdentifierState struct{}

func (IdentifierState) Phase() FlowPhase { return PhaseIdentifier }

type PasswordState struct {
	Phone string
}

func (PasswordState) Phase() FlowPhase { return PhasePassword }

type OTPState struct {
	Phone    string
	Purpose  string
	DevCode  string
	IssuedAt time.Time
}

func (OTPState) Phase() FlowPhase { return PhaseOTP }

// OTPResetState combines code entry and the new password in one step.
type OTPResetState struct {
	Phone    string
	DevCode  string
	IssuedAt time.Time
}

func (OTPResetState) Phase() FlowPhase { return PhaseOTPReset }

type CompleteRegistrationState struct {
	Phone       string
	SignupToken string
}

func (CompleteRegistrationState) Phase() FlowPhase { return PhaseCompleteRegistration }

// DefaultResendCooldown gates how often an OTP can be re-issued.
const DefaultResendCooldown = 90 * time.Second

// LoginFlow drives the credential exchange: identifier check, password
// login, OTP issuance and verification, combined reset, and registration
// completion. Server failures set the error text and never change phase, so
// the user retries in place. Terminal success stores tokens (inside API) and
// invokes the completion handler.
type LoginFlow struct {
	api            *API
	logger         Logger
	now            func() time.Time
	resendCooldown time.Duration
	onComplete     func(*AuthResult)
	transitions    map[FlowPhase]map[FlowPhase]struct{}

	mu      sync.Mutex
	state   FlowState
	pending bool
	done    bool
	errText string
}

type FlowOption func(*LoginFlow)

func WithFlowLogger(logger Logger) FlowOption {
	return func(f *LoginFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFlowClock injects a custom clock (useful for tests).
func WithFlowClock(clock func() time.Time) FlowOption {
	return func(f *LoginFlow) {
		if clock != nil {
			f.now = clock
		}
	}
}

func WithResendCooldown(d time.Duration) FlowOption {
	return func(f *LoginFlow) {
		if d >= 0 {
			f.resendCooldown = d
		}
	}
}

// WithCompletionHandler sets the callback invoked on terminal success, after
// tokens are stored. The caller navigates away; the flow is finished.
func WithCompletionHandler(fn func(*AuthResult)) FlowOption {
	return func(f *LoginFlow) {
		f.onComplete = fn
	}
}

func NewLoginFlow(api *API, opts ...FlowOption) *LoginFlow {
	f := &LoginFlow{
		api:            api,
		logger:         defLogger{},
		now:            time.Now,
		resendCooldown: DefaultResendCooldown,
		state:          IdentifierState{},
		transitions: map[FlowPhase]map[FlowPhase]struct{}{
			PhaseIdentifier: {
				PhasePassword: {},
				PhaseOTP:      {},
			},
			PhasePassword: {
				PhaseOTPReset:   {},
				PhaseIdentifier: {},
			},
			PhaseOTP: {
				PhaseCompleteRegistration: {},
				PhaseIdentifier:           {},
			},
			PhaseOTPReset: {
				PhasePassword: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f
}

// State returns the current variant.
func (f *LoginFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Phase returns the current phase tag.
func (f *LoginFlow) Phase() FlowPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Phase()
}

// Err returns the display error for the current phase, empty when none.
func (f *LoginFlow) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errText
}

// Loading reports whether any mutation is pending. At most one is, by
// construction.
func (f *LoginFlow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Completed reports whether the flow reached a terminal success.
func (f *LoginFlow) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// SubmitIdentifier checks the phone. Existing accounts move to PASSWORD;
// unknown ones get a login OTP issued and move to OTP.
func (f *LoginFlow) SubmitIdentifier(ctx context.Context, phone string) error {
	release, err := f.begin(PhaseIdentifier)
	if err != nil {
		return err
	}
	defer release()

	exists, err := f.api.CheckIdentifier(ctx, phone)
	if err != nil {
		return f.fail(err)
	}

	if exists {
		f.advance(PasswordState{Phone: phone})
		return nil
	}

	issued, err := f.api.RequestOTP(ctx, phone, OTPPurposeLogin)
	if err != nil {
		return f.fail(err)
	}

	f.advance(OTPState{
		Phone:    phone,
		Purpose:  OTPPurposeLogin,
		DevCode:  issued.DevCode,
		IssuedAt: f.now(),
	})
	return nil
}

// SubmitPassword attempts a password login. Success is terminal; failure
// stays on PASSWORD with the error rendered in place.
func (f *LoginFlow) SubmitPassword(ctx context.Context, password string) error {
	release, err := f.begin(PhasePassword)
	if err != nil {
		return err
	}
	defer release()

	state := f.State().(PasswordState)
	res, err := f.api.LoginWithPassword(ctx, state.Phone, password)
	if err != nil {
		return f.fail(err)
	}

	f.complete(res)
	return nil
}

// LoginWithCode switches from PASSWORD to the combined code+new-password
// branch. The issued OTP carries the PASSWORD_RESET purpose: choosing code
// login forces a password rotation.
func (f *LoginFlow) LoginWithCode(ctx context.Context) error {
	release, err := f.begin(PhasePassword)
	if err != nil {
		return err
	}
	defer release()

	state := f.State().(PasswordState)
	issued, err := f.api.RequestOTP(ctx, state.Phone, OTPPurposePasswordReset)
	if err != nil {
		return f.fail(err)
	}

	f.advance(OTPResetState{
		Phone:    state.Phone,
		DevCode:  issued.DevCode,
		IssuedAt: f.now(),
	})
	return nil
}

// VerifyCode submits the OTP. The server decides the outcome: LOGIN is
// terminal, SIGNUP stores the signup token and moves to registration
// completion.
func (f *LoginFlow) VerifyCode(ctx context.Context, code string) error {
	release, err := f.begin(PhaseOTP)
	if err != nil {
		return err
	}
	defer release()

	state := f.State().(OTPState)
	res, err := f.api.VerifyOTP(ctx, state.Phone, state.Purpose, code)
	if err != nil {
		return f.fail(err)
	}

	if res.Mode == VerifyModeSignup {
		f.advance(CompleteRegistrationState{
			Phone:       state.Phone,
			SignupToken: res.SignupToken,
		})
		return nil
	}

	f.complete(&AuthResult{User: res.User, Tokens: *res.Tokens})
	return nil
}

// SubmitReset sends the reset code together with the new password. Success
// is terminal.
func (f *LoginFlow) SubmitReset(ctx context.Context, code, newPassword string) error {
	release, err := f.begin(PhaseOTPReset)
	if err != nil {
		return err
	}
	defer release()

	state := f.State().(OTPResetState)
	res, err := f.api.ResetPassword(ctx, state.Phone, code, newPassword)
	if err != nil {
		return f.fail(err)
	}

	f.complete(res)
	return nil
}

// CompleteRegistration finishes signup with profile and password. Success is
// terminal.
func (f *LoginFlow) CompleteRegistration(ctx context.Context, firstName, lastName, password string) error {
	release, err := f.begin(PhaseCompleteRegistration)
	if err != nil {
		return err
	}
	defer release()

	state := f.State().(CompleteRegistrationState)
	res, err := f.api.CompleteRegistration(ctx, state.SignupToken, firstName, lastName, password)
	if err != nil {
		return f.fail(err)
	}

	f.complete(res)
	return nil
}

// ResendCode re-issues the OTP for the current code-entry phase without
// changing it, and restarts the cooldown.
func (f *LoginFlow) ResendCode(ctx context.Context) error {
	release, err := f.begin(PhaseOTP, PhaseOTPReset)
	if err != nil {
		return err
	}
	defer release()

	switch state := f.State().(type) {
	case OTPState:
		if f.inCooldown(state.IssuedAt) {
			return f.fail(ErrResendCooldown)
		}
		issued, err := f.api.RequestOTP(ctx, state.Phone, state.Purpose)
		if err != nil {
			return f.fail(err)
		}
		state.DevCode = issued.DevCode
		state.IssuedAt = f.now()
		f.replace(state)
	case OTPResetState:
		if f.inCooldown(state.IssuedAt) {
			return f.fail(ErrResendCooldown)
		}
		issued, err := f.api.RequestOTP(ctx, state.Phone, OTPPurposePasswordReset)
		if err != nil {
			return f.fail(err)
		}
		state.DevCode = issued.DevCode
		state.IssuedAt = f.now()
		f.replace(state)
	}
	return nil
}

// Back returns to the previous entry point: PASSWORD and OTP go back to the
// identifier, the reset branch back to PASSWORD. Registration completion has
// no way back; its signup token is single use.
func (f *LoginFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending || f.done {
		return ErrMutationPending
	}

	switch state := f.state.(type) {
	case PasswordState, OTPState:
		f.state = IdentifierState{}
	case OTPResetState:
		f.state = PasswordState{Phone: state.Phone}
	default:
		return ErrInvalidFlowTransition.WithMetadata(map[string]any{
			"phase": string(f.state.Phase()),
		})
	}

	f.errText = ""
	return nil
}

func (f *LoginFlow) begin(phases ...FlowPhase) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return nil, ErrInvalidFlowTransition.WithMetadata(map[string]any{
			"reason": "flow already completed",
		})
	}
	if f.pending {
		return nil, ErrMutationPending
	}

	current := f.state.Phase()
	allowed := false
	for _, phase := range phases {
		if phase == current {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidFlowTransition.WithMetadata(map[string]any{
			"phase": string(current),
		})
	}

	f.pending = true
	f.errText = ""

	return func() {
		f.mu.Lock()
		f.pending = false
		f.mu.Unlock()
	}, nil
}

func (f *LoginFlow) fail(err error) error {
	if IsCancellation(err) {
		return err
	}

	f.mu.Lock()
	f.errText = HumanMessage(err)
	f.mu.Unlock()

	f.logger.Debug("login flow action failed", "error", err)
	return err
}

func (f *LoginFlow) advance(next FlowState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state.Phase()
	if allowed, ok := f.transitions[from]; ok {
		if _, ok := allowed[next.Phase()]; ok {
			f.state = next
			return
		}
	}

	// Unreachable through the public actions; loud in case a new action
	// forgets to extend the table.
	f.logger.Error("login flow blocked transition", "from", from, "to", next.Phase())
}

// replace swaps the current variant's data without a phase change (resend).
func (f *LoginFlow) replace(state FlowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Phase() == state.Phase() {
		f.state = state
	}
}

func (f *LoginFlow) complete(res *AuthResult) {
	f.mu.Lock()
	f.done = true
	f.errText = ""
	f.mu.Unlock()

	if f.onComplete != nil {
		f.onComplete(res)
	}
}

func (f *LoginFlow) inCooldown(issuedAt time.Time) bool {
	if issuedAt.IsZero() || f.resendCooldown == 0 {
		return false
	}
	return f.now().Before(issuedAt.Add(f.resendCooldown))
}
