package authkit

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeRequestInvalid  = "REQUEST_SCHEMA_INVALID"
	textCodeEnvelopeInvalid = "ENVELOPE_INVALID"
	textCodePayloadInvalid  = "PAYLOAD_SCHEMA_INVALID"
	textCodeRefreshFailed   = "REFRESH_FAILED"
)

// ErrNoTokens is returned when an operation needs a stored token pair and
// none is present.
var ErrNoTokens = goerrors.New("no session tokens available", goerrors.CategoryAuth).
	WithTextCode("NO_TOKENS").
	WithCode(goerrors.CodeUnauthorized)

// ErrMutationPending is returned when a flow action is triggered while a
// previous one is still in flight. The UI gates one action per phase; this
// guard keeps the invariant when it does not.
var ErrMutationPending = goerrors.New("another action is already in progress", goerrors.CategoryConflict).
	WithTextCode("MUTATION_PENDING").
	WithCode(goerrors.CodeConflict)

// ValidationError reports a schema failure: the outgoing body, the response
// envelope, or the inner payload. It is never retried; it indicates a
// contract bug or a client/backend version mismatch.
type ValidationError struct {
	Scope string // request, envelope, response
	Err   error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s validation failed: %v", e.Scope, e.Err)
	}
	return fmt.Sprintf("%s validation failed", e.Scope)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ValidationError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{"scope": e.Scope}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	return meta
}

// NetworkError reports a transport failure: no HTTP response was received.
// Cancellations are never wrapped into a NetworkError.
type NetworkError struct {
	Method    string
	URL       string
	RequestID string
	Err       error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *NetworkError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{
		"method": e.Method,
		"url":    e.URL,
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	return meta
}

// APIError is a non-2xx HTTP response carrying the server's envelope fields.
type APIError struct {
	Status    int
	Code      int
	Message   string
	RequestID string
	Details   map[string]any
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

func (e *APIError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{"status": e.Status}
	if e.Code != 0 {
		meta["code"] = e.Code
	}
	if e.Message != "" {
		meta["message"] = e.Message
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	for k, v := range e.Details {
		meta[k] = v
	}
	return meta
}

// IsUnauthorized reports whether err is an APIError with a 401 status.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 401
	}
	return false
}

// IsCancellation reports whether err originated from an aborted context.
// Cancellations pass through the pipeline undecorated so callers can tell
// "canceled" from "failed".
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsValidation reports whether err is a schema ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// serverMessages maps backend error codes to display strings. Unknown codes
// fall back to the raw server message.
var serverMessages = map[int]string{
	1001: "Incorrect phone number or password.",
	1002: "The code you entered is not valid.",
	1003: "That code has expired. Request a new one.",
	1004: "An account with this phone number already exists.",
	1005: "Your registration session has expired. Start over.",
	1006: "Password does not meet the minimum requirements.",
	1007: "Too many attempts. Wait a moment and try again.",
	1008: "Your session has ended. Sign in again.",
}

// HumanMessage maps any pipeline error to a display string.
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}

	if IsCancellation(err) {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg, ok := serverMessages[apiErr.Code]; ok {
			return msg
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Something went wrong. Try again."
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Could not reach the server. Check your connection."
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		if valErr.Scope == "request" && valErr.Err != nil {
			return valErr.Err.Error()
		}
		return "Unexpected response from the server."
	}

	return err.Error()
}
