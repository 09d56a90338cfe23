package authkit

import (
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Envelope is the fixed wire-level wrapper every backend response conforms
// to. Inner payloads stay raw until the caller's schema decodes them.
type Envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error,omitempty"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	TookMS  float64         `json:"tookMs"`
}

// Validate runs the envelope shape rules that survive JSON decoding.
func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Code, validation.Min(0)),
		validation.Field(&e.TookMS, validation.Min(0.0)),
	)
}

// envelopeKeys are the members a response object must carry to count as an
// envelope at all. Absence is a contract break, not an application error.
var envelopeKeys = []string{"success", "code", "data"}

func decodeEnvelope(body []byte) (*Envelope, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, &ValidationError{Scope: "envelope", Err: err}
	}

	for _, key := range envelopeKeys {
		if _, ok := members[key]; !ok {
			return nil, &ValidationError{Scope: "envelope", Err: errMissingKey(key)}
		}
	}

	env := &Envelope{}
	if err := json.Unmarshal(body, env); err != nil {
		return nil, &ValidationError{Scope: "envelope", Err: err}
	}

	if err := env.Validate(); err != nil {
		return nil, &ValidationError{Scope: "envelope", Err: err}
	}

	return env, nil
}

type errMissingKey string

func (e errMissingKey) Error() string {
	return "missing envelope member: " + string(e)
}

// DecodeData unmarshals the envelope's inner payload into out and, when out
// is a schema-carrying payload, validates it. The caller keeps the envelope's
// success/message/meta fields untouched.
func (e *Envelope) DecodeData(out any) error {
	if out == nil {
		return nil
	}

	if len(e.Data) == 0 || string(e.Data) == "null" {
		return &ValidationError{Scope: "response", Err: errMissingKey("data")}
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		return &ValidationError{Scope: "response", Err: err}
	}

	if v, ok := out.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{Scope: "response", Err: err}
		}
	}

	return nil
}
