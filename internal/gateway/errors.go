package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed delivery. Every failure leaving this package
// carries exactly one kind.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindNetwork        ErrorKind = "network"
	KindAPI            ErrorKind = "api"
	KindUnknown        ErrorKind = "unknown"
)

// Error is the single failure shape produced at the gateway boundary.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	// Hint is operator-facing remediation text. It never drives control flow.
	Hint string `json:"hint,omitempty"`
	Err  error  `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [http %d]", e.StatusCode)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could change the outcome.
// Validation failures are terminal.
func (e *Error) Retryable() bool {
	return e.Kind != KindValidation
}

// NewValidationError builds a terminal validation failure.
func NewValidationError(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: cause}
}

// AsError lifts any error into *Error. Errors that are not already classified
// become KindUnknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// codeKinds maps the gateway's business status codes onto error kinds. Codes
// absent from the table keep the kind derived from the HTTP exchange
// (KindAPI for a 2xx with return=false).
var codeKinds = map[string]ErrorKind{
	"401": KindAuthentication, // authorization key missing
	"412": KindAuthentication, // invalid authorization key
	"413": KindAuthentication, // account disabled or IP not allowed
	"429": KindRateLimit,
	"990": KindRateLimit, // per-account throttle
}

// codeHints is presentation only.
var codeHints = map[string]string{
	"407": "check sender ID configuration",
	"412": "check SMS_API_KEY",
	"416": "gateway wallet balance is insufficient",
	"424": "check DLT template (message) ID configuration",
	"425": "check DLT template variables against the approved template",
	"426": "check DLT entity ID configuration",
}

func kindForCode(code string, fallback ErrorKind) ErrorKind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return fallback
}

func hintForCode(code string) string {
	return codeHints[code]
}
