package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports a malformed or incomplete inbound request, such as
// a missing required header or a body that is not JSON.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// AuthError reports a failed signature or shared-secret check.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// ConfigError reports unresolvable configuration: an unknown job or trigger
// identity, or missing credentials. Configuration problems surface to the
// caller and are never silently defaulted.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RemoteAPIError carries a failure reported by the commerce platform, either
// a transport problem or user errors nested inside an otherwise successful
// response. It propagates with the platform's original message and is never
// retried by this layer.
type RemoteAPIError struct {
	Message string
	Err     error
}

func (e *RemoteAPIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// NotificationError wraps a failed best-effort notification. Callers log it
// and move on; it never escalates into run failure.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string { return "notification failed: " + e.Err.Error() }

func (e *NotificationError) Unwrap() error { return e.Err }

// HTTPStatus maps an error to the status code the gateway responds with.
// Typed errors decide first; anything else falls back to substring
// classification of the message, so failures that crossed a serialization
// boundary still land on the right code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		validation *ValidationError
		auth       *AuthError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"missing", "required", "malformed", "invalid json", "validation"} {
		if strings.Contains(msg, hint) {
			return http.StatusBadRequest
		}
	}
	for _, hint := range []string{"unauthorized", "signature", "secret", "hmac"} {
		if strings.Contains(msg, hint) {
			return http.StatusUnauthorized
		}
	}
	return http.StatusInternalServerError
}
