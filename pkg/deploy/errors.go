// Package deploy implements the provisioning saga that drives a game-server
// deployment across the external services: DNS, firewall port-forwarding,
// reverse proxy, and the hosting panel.
package deploy

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a deployment error for propagation and rollback logic.
type ErrorKind string

const (
	// ErrorKindValidation indicates bad input shape, caught before any
	// remote call is made. No deployment record exists for these.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindConflict indicates a pre-existing remote resource, e.g. a
	// DNS record already covering the requested subdomain. Requires a
	// caller decision (resubmit with overwrite) rather than a retry.
	ErrorKindConflict ErrorKind = "conflict"

	// ErrorKindAuth indicates credentials rejected by a service.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindUnreachable indicates a network failure or timeout.
	ErrorKindUnreachable ErrorKind = "unreachable"

	// ErrorKindRemoteRejected indicates the service was reachable but
	// refused the operation (quota, invalid reference id, bad payload).
	ErrorKindRemoteRejected ErrorKind = "remote_rejected"

	// ErrorKindNotFound indicates a missing remote resource. During
	// rollback a not-found delete is treated as success.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindCancelled indicates the caller cancelled between steps.
	// A cancelled deployment is resumable like any other failure.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// DeployError is a classified error carrying the service and operation
// context the caller needs to report a failure as structured data.
type DeployError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Service names the external service the error originated from
	// (e.g. "cloudflare", "unifi", "npm", "pterodactyl").
	Service string `json:"service,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode is the remote HTTP status, when one was received.
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	switch {
	case e.Service != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Service, e.Message, e.Err)
	case e.Service != "":
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Service, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is. Two DeployErrors match when
// their kinds match; service and message are context, not identity.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithService adds service context to an error.
func (e *DeployError) WithService(service string) *DeployError {
	e.Service = service
	return e
}

// WithOp adds operation context to an error.
func (e *DeployError) WithOp(op string) *DeployError {
	e.Op = op
	return e
}

// WithStatus records the remote HTTP status code.
func (e *DeployError) WithStatus(code int) *DeployError {
	e.StatusCode = code
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindValidation, Message: message, Err: err}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindConflict, Message: message, Err: err}
}

// NewAuthError creates an authentication error.
func NewAuthError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindAuth, Message: message, Err: err}
}

// NewUnreachableError creates a network/timeout error.
func NewUnreachableError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindUnreachable, Message: message, Err: err}
}

// NewRemoteRejectedError creates an error for an operation the remote
// service refused.
func NewRemoteRejectedError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindRemoteRejected, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindNotFound, Message: message, Err: err}
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(message string, err error) *DeployError {
	return &DeployError{Kind: ErrorKindCancelled, Message: message, Err: err}
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool { return hasKind(err, ErrorKindValidation) }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return hasKind(err, ErrorKindConflict) }

// IsAuth reports whether err is classified as an authentication failure.
func IsAuth(err error) bool { return hasKind(err, ErrorKindAuth) }

// IsUnreachable reports whether err is classified as unreachable.
func IsUnreachable(err error) bool { return hasKind(err, ErrorKindUnreachable) }

// IsRemoteRejected reports whether err is classified as remote-rejected.
func IsRemoteRejected(err error) bool { return hasKind(err, ErrorKindRemoteRejected) }

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return hasKind(err, ErrorKindNotFound) }

// IsCancelled reports whether err is classified as a cancellation.
func IsCancelled(err error) bool { return hasKind(err, ErrorKindCancelled) }

func hasKind(err error, kind ErrorKind) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Detail converts err into the structured form persisted on a step record.
// Unclassified errors are reported as remote_rejected with no service.
func Detail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var e *DeployError
	if errors.As(err, &e) {
		return &ErrorDetail{Service: e.Service, Kind: e.Kind, Message: e.Error()}
	}
	return &ErrorDetail{Kind: ErrorKindRemoteRejected, Message: err.Error()}
}
