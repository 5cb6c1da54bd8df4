package wire

import "fmt"

// Code is a domain error code as defined in the error handling design.
// Concurrency outcomes (a CAS miss) are never represented as a Code; they
// travel as an ok=false result, not an error.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeInvalidIDLength  Code = "invalid_id_length"
	CodeInvalidData      Code = "invalid_data"
	CodeUnsupported      Code = "unsupported"
	CodePermissionDenied Code = "permission_denied"
	CodeInternal         Code = "internal"
)

// Error is the structured envelope carried over the wire for domain
// failures. Transport/session errors never use this type; they surface as
// plain Go errors from the transport layer.
type Error struct {
	Code        Code
	Message     string
	Retriable   bool
	ObjectType  string
	Hash        string
	OpID        string
	ExpectedLen int
	ActualLen   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFound builds a not_found Error for the given object family and id.
func NotFound(objectType, id string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", objectType, id),
		Retriable:  false,
		ObjectType: objectType,
		Hash:       id,
	}
}

// InvalidIDLength builds an invalid_id_length Error.
func InvalidIDLength(objectType string, expected, actual int) *Error {
	return &Error{
		Code:        CodeInvalidIDLength,
		Message:     fmt.Sprintf("%s id must be %d hex characters, got %d", objectType, expected, actual),
		Retriable:   false,
		ObjectType:  objectType,
		ExpectedLen: expected,
		ActualLen:   actual,
	}
}

// InvalidData builds an invalid_data Error.
func InvalidData(objectType, reason string) *Error {
	return &Error{
		Code:       CodeInvalidData,
		Message:    fmt.Sprintf("invalid %s data: %s", objectType, reason),
		Retriable:  false,
		ObjectType: objectType,
	}
}

// Unsupported builds an unsupported Error for a capability-gated method.
func Unsupported(method string) *Error {
	return &Error{
		Code:      CodeUnsupported,
		Message:   fmt.Sprintf("%s is not supported by this server", method),
		Retriable: false,
	}
}

// Internal builds an internal Error, retriable when the underlying failure
// class is safe to retry (write idempotence makes most library I/O errors
// retriable).
func Internal(message string, retriable bool) *Error {
	return &Error{
		Code:      CodeInternal,
		Message:   message,
		Retriable: retriable,
	}
}
