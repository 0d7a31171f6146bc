// Package apperrors provides chainable error values for the zhmc client.
//
// Errors form a hierarchy: a derived error (created with New) matches its
// base via errors.Is, so callers can test against broad sentinels while the
// library attaches specific messages, HTTP status codes and HMC reason
// codes at the point of failure.
package apperrors

// Error is the error type used throughout the client library.
// All derivation methods return a new value; package-level sentinels are
// never mutated.
type Error interface {
	error

	// New derives a child error with the given message. The child matches
	// its ancestors via Is.
	New(msg string) Error

	// Msg returns a copy of this error with the message replaced.
	Msg(msg string) Error

	// MsgErr returns a copy with the message replaced and the given errors
	// attached as wrapped causes.
	MsgErr(msg string, errs ...error) Error

	// Err returns a copy with the given errors attached as wrapped causes.
	Err(errs ...error) Error

	Unwrap() []error
	Is(target error) bool

	// SetStatusCode returns a copy carrying the given HTTP status code.
	SetStatusCode(code int) Error
	StatusCode() int

	// SetReasonCode returns a copy carrying the given HMC reason code.
	// Reason codes qualify an HTTP status; -1 means no reason code.
	SetReasonCode(code int) Error
	ReasonCode() int
}
