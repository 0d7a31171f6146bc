package zhmc

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zhmcclient/zhmc-go/pkg/apperrors"
)

// Error taxonomy of the client library. All errors derive from ErrClient so
// callers can match broadly with errors.Is, or narrowly against the specific
// sentinel.
var (
	ErrClient apperrors.Error = apperrors.New("zhmc client error")

	// ErrNotFound is returned when a find matches nothing, or when a
	// resource no longer exists on the HMC.
	ErrNotFound apperrors.Error = ErrClient.New("resource not found").SetStatusCode(http.StatusNotFound)

	// ErrCeased is returned for operations on a resource that has been
	// deleted or reported removed by an inventory notification.
	ErrCeased apperrors.Error = ErrNotFound.New("resource has ceased to exist")

	// ErrNoUniqueMatch is returned when a find matches more than one
	// resource.
	ErrNoUniqueMatch apperrors.Error = ErrClient.New("filter matched more than one resource")

	// ErrInvalidFilter is returned when a string filter value is not a
	// compilable regular expression.
	ErrInvalidFilter apperrors.Error = ErrClient.New("invalid filter expression").SetStatusCode(http.StatusBadRequest)

	ErrConnection apperrors.Error = ErrClient.New("connection to HMC failed")
	ErrAuth       apperrors.Error = ErrClient.New("authentication failed").SetStatusCode(http.StatusForbidden)
	ErrHTTP       apperrors.Error = ErrClient.New("HMC operation failed")
	ErrParse      apperrors.Error = ErrClient.New("cannot parse HMC response")

	// ErrOperationTimeout is returned when a polled asynchronous job does
	// not complete within the configured timeout.
	ErrOperationTimeout apperrors.Error = ErrClient.New("operation timed out")

	// ErrStatusTimeout is returned when a resource does not reach a desired
	// status within the configured timeout.
	ErrStatusTimeout apperrors.Error = ErrClient.New("desired status not reached in time")
)

// Notification layer errors. The blocking receive loop raises these and
// never retries by itself; reconnecting is the caller's responsibility.
var (
	ErrReceiverClosed    apperrors.Error = ErrClient.New("notification receiver is closed")
	ErrConnectionLost    apperrors.Error = ErrClient.New("notification connection lost")
	ErrSubscription      apperrors.Error = ErrClient.New("notification subscription failed")
	ErrNotificationParse apperrors.Error = ErrClient.New("cannot parse notification message")
)

// asAppError extracts the apperrors.Error from an error chain, if any.
func asAppError(err error) (apperrors.Error, bool) {
	var ae apperrors.Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// httpError builds an ErrHTTP-derived error carrying the HTTP status and
// HMC reason code of an error response.
func httpError(status, reason int, msg string) apperrors.Error {
	return ErrHTTP.Msg(fmt.Sprintf("HTTP %d reason %d: %s", status, reason, msg)).
		SetStatusCode(status).SetReasonCode(reason)
}

// JobTimeoutError reports that an asynchronous job did not complete within
// the operation timeout. It carries the last observed job status so callers
// can decide whether to keep waiting or give up.
type JobTimeoutError struct {
	JobURI     string
	LastStatus string
	Timeout    time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s did not complete within %s (last status %q)",
		e.JobURI, e.Timeout, e.LastStatus)
}

func (e *JobTimeoutError) Is(target error) bool {
	return target == ErrOperationTimeout || target == ErrClient
}

// StatusTimeoutError reports that a resource did not reach the desired
// status within the timeout. It carries the last observed status.
type StatusTimeoutError struct {
	URI           string
	DesiredStatus string
	LastStatus    string
	Timeout       time.Duration
}

func (e *StatusTimeoutError) Error() string {
	return fmt.Sprintf("resource %s did not reach status %q within %s (last status %q)",
		e.URI, e.DesiredStatus, e.Timeout, e.LastStatus)
}

func (e *StatusTimeoutError) Is(target error) bool {
	return target == ErrStatusTimeout || target == ErrClient
}
