package apperrors

import "strings"

type appError struct {
	msg     string
	base    *appError
	wrapped []error
	status  int
	reason  int
}

// New creates a new root error with the given message.
func New(msg string) Error {
	return &appError{msg: msg, reason: -1}
}

func (e *appError) Error() string {
	if len(e.wrapped) == 0 {
		return e.msg
	}
	parts := make([]string, 0, len(e.wrapped))
	for _, err := range e.wrapped {
		parts = append(parts, err.Error())
	}
	return e.msg + ": " + strings.Join(parts, "; ")
}

func (e *appError) clone() *appError {
	c := *e
	if len(e.wrapped) > 0 {
		c.wrapped = append([]error(nil), e.wrapped...)
	}
	return &c
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:    msg,
		base:   e,
		status: e.status,
		reason: e.reason,
	}
}

func (e *appError) Msg(msg string) Error {
	c := e.clone()
	c.msg = msg
	c.base = e
	return c
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	c := e.clone()
	c.msg = msg
	c.base = e
	c.wrapped = append(c.wrapped, errs...)
	return c
}

func (e *appError) Err(errs ...error) Error {
	c := e.clone()
	c.base = e
	c.wrapped = append(c.wrapped, errs...)
	return c
}

func (e *appError) Unwrap() []error {
	return e.wrapped
}

func (e *appError) Is(target error) bool {
	for b := e; b != nil; b = b.base {
		if error(b) == target {
			return true
		}
	}
	for _, err := range e.wrapped {
		if err == target {
			return true
		}
	}
	return false
}

func (e *appError) SetStatusCode(code int) Error {
	c := e.clone()
	c.base = e
	c.status = code
	return c
}

func (e *appError) StatusCode() int {
	return e.status
}

func (e *appError) SetReasonCode(code int) Error {
	c := e.clone()
	c.base = e
	c.reason = code
	return c
}

func (e *appError) ReasonCode() int {
	return e.reason
}
