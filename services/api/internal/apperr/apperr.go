package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error with a stable code and HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns an Error. Status defaults to 400.
func New(code, message string, status int) *Error {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &Error{Code: code, Message: message, Status: status}
}

// WithMessage returns a copy of e with a different message.
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries an application error with code.
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validation builds a VALIDATION_ERROR whose message names the first failure.
func Validation(fields ...FieldError) *Error {
	if len(fields) == 0 {
		return ErrValidation
	}
	msg := fields[0].Message
	if fields[0].Field != "" {
		msg = fields[0].Field + ": " + msg
	}
	return ErrValidation.WithMessage(msg).WithDetails(fields)
}
