// Package status owns the closed set of call outcome codes exchanged
// between peers and their mapping to Go errors and HTTP status codes.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the outcome category of one contract call.
type Code int32

const (
	OK                  Code = 200
	BadRequest          Code = 400
	Unauthorized        Code = 401
	NotFound            Code = 404
	InternalServerError Code = 500
)

var (
	ErrBadRequest   = errors.New("status: bad request")
	ErrUnauthorized = errors.New("status: unauthorized")
	ErrNotFound     = errors.New("status: not found")
	ErrInternal     = errors.New("status: internal server error")
)

var kinds = map[Code]error{
	BadRequest:          ErrBadRequest,
	Unauthorized:        ErrUnauthorized,
	NotFound:            ErrNotFound,
	InternalServerError: ErrInternal,
}

// All returns every defined code in ascending order.
func All() []Code {
	return []Code{OK, BadRequest, Unauthorized, NotFound, InternalServerError}
}

// Valid reports whether c is one of the defined codes.
func (c Code) Valid() bool {
	if c == OK {
		return true
	}
	_, ok := kinds[c]
	return ok
}

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case BadRequest:
		return "BadRequest"
	case Unauthorized:
		return "Unauthorized"
	case NotFound:
		return "NotFound"
	case InternalServerError:
		return "InternalServerError"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// HTTP returns the HTTP status code carrying c.
func (c Code) HTTP() int {
	switch c {
	case OK:
		return http.StatusOK
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTP maps an HTTP status code back to a Code. ok is false for codes
// outside the defined set.
func FromHTTP(httpStatus int) (Code, bool) {
	c := Code(httpStatus)
	return c, c.Valid()
}

// Kind returns the sentinel error for c, nil for OK.
func (c Code) Kind() error {
	return kinds[c]
}

// Error is a non-OK call outcome with the peer's message.
type Error struct {
	Code    Code
	Message string
}

// NewError builds the error for code. Codes outside the defined set
// collapse to InternalServerError; OK yields nil.
func NewError(code Code, message string) error {
	if code == OK {
		return nil
	}
	if !code.Valid() {
		code = InternalServerError
	}
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status: %s", e.Code)
	}
	return fmt.Sprintf("status: %s: %s", e.Code, e.Message)
}

// Is matches the sentinel for the error's code.
func (e *Error) Is(target error) bool {
	kind := e.Code.Kind()
	return kind != nil && kind == target
}

// FromError maps err back to a code and message. Errors that carry no code
// are InternalServerError; errors wrapping a sentinel take its code.
func FromError(err error) (Code, string) {
	if err == nil {
		return OK, ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code, se.Message
	}
	for code, kind := range kinds {
		if errors.Is(err, kind) {
			return code, err.Error()
		}
	}
	return InternalServerError, err.Error()
}

// CodeOf returns the code of err, OK for nil.
func CodeOf(err error) Code {
	code, _ := FromError(err)
	return code
}
