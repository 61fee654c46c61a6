// Package auth checks credentials for contract services that issue
// sessions.
//
// It holds no sessions itself; callers decide what a successful check
// grants.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/danmuck/contractrpc/internal/status"
)

// ErrUnauthorized matches status.ErrUnauthorized, so a failed check maps
// to an Unauthorized contract response.
var ErrUnauthorized = fmt.Errorf("auth: %w", status.ErrUnauthorized)

var errEmptySecret = errors.New("empty secret")

// Validator checks a user's secret.
type Validator interface {
	Validate(user, secret string) error
}

// Users is a fixed user to password table. It is intended only for
// development and demos.
type Users map[string]string

func (u Users) Validate(user, secret string) error {
	want, ok := u[user]
	if !ok || want == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(user, secret string) error

func (f FuncValidator) Validate(user, secret string) error {
	return f(user, secret)
}

// Token accepts any user presenting one shared secret.
type Token string

func (t Token) Validate(_, secret string) error {
	if t == "" {
		return fmt.Errorf("%w: %v", ErrUnauthorized, errEmptySecret)
	}
	if subtle.ConstantTimeCompare([]byte(t), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
