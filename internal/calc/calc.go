// Package calc is a small contract used by the binaries and the end-to-end
// tests: arithmetic with by-ref outputs, Result returns, sessions and file
// attachments.
package calc

import (
	"context"
	"errors"
	"reflect"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/wire"
)

// Stats summarizes a series.
type Stats struct {
	Count int
	Sum   float64
	Mean  float64
	Min   float64
	Max   float64
}

// Calculator is the sample contract.
type Calculator interface {
	Add(a, b int) int
	Divide(a, b int, remainder *int) (int, error)
	Echo(text string) wire.ResultOf[string]
	Login(ctx context.Context, user, password string) wire.Result
	Ping()
	Stats(values []float64) wire.ResultOf[Stats]
	Upload(ctx context.Context, label string) (int, error)
	Whoami(ctx context.Context) string
}

// Method identities, in the order contract metadata assigns them.
const (
	MethodAdd = iota
	MethodDivide
	MethodEcho
	MethodLogin
	MethodPing
	MethodStats
	MethodUpload
	MethodWhoami
)

const Name = "Calculator"

var ErrDivideByZero = errors.New("calc: divide by zero")

// SpecWith returns the contract spec. filters guard the methods that need a
// signed-in session.
func SpecWith(filters ...contract.Filter) contract.Spec {
	return contract.Spec{
		Name:           Name,
		AllowAnonymous: true,
		Methods: map[string]contract.MethodSpec{
			"Add":    {Params: []string{"a", "b"}},
			"Divide": {Params: []string{"a", "b", "remainder"}, Rules: map[string]contract.Rule{"b": {Validators: []func(any) error{nonZero}}}},
			"Echo":   {Params: []string{"text"}},
			"Login":  {Params: []string{"user", "password"}, Rules: map[string]contract.Rule{"user": {Validators: []func(any) error{notBlank}}}},
			"Stats":  {Params: []string{"values"}, Rules: map[string]contract.Rule{"values": {Required: true, Message: "%s must not be empty"}}},
			"Upload": {Params: []string{"label"}, AllowAnonymous: contract.Bool(false), Filters: filters},
			"Whoami": {AllowAnonymous: contract.Bool(false), Filters: filters},
		},
	}
}

// Define records the spec for Calculator in r. Redefining after the Info
// was built is not an error.
func Define(r *contract.Registry, filters ...contract.Filter) (*contract.Info, error) {
	err := r.Define(reflect.TypeFor[Calculator](), SpecWith(filters...))
	if err != nil && !errors.Is(err, contract.ErrAlreadyBuilt) {
		return nil, err
	}
	return contract.InfoOf[Calculator](r)
}

func nonZero(v any) error {
	if n, ok := v.(int); ok && n == 0 {
		return ErrDivideByZero
	}
	return nil
}

func notBlank(v any) error {
	if s, _ := v.(string); s == "" {
		return errors.New("must not be blank")
	}
	return nil
}
