package wire

import (
	"reflect"

	"github.com/danmuck/contractrpc/internal/status"
)

// Result is the outcome of an operation that reports status instead of
// returning an error. The zero value is a successful result.
type Result struct {
	Status  status.Code
	Message string
}

// OK returns a successful Result.
func OK() Result {
	return Result{Status: status.OK}
}

// Fail builds a failed Result from an error using the status mapping.
func Fail(err error) Result {
	code, msg := status.FromError(err)
	return Result{Status: code, Message: msg}
}

func (r Result) Succeeded() bool {
	return r.Status == status.OK || r.Status == 0
}

// Err converts a failed Result back into a *status.Error.
func (r Result) Err() error {
	if r.Succeeded() {
		return nil
	}
	return status.NewError(r.Status, r.Message)
}

func (r Result) isOK() bool {
	return (r.Status == status.OK || r.Status == 0) && r.Message == ""
}

// ResultOf is a Result carrying a payload.
type ResultOf[T any] struct {
	Result
	Value T
}

// Succeed wraps v in a successful ResultOf.
func Succeed[T any](v T) ResultOf[T] {
	return ResultOf[T]{Result: OK(), Value: v}
}

// FailOf builds a failed ResultOf with a zero payload.
func FailOf[T any](err error) ResultOf[T] {
	return ResultOf[T]{Result: Fail(err)}
}

func (ResultOf[T]) payloadType() reflect.Type { return reflect.TypeFor[T]() }

// resultOfType is implemented only by ResultOf instantiations.
type resultOfType interface {
	payloadType() reflect.Type
}

var (
	typeResult       = reflect.TypeFor[Result]()
	typeResultOfIntf = reflect.TypeFor[resultOfType]()
	typeResultOfAny  = reflect.TypeFor[ResultOf[any]]()
)

func isResultOf(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.Implements(typeResultOfIntf)
}

// ResultPayload returns the payload type of a ResultOf type.
func ResultPayload(t reflect.Type) (reflect.Type, bool) {
	if !isResultOf(t) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(resultOfType).payloadType(), true
}

// IsResultType reports whether t is Result or a ResultOf instantiation.
func IsResultType(t reflect.Type) bool {
	return t == typeResult || isResultOf(t)
}

// NewResultValue builds a zero value of a Result or ResultOf type with the
// given status and message.
func NewResultValue(t reflect.Type, code status.Code, msg string) reflect.Value {
	v := reflect.New(t).Elem()
	r := reflect.ValueOf(Result{Status: code, Message: msg})
	if t == typeResult {
		v.Set(r)
		return v
	}
	v.FieldByName("Result").Set(r)
	return v
}

// dbNull marks a database null, distinct from Go nil.
type dbNull struct{}

// DBNull is the database-null marker value.
var DBNull any = dbNull{}

var typeDBNull = reflect.TypeFor[dbNull]()
