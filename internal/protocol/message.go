package protocol

import (
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
)

// Message types carried in the frame header.
const (
	MessageRequest  uint32 = 1
	MessageResponse uint32 = 2
)

// File is an attachment travelling with a request or response.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ContractRequest is one method invocation. Method is the identity assigned
// by contract metadata; MethodName is diagnostic only. By-ref parameters
// travel as their pointee.
type ContractRequest struct {
	ID         uint64
	Contract   string
	Method     int
	MethodName string
	Params     []any
	Session    string
	Headers    *wire.FoldMap
	Files      []File
}

// ContractResponse answers the request with the same ID. Results[0] is the
// return value (nil for methods without one), Results[1:] are by-ref outputs
// in parameter order.
type ContractResponse struct {
	ID      uint64
	Status  status.Code
	Message string
	Results []any
	Session string
	Headers *wire.FoldMap
	Files   []File
}

// NewResponse starts a successful response correlated with req.
func NewResponse(req *ContractRequest) *ContractResponse {
	return &ContractResponse{
		ID:      req.ID,
		Status:  status.OK,
		Session: req.Session,
	}
}

// Fail records err as the response outcome and drops partial results.
func (r *ContractResponse) Fail(err error) *ContractResponse {
	r.Status, r.Message = status.FromError(err)
	r.Results = nil
	return r
}

// Err maps a non-OK status to a *status.Error.
func (r *ContractResponse) Err() error {
	if r.Status == 0 {
		return nil
	}
	return status.NewError(r.Status, r.Message)
}

// Value returns the return value slot, or nil.
func (r *ContractResponse) Value() any {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[0]
}

// RegisterTypes makes the envelope types resolvable by reg.
func RegisterTypes(reg *wire.TypeRegistry) error {
	return reg.Register(&ContractRequest{}, &ContractResponse{}, File{})
}

func init() {
	if err := RegisterTypes(wire.DefaultRegistry); err != nil {
		panic(err)
	}
}
