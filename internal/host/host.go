// Package host is the receiving side of contract calls. It maps a request to
// a registered implementation, runs the method's filters, invokes it and
// packs return value and by-ref outputs into the response. Servers for
// framed TCP, websocket and HTTP share the same dispatch path.
package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/observability"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotImplemented = errors.New("host: implementation does not satisfy contract")
	ErrDuplicate      = errors.New("host: contract already registered")
	ErrRateLimited    = errors.New("host: rate limit exceeded")
)

// Transport labels used in metrics and logs.
const (
	TransportDirect    = "direct"
	TransportSocket    = "socket"
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
)

type service struct {
	info *contract.Info
	impl reflect.Value
}

// Host dispatches requests to registered contract implementations.
type Host struct {
	name      string
	contracts *contract.Registry
	codec     *wire.Codec
	limiter   *limiter
	bufSize   int
	started   time.Time

	mu       sync.RWMutex
	services map[string]*service
}

type Option func(*Host)

// WithName labels metrics and the health endpoint.
func WithName(name string) Option {
	return func(h *Host) { h.name = name }
}

// WithContracts sets the registry used by Register[T] and the codec types.
func WithContracts(r *contract.Registry) Option {
	return func(h *Host) {
		if r != nil {
			h.contracts = r
		}
	}
}

// WithBufferSize sizes the per-connection read and write buffers of the
// socket and websocket servers.
func WithBufferSize(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithCodec overrides the codec built from the contract registry.
func WithCodec(c *wire.Codec) Option {
	return func(h *Host) { h.codec = c }
}

func New(opts ...Option) *Host {
	h := &Host{
		name:      "contractd",
		contracts: contract.Default,
		bufSize:   4096,
		started:   time.Now(),
		services:  make(map[string]*service),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.codec == nil {
		h.codec = wire.NewCodec(wire.WithRegistry(h.contracts.Types()))
	}
	return h
}

func (h *Host) Name() string { return h.name }

func (h *Host) Codec() *wire.Codec { return h.codec }

// Register exposes impl under info.Name. impl must implement info.Type.
func (h *Host) Register(info *contract.Info, impl any) error {
	rv := reflect.ValueOf(impl)
	if !rv.IsValid() || !rv.Type().Implements(info.Type) {
		return fmt.Errorf("%w: %T for %s", ErrNotImplemented, impl, info.Name)
	}
	key := strings.ToLower(info.Name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.services[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, info.Name)
	}
	h.services[key] = &service{info: info, impl: rv}
	log.Info().Str("host", h.name).Str("contract", info.Name).Int("methods", len(info.Methods)).Msg("contract registered")
	return nil
}

// Register builds the Info of T from the host registry and registers impl.
func Register[T any](h *Host, impl T) error {
	info, err := contract.InfoOf[T](h.contracts)
	if err != nil {
		return err
	}
	return h.Register(info, impl)
}

func (h *Host) lookup(name string) (*service, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.services[strings.ToLower(name)]
	return s, ok
}

// Services returns registered contracts sorted by name.
func (h *Host) Services() []*contract.Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*contract.Info, 0, len(h.services))
	for _, s := range h.services {
		out = append(out, s.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs req to completion. It never returns nil; failures are
// carried in the response status.
func (h *Host) Dispatch(ctx context.Context, req *protocol.ContractRequest) *protocol.ContractResponse {
	return h.serve(ctx, TransportDirect, "", req)
}

func (h *Host) serve(ctx context.Context, transport, remote string, req *protocol.ContractRequest) *protocol.ContractResponse {
	start := time.Now()
	method := req.MethodName
	resp := h.dispatch(ctx, remote, req, &method)
	observability.RecordHostRequest(transport, req.Contract, method, int(resp.Status), time.Since(start))
	if resp.Status != status.OK {
		log.Debug().
			Str("transport", transport).
			Str("contract", req.Contract).
			Str("method", method).
			Int("status", int(resp.Status)).
			Str("message", resp.Message).
			Msg("call failed")
	}
	return resp
}

func (h *Host) dispatch(ctx context.Context, remote string, req *protocol.ContractRequest, method *string) *protocol.ContractResponse {
	resp := protocol.NewResponse(req)
	if remote != "" && !h.limiter.allow(remote) {
		return resp.Fail(status.NewError(status.BadRequest, ErrRateLimited.Error()))
	}

	svc, ok := h.lookup(req.Contract)
	if !ok {
		return resp.Fail(status.NewError(status.NotFound, "unknown contract "+req.Contract))
	}
	m, ok := svc.info.Method(req.Method)
	if !ok {
		return resp.Fail(status.NewError(status.NotFound, fmt.Sprintf("%s has no method #%d", svc.info.Name, req.Method)))
	}
	*method = m.Name
	if !m.AllowAnonymous && req.Session == "" {
		return resp.Fail(status.NewError(status.Unauthorized, m.String()+" requires a session"))
	}

	args, err := convertArgs(m, req.Params)
	if err != nil {
		return resp.Fail(err)
	}
	plain := make([]any, len(args))
	for i, a := range args {
		plain[i] = a.Interface()
	}
	if err := m.Validate(plain); err != nil {
		return resp.Fail(err)
	}

	cs := newCallState(req)
	ctx = withCall(ctx, cs)
	call := &contract.Call{Context: ctx, Info: svc.info, Method: m, Args: plain, Session: req.Session}
	var results []any
	err = m.RunFilters(call, func() error {
		var err error
		results, err = invoke(ctx, svc.impl, m, args)
		return err
	})
	if err != nil {
		return resp.Fail(err)
	}
	resp.Results = results
	resp.Session, resp.Headers, resp.Files = cs.outcome()
	return resp
}

// convertArgs coerces decoded params into the parameter types. By-ref
// params become fresh pointers holding the sent value.
func convertArgs(m *contract.Method, params []any) ([]reflect.Value, error) {
	if len(params) != len(m.Params) {
		return nil, status.NewError(status.BadRequest,
			fmt.Sprintf("%s expects %d params, got %d", m, len(m.Params), len(params)))
	}
	args := make([]reflect.Value, len(params))
	for i, p := range m.Params {
		v, err := wire.Convert(params[i], p.WireType())
		if err != nil {
			return nil, status.NewError(status.BadRequest, fmt.Sprintf("%s param %s: %v", m, p.Name, err))
		}
		if p.ByRef {
			ptr := reflect.New(p.WireType())
			ptr.Elem().Set(v)
			v = ptr
		}
		args[i] = v
	}
	return args, nil
}

// invoke calls the method and collects [return, by-ref outputs...]. A
// panic becomes InternalServerError.
func invoke(ctx context.Context, impl reflect.Value, m *contract.Method, args []reflect.Value) (results []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", m.String()).Interface("panic", r).Msg("contract method panicked")
			results = nil
			err = status.NewError(status.InternalServerError, fmt.Sprintf("panic: %v", r))
		}
	}()

	in := make([]reflect.Value, 0, len(args)+1)
	if m.TakesContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)
	out := impl.MethodByName(m.Name).Call(in)

	if m.ReturnsError {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	results = make([]any, 1, 1+len(m.ByRef()))
	if m.Return != nil {
		results[0] = out[0].Interface()
	}
	for _, pos := range m.ByRef() {
		results = append(results, args[pos].Elem().Interface())
	}
	return results, nil
}
