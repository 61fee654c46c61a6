package host

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/danmuck/contractrpc/internal/wire"
)

type greeter interface {
	Boom() int
	Greet(ctx context.Context, name string) (string, error)
	Secret() string
	Swap(a, b *string)
}

type greeterImpl struct{}

func (greeterImpl) Boom() int { panic("kaboom") }

func (greeterImpl) Greet(ctx context.Context, name string) (string, error) {
	switch name {
	case "ghost":
		return "", status.NewError(status.NotFound, "no such person")
	case "err":
		return "", errors.New("plain failure")
	}
	tone, _ := Header(ctx, "tone")
	SetHeader(ctx, "Greeted", name)
	SetSession(ctx, Session(ctx)+"+"+name)
	return tone + " hello " + name, nil
}

func (greeterImpl) Secret() string { return "42" }

func (greeterImpl) Swap(a, b *string) { *a, *b = *b, *a }

func newGreeterHost(t *testing.T, spec contract.Spec, opts ...Option) *Host {
	t.Helper()
	contracts := contract.NewRegistry(wire.NewTypeRegistry())
	if err := contracts.Define(reflect.TypeFor[greeter](), spec); err != nil {
		t.Fatalf("define: %v", err)
	}
	h := New(append([]Option{WithContracts(contracts)}, opts...)...)
	if err := Register[greeter](h, greeterImpl{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h
}

var greeterSpec = contract.Spec{
	Name:           "Greeter",
	AllowAnonymous: true,
	Methods: map[string]contract.MethodSpec{
		"Greet":  {Params: []string{"name"}},
		"Secret": {AllowAnonymous: contract.Bool(false)},
		"Swap":   {Params: []string{"a", "b"}},
	},
}

func request(method int, session string, params ...any) *protocol.ContractRequest {
	return &protocol.ContractRequest{ID: 1, Contract: "greeter", Method: method, Session: session, Params: params}
}

const (
	idBoom = iota
	idGreet
	idSecret
	idSwap
)

func TestDispatchLookupFailures(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	resp := h.Dispatch(context.Background(), &protocol.ContractRequest{Contract: "Nope"})
	if resp.Status != status.NotFound {
		t.Fatalf("unknown contract = %+v", resp)
	}
	resp = h.Dispatch(context.Background(), request(99, ""))
	if resp.Status != status.NotFound {
		t.Fatalf("unknown method = %+v", resp)
	}
}

func TestDispatchAnonymousCheck(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	if resp := h.Dispatch(context.Background(), request(idSecret, "")); resp.Status != status.Unauthorized {
		t.Fatalf("anonymous secret = %+v", resp)
	}
	resp := h.Dispatch(context.Background(), request(idSecret, "sess"))
	if resp.Status != status.OK || resp.Value() != "42" {
		t.Fatalf("secret = %+v", resp)
	}
}

func TestDispatchRejectsBadParams(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	if resp := h.Dispatch(context.Background(), request(idGreet, "")); resp.Status != status.BadRequest {
		t.Fatalf("missing params = %+v", resp)
	}
	resp := h.Dispatch(context.Background(), request(idGreet, "", []int{1}))
	if resp.Status != status.BadRequest || !strings.Contains(resp.Message, "name") {
		t.Fatalf("bad param type = %+v", resp)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	resp := h.Dispatch(context.Background(), request(idBoom, ""))
	if resp.Status != status.InternalServerError || !strings.Contains(resp.Message, "kaboom") || resp.Results != nil {
		t.Fatalf("panic = %+v", resp)
	}
}

func TestDispatchMapsErrors(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	resp := h.Dispatch(context.Background(), request(idGreet, "", "ghost"))
	if resp.Status != status.NotFound || resp.Message != "no such person" {
		t.Fatalf("status error = %+v", resp)
	}
	resp = h.Dispatch(context.Background(), request(idGreet, "", "err"))
	if resp.Status != status.InternalServerError || resp.Message != "plain failure" {
		t.Fatalf("plain error = %+v", resp)
	}
}

func TestDispatchByRefOutputs(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	resp := h.Dispatch(context.Background(), request(idSwap, "", "left", "right"))
	if resp.Status != status.OK {
		t.Fatalf("swap = %+v", resp)
	}
	if !reflect.DeepEqual(resp.Results, []any{nil, "right", "left"}) {
		t.Fatalf("results = %#v", resp.Results)
	}
}

func TestCallAccessorsShapeResponse(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	req := request(idGreet, "s1", "ada")
	req.Headers = wire.FoldMapOf(map[string]string{"Tone": "warm"})
	resp := h.Dispatch(context.Background(), req)
	if resp.Status != status.OK || resp.Value() != "warm hello ada" {
		t.Fatalf("greet = %+v", resp)
	}
	if resp.Session != "s1+ada" {
		t.Fatalf("session = %q", resp.Session)
	}
	if v, _ := resp.Headers.Get("greeted"); v != "ada" {
		t.Fatalf("headers = %v", resp.Headers.Keys())
	}
	if Session(context.Background()) != "" {
		t.Fatalf("accessor outside a call should be empty")
	}
}

func TestFiltersWrapInvocation(t *testing.T) {
	testlog.Start(t)
	var trace []string
	spec := greeterSpec
	spec.Methods = map[string]contract.MethodSpec{
		"Greet": {Params: []string{"name"}, Filters: []contract.Filter{
			contract.FilterFunc{Priority: 2, Fn: func(call *contract.Call, next func() error) error {
				trace = append(trace, "inner:"+call.Args[0].(string))
				return next()
			}},
			contract.FilterFunc{Priority: 1, Fn: func(call *contract.Call, next func() error) error {
				trace = append(trace, "outer")
				if call.Args[0] == "blocked" {
					return status.NewError(status.Unauthorized, "blocked")
				}
				return next()
			}},
		}},
	}
	h := newGreeterHost(t, spec)
	if resp := h.Dispatch(context.Background(), request(idGreet, "", "ada")); resp.Status != status.OK {
		t.Fatalf("greet = %+v", resp)
	}
	if resp := h.Dispatch(context.Background(), request(idGreet, "", "blocked")); resp.Status != status.Unauthorized {
		t.Fatalf("blocked = %+v", resp)
	}
	if !reflect.DeepEqual(trace, []string{"outer", "inner:ada", "outer"}) {
		t.Fatalf("trace = %v", trace)
	}
}

func TestRateLimitPerRemote(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec, WithRateLimit(0.001, 2))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if resp := h.serve(ctx, TransportSocket, "10.0.0.1:5000", request(idSecret, "s")); resp.Status != status.OK {
			t.Fatalf("call %d = %+v", i, resp)
		}
	}
	resp := h.serve(ctx, TransportSocket, "10.0.0.1:5001", request(idSecret, "s"))
	if resp.Status != status.BadRequest || resp.Message != ErrRateLimited.Error() {
		t.Fatalf("limited = %+v", resp)
	}
	if resp := h.serve(ctx, TransportSocket, "10.0.0.2:5000", request(idSecret, "s")); resp.Status != status.OK {
		t.Fatalf("other remote = %+v", resp)
	}
}

func TestRegisterValidatesImplementation(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	info, _ := contract.InfoOf[greeter](h.contracts)
	if err := h.Register(info, struct{}{}); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if err := h.Register(info, greeterImpl{}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	desc := h.Describe(info)
	if desc.Name != "Greeter" || len(desc.Methods) != 4 || desc.Methods[idSwap].ByRef[1] != "b" {
		t.Fatalf("describe = %+v", desc)
	}
	if desc.Methods[idGreet].ParamTypes[0] != "string" || desc.Methods[idSecret].AllowAnonymous {
		t.Fatalf("describe greet/secret = %+v", desc.Methods)
	}
}

func TestServeConnSurvivesHostileDescriptors(t *testing.T) {
	testlog.Start(t)
	h := newGreeterHost(t, greeterSpec)
	limits := frame.DefaultLimits()

	desc := "[9223372036854775807]int64"
	payload := []byte{byte(wire.TagArray), byte(wire.TagString)}
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(desc)))
	payload = append(payload, desc...)

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(context.Background(), server, limits)
	}()
	err := frame.WriteFrame(client, frame.Frame{
		Header:  frame.Header{MessageID: 1, MessageType: protocol.MessageRequest},
		Payload: payload,
	}, limits)
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("connection was not dropped")
	}
	_ = client.Close()

	// The host keeps serving new connections.
	server, client = net.Pipe()
	defer client.Close()
	go h.ServeConn(context.Background(), server, limits)
	if err := protocol.WriteRequest(client, h.Codec(), request(idGreet, "", "ada"), limits); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := protocol.ReadResponse(client, h.Codec(), limits)
	if err != nil || resp.Status != status.OK {
		t.Fatalf("follow-up call = %+v, %v", resp, err)
	}
}

func TestRecoverConnSwallowsPanics(t *testing.T) {
	testlog.Start(t)
	func() {
		defer recoverConn(TransportSocket, "10.0.0.9:1")
		panic("bad frame")
	}()
}
