package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/gorilla/websocket"
)

type echoer interface {
	Echo(text string, times int) string
}

// reply decides what the fake host does with one request: return the
// responses to write, or close to drop the connection.
type reply func(req *protocol.ContractRequest) (out []*protocol.ContractResponse, close bool)

func echoReply(req *protocol.ContractRequest) ([]*protocol.ContractResponse, bool) {
	resp := protocol.NewResponse(req)
	resp.Results = []any{strings.Repeat(req.Params[0].(string), req.Params[1].(int))}
	return []*protocol.ContractResponse{resp}, false
}

func serveTCP(t *testing.T, fn reply) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					req, err := protocol.ReadRequest(r, wire.Default, frame.DefaultLimits())
					if err != nil {
						return
					}
					out, drop := fn(req)
					if drop {
						return
					}
					for _, resp := range out {
						if err := protocol.WriteResponse(conn, wire.Default, resp, frame.DefaultLimits()); err != nil {
							return
						}
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func openSocket(t *testing.T, opts Options) *Socket {
	t.Helper()
	s, err := NewSocket(opts, DialTCP)
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func echoRequest(text string, times int) *protocol.ContractRequest {
	return &protocol.ContractRequest{Contract: "echoer", Method: 0, MethodName: "Echo", Params: []any{text, times}}
}

func TestSocketRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := openSocket(t, Options{Address: serveTCP(t, echoReply)})
	if s.State() != StateOpen {
		t.Fatalf("state = %v", s.State())
	}
	for i := 1; i <= 3; i++ {
		resp, err := s.GetResponse(context.Background(), echoRequest("ab", i))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if resp.Status != status.OK || resp.Value() != strings.Repeat("ab", i) {
			t.Fatalf("call %d resp = %+v", i, resp)
		}
	}
}

func TestBufferSizeDoesNotCapPayload(t *testing.T) {
	testlog.Start(t)
	s := openSocket(t, Options{Address: serveTCP(t, echoReply), BufferSize: 64})
	resp, err := s.GetResponse(context.Background(), echoRequest("0123456789abcdef", 4096))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got, _ := resp.Value().(string); len(got) != 16*4096 {
		t.Fatalf("echoed %d bytes", len(got))
	}

	capped := openSocket(t, Options{Address: serveTCP(t, echoReply), MaxPayload: 1024})
	if _, err := capped.GetResponse(context.Background(), echoRequest("x", 4096)); err == nil {
		t.Fatalf("expected a response above max payload to fail")
	}
}

func TestSocketTimeoutIsBounded(t *testing.T) {
	testlog.Start(t)
	silent := func(*protocol.ContractRequest) ([]*protocol.ContractResponse, bool) { return nil, false }
	s := openSocket(t, Options{Address: serveTCP(t, silent), ResponseTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := s.GetResponse(context.Background(), echoRequest("x", 1))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 200*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Fatalf("timeout took %s", elapsed)
	}
	if s.State() != StateOpen {
		t.Fatalf("waiting flag not cleared: %v", s.State())
	}
}

func TestSocketDisconnectFailsPromptly(t *testing.T) {
	testlog.Start(t)
	drop := func(*protocol.ContractRequest) ([]*protocol.ContractResponse, bool) { return nil, true }
	s := openSocket(t, Options{Address: serveTCP(t, drop), ResponseTimeout: 5 * time.Second})

	start := time.Now()
	_, err := s.GetResponse(context.Background(), echoRequest("x", 1))
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("disconnect detected after %s", elapsed)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v", s.State())
	}
	if _, err := s.GetResponse(context.Background(), echoRequest("x", 1)); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("second call = %v", err)
	}
}

func TestSocketDiscardsStaleResponses(t *testing.T) {
	testlog.Start(t)
	stale := func(req *protocol.ContractRequest) ([]*protocol.ContractResponse, bool) {
		old := protocol.NewResponse(req)
		old.ID = req.ID + 100
		old.Results = []any{"stale"}
		out, _ := echoReply(req)
		return append([]*protocol.ContractResponse{old}, out...), false
	}
	s := openSocket(t, Options{Address: serveTCP(t, stale)})
	req := echoRequest("ok", 1)
	req.ID = 7
	resp, err := s.GetResponse(context.Background(), req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.ID != 7 || resp.Value() != "ok" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSocketHonorsContext(t *testing.T) {
	testlog.Start(t)
	silent := func(*protocol.ContractRequest) ([]*protocol.ContractResponse, bool) { return nil, false }
	s := openSocket(t, Options{Address: serveTCP(t, silent), ResponseTimeout: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.GetResponse(ctx, echoRequest("x", 1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestSocketNotOpenAndDialFailure(t *testing.T) {
	testlog.Start(t)
	s, err := NewSocket(Options{Address: "127.0.0.1:1"}, DialTCP)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.GetResponse(context.Background(), echoRequest("x", 1)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	s, _ = NewSocket(Options{Address: addr, DialAttempts: 2, MaxRetryWait: 10 * time.Millisecond}, DialTCP)
	if err := s.Open(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected dial failure, got %v", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultWebSocketPath {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			req, err := protocol.ReadRequest(strings.NewReader(string(data)), wire.Default, frame.DefaultLimits())
			if err != nil {
				return
			}
			out, _ := echoReply(req)
			w, err := ws.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			_ = protocol.WriteResponse(w, wire.Default, out[0], frame.DefaultLimits())
			_ = w.Close()
		}
	}))
	defer srv.Close()

	lc, err := New(Options{Mode: "WebSocket", Address: strings.TrimPrefix(srv.URL, "http://")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := lc.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer lc.Close()
	resp, err := lc.GetResponse(context.Background(), echoRequest("ws", 2))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Value() != "wsws" {
		t.Fatalf("value = %v", resp.Value())
	}
}

func TestHTTPRoundTripWithFiles(t *testing.T) {
	testlog.Start(t)
	contracts := contract.NewRegistry(wire.NewTypeRegistry())
	if err := contracts.Define(reflect.TypeFor[echoer](), contract.Spec{
		Name:    "echoer",
		Methods: map[string]contract.MethodSpec{"Echo": {Params: []string{"text", "times"}}},
	}); err != nil {
		t.Fatalf("define: %v", err)
	}
	info, err := contract.InfoOf[echoer](contracts)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	names := []string{info.Methods[0].Params[0].Name, info.Methods[0].Params[1].Name}

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		req, err := protocol.ReadHTTPRequest(wire.Default, r, names)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out, _ := echoReply(req)
		resp := out[0]
		resp.Session = req.Session + "+1"
		resp.Headers = req.Headers.Clone()
		resp.Files = append(req.Files, protocol.File{Name: "report.txt", ContentType: "text/plain", Data: []byte("done")})
		_ = protocol.WriteHTTPResponse(w, wire.Default, resp)
	}))
	defer srv.Close()

	lc, err := New(Options{Mode: ModeHTTP, Address: strings.TrimPrefix(srv.URL, "http://"), Contracts: contracts})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req := echoRequest("hi", 2)
	req.ID = 3
	req.Session = "s"
	req.Headers = wire.FoldMapOf(map[string]string{"Tenant": "blue"})
	req.Files = []protocol.File{{Name: "in.bin", ContentType: "application/octet-stream", Data: []byte{1, 2, 3}}}

	resp, err := lc.GetResponse(context.Background(), req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotPath != "/contracts/echoer/0" {
		t.Fatalf("path = %s", gotPath)
	}
	if resp.ID != 3 || resp.Value() != "hihi" || resp.Session != "s+1" {
		t.Fatalf("resp = %+v", resp)
	}
	if v, _ := resp.Headers.Get("tenant"); v != "blue" {
		t.Fatalf("headers = %v", resp.Headers.Keys())
	}
	if len(resp.Files) != 2 || resp.Files[0].Name != "in.bin" || string(resp.Files[1].Data) != "done" {
		t.Fatalf("files = %+v", resp.Files)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	testlog.Start(t)
	contracts := contract.NewRegistry(wire.NewTypeRegistry())
	_ = contracts.Define(reflect.TypeFor[echoer](), contract.Spec{Name: "echoer"})
	if _, err := contract.InfoOf[echoer](contracts); err != nil {
		t.Fatalf("info: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := &protocol.ContractResponse{Status: status.Unauthorized, Message: "who are you"}
		_ = protocol.WriteHTTPResponse(w, wire.Default, resp)
	}))
	defer srv.Close()

	lc, _ := New(Options{Mode: ModeHTTP, Address: strings.TrimPrefix(srv.URL, "http://"), Contracts: contracts})
	resp, err := lc.GetResponse(context.Background(), echoRequest("x", 1))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !errors.Is(resp.Err(), status.ErrUnauthorized) || resp.Message != "who are you" {
		t.Fatalf("resp = %+v err=%v", resp, resp.Err())
	}

	req := echoRequest("x", 1)
	req.Contract = "missing"
	if _, err := lc.GetResponse(context.Background(), req); !errors.Is(err, contract.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestModeRegistry(t *testing.T) {
	testlog.Start(t)
	if !reflect.DeepEqual(Modes(), []string{ModeHTTP, ModeSocket, ModeWebSocket}) {
		t.Fatalf("modes = %v", Modes())
	}
	if _, err := New(Options{Mode: "carrier-pigeon", Address: "x:1"}); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if _, err := New(Options{Mode: ModeHTTP}); !errors.Is(err, ErrAddress) {
		t.Fatalf("expected ErrAddress, got %v", err)
	}
	if !HasMode("SOCKET") {
		t.Fatalf("socket mode missing")
	}
}

// scriptedConn is an in-memory Conn fed through in.
type scriptedConn struct {
	in      chan *protocol.ContractResponse
	onWrite func(req *protocol.ContractRequest)
	closes  atomic.Int32
	once    sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{in: make(chan *protocol.ContractResponse, 4)}
}

func (c *scriptedConn) WriteRequest(req *protocol.ContractRequest) error {
	if c.onWrite != nil {
		c.onWrite(req)
	}
	return nil
}

func (c *scriptedConn) ReadResponse() (*protocol.ContractResponse, error) {
	resp, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func (c *scriptedConn) hangUp() { c.once.Do(func() { close(c.in) }) }

func (c *scriptedConn) Close() error {
	c.closes.Add(1)
	c.hangUp()
	return nil
}

func scriptedSocket(t *testing.T, conns ...*scriptedConn) *Socket {
	t.Helper()
	next := 0
	s, err := NewSocket(Options{Address: "scripted:1", ResponseTimeout: 2 * time.Second}, func(context.Context, Options) (Conn, error) {
		c := conns[next]
		next++
		return c, nil
	})
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSocketIgnoresLateResponseInSlot(t *testing.T) {
	testlog.Start(t)
	conn := newScriptedConn()
	s := scriptedSocket(t, conn)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	l := s.current()
	conn.onWrite = func(req *protocol.ContractRequest) {
		late := &protocol.ContractResponse{ID: req.ID - 1, Results: []any{"late"}}
		l.responses <- late
		fresh := protocol.NewResponse(req)
		fresh.Results = []any{"fresh"}
		conn.in <- fresh
	}
	req := echoRequest("x", 1)
	req.ID = 42
	resp, err := s.GetResponse(context.Background(), req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.ID != 42 || resp.Value() != "fresh" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSocketReopenClosesDeadConn(t *testing.T) {
	testlog.Start(t)
	first, second := newScriptedConn(), newScriptedConn()
	s := scriptedSocket(t, first, second)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	l := s.current()
	first.hangUp()
	<-l.done
	if s.State() != StateClosed {
		t.Fatalf("state = %s after peer hang-up", s.State())
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first.closes.Load() != 1 {
		t.Fatalf("dead conn closed %d times", first.closes.Load())
	}
	if s.current().conn != second {
		t.Fatalf("reopen did not dial a new conn")
	}
}
