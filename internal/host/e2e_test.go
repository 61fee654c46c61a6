package host_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/contractrpc/internal/calc"
	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/domain"
	"github.com/danmuck/contractrpc/internal/host"
	"github.com/danmuck/contractrpc/internal/lifecycle"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/danmuck/contractrpc/internal/wire"
)

type fixture struct {
	host       *host.Host
	socketPort int
	httpPort   int
	httpURL    string
}

func startHost(t *testing.T) *fixture {
	t.Helper()
	svc := calc.NewService(map[string]string{"ada": "lovelace"})
	contracts := contract.NewRegistry(wire.NewTypeRegistry())
	info, err := calc.Define(contracts, svc.SessionFilter())
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	h := host.New(host.WithName("e2e"), host.WithContracts(contracts))
	if err := h.Register(info, svc); err != nil {
		t.Fatalf("register: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ServeSocket(ctx, ln, frame.DefaultLimits())
	}()
	srv := httptest.NewServer(h.Handler(host.HTTPOptions{}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &fixture{
		host:       h,
		socketPort: ln.Addr().(*net.TCPAddr).Port,
		httpPort:   srv.Listener.Addr().(*net.TCPAddr).Port,
		httpURL:    srv.URL,
	}
}

func (f *fixture) client(t *testing.T, mode string, keepAlive bool) (*calc.Client, *domain.Domain) {
	t.Helper()
	port := f.socketPort
	if mode != lifecycle.ModeSocket {
		port = f.httpPort
	}
	d, err := domain.New(domain.Config{
		Name:            "calc-" + mode,
		Host:            "127.0.0.1",
		Port:            port,
		Mode:            mode,
		ResponseTimeout: 5 * time.Second,
	}, domain.WithContracts(contract.NewRegistry(wire.NewTypeRegistry())))
	if err != nil {
		t.Fatalf("domain: %v", err)
	}
	c, err := calc.NewClient(d, keepAlive)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, d
}

var modes = []string{lifecycle.ModeSocket, lifecycle.ModeWebSocket, lifecycle.ModeHTTP}

func TestCallsAcrossTransports(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	for _, mode := range modes {
		for _, keepAlive := range []bool{false, true} {
			name := mode
			if keepAlive {
				name += "/keepalive"
			}
			t.Run(name, func(t *testing.T) {
				ctx := context.Background()
				c, _ := f.client(t, mode, keepAlive)

				if err := c.Ping(ctx); err != nil {
					t.Fatalf("ping: %v", err)
				}
				sum, err := c.Add(ctx, 40, 2)
				if err != nil || sum != 42 {
					t.Fatalf("add = %d, %v", sum, err)
				}
				rem := -1
				q, err := c.Divide(ctx, 17, 5, &rem)
				if err != nil || q != 3 || rem != 2 {
					t.Fatalf("divide = %d rem %d, %v", q, rem, err)
				}
				st := c.Stats(ctx, []float64{1, 2, 3, 10})
				if !st.Succeeded() || st.Value.Count != 4 || st.Value.Max != 10 || st.Value.Mean != 4 {
					t.Fatalf("stats = %+v", st)
				}
				if echo := c.Echo(ctx, "héllo"); !echo.Succeeded() || echo.Value != "héllo" {
					t.Fatalf("echo = %+v", echo)
				}
			})
		}
	}
}

func TestFailuresAcrossTransports(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	for _, mode := range modes {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			c, _ := f.client(t, mode, false)

			rem := 0
			if _, err := c.Divide(ctx, 1, 0, &rem); !errors.Is(err, calc.ErrDivideByZero) {
				t.Fatalf("divide by zero = %v", err)
			}
			if r := c.Echo(ctx, ""); r.Succeeded() || r.Status != status.BadRequest || r.Message != "nothing to echo" {
				t.Fatalf("empty echo = %+v", r)
			}
			if r := c.Stats(ctx, nil); r.Succeeded() || r.Status != status.BadRequest {
				t.Fatalf("empty stats = %+v", r)
			}
			if _, err := c.Whoami(ctx); status.CodeOf(err) != status.Unauthorized {
				t.Fatalf("anonymous whoami = %v", err)
			}
		})
	}
}

func TestSessionsAndFilesAcrossTransports(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	for _, mode := range modes {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			c, d := f.client(t, mode, mode == lifecycle.ModeSocket)

			if r := c.Login(ctx, "ada", "wrong"); r.Status != status.Unauthorized {
				t.Fatalf("bad login = %+v", r)
			}
			if r := c.Login(ctx, "ada", "lovelace"); !r.Succeeded() {
				t.Fatalf("login = %+v", r)
			}
			if d.Session(ctx) == "" {
				t.Fatalf("session not stored after login")
			}
			who, err := c.Whoami(ctx)
			if err != nil || who != "ada" {
				t.Fatalf("whoami = %q, %v", who, err)
			}

			total, receipts, err := c.Upload(ctx, "batch",
				protocol.File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")},
				protocol.File{Name: "b.bin", ContentType: "application/octet-stream", Data: []byte{0, 1, 2}},
			)
			if err != nil || total != 8 {
				t.Fatalf("upload = %d, %v", total, err)
			}
			if len(receipts) != 1 || receipts[0].Name != "batch.receipt" || receipts[0].ContentType != "text/plain" {
				t.Fatalf("receipts = %+v", receipts)
			}
			if !strings.Contains(string(receipts[0].Data), "b.bin 3") {
				t.Fatalf("receipt body = %q", receipts[0].Data)
			}
			if v, _ := d.Header("x-upload-total"); v != "8" {
				t.Fatalf("response header = %q", v)
			}

			d.SetSession(ctx, "forged")
			if _, err := c.Whoami(ctx); status.CodeOf(err) != status.Unauthorized {
				t.Fatalf("forged session = %v", err)
			}
		})
	}
}

func TestMetadataAndHealth(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	ctx := context.Background()

	reply, err := host.FetchContracts(ctx, http.DefaultClient, f.httpURL+host.MetaPath, host.ListArgs{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reply.Host != "e2e" || len(reply.Contracts) != 1 || reply.Contracts[0].Name != calc.Name {
		t.Fatalf("reply = %+v", reply)
	}
	divide := reply.Contracts[0].Methods[calc.MethodDivide]
	if divide.Name != "Divide" || len(divide.ByRef) != 1 || divide.ByRef[0] != "remainder" {
		t.Fatalf("divide = %+v", divide)
	}
	if _, err := host.FetchContracts(ctx, http.DefaultClient, f.httpURL+host.MetaPath, host.ListArgs{Contract: "nope"}); err == nil {
		t.Fatalf("expected error for unknown contract")
	}

	resp, err := http.Get(f.httpURL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestHTTPRouteByMethodName(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	codec := f.host.Codec()
	req := &protocol.ContractRequest{ID: 9, Contract: "calculator", Method: calc.MethodAdd, Params: []any{2, 3}}
	hr, err := protocol.NewHTTPRequest(codec, f.httpURL+host.DefaultHTTPPath, []string{"a", "b"}, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	hr.URL.Path = host.DefaultHTTPPath + "/calculator/add"
	raw, err := http.DefaultClient.Do(hr)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer raw.Body.Close()
	resp, err := protocol.ReadHTTPResponse(codec, raw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != status.OK || resp.Value() != 5 || resp.ID != 9 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHTTPDecodeFailureEchoesSession(t *testing.T) {
	testlog.Start(t)
	f := startHost(t)
	body := strings.NewReader(url.Values{"a": {"%%not-base64"}}.Encode())
	hr, err := http.NewRequest(http.MethodPost, f.httpURL+host.DefaultHTTPPath+"/calculator/add", body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hr.AddCookie(&http.Cookie{Name: protocol.SessionCookie, Value: "s-keep"})
	raw, err := http.DefaultClient.Do(hr)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer raw.Body.Close()
	resp, err := protocol.ReadHTTPResponse(f.host.Codec(), raw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != status.BadRequest || resp.Session != "s-keep" {
		t.Fatalf("resp = %+v", resp)
	}
}
