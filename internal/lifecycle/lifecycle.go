// Package lifecycle moves contract envelopes between a client and a host.
//
// Two strategies exist: Socket keeps one connection open and serves one
// outstanding request at a time; HTTP issues an independent POST per call.
// Both are created through the mode registry (New).
package lifecycle

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/wire"
)

var (
	ErrTimeout      = errors.New("lifecycle: response timeout")
	ErrDisconnected = errors.New("lifecycle: connection lost")
	ErrNotOpen      = errors.New("lifecycle: not open")
	ErrBusy         = errors.New("lifecycle: request already outstanding")
	ErrUnknownMode  = errors.New("lifecycle: unknown mode")
	ErrAddress      = errors.New("lifecycle: address required")
)

// LifeCycle sends one request and blocks for its response.
type LifeCycle interface {
	Open(ctx context.Context) error
	Close() error
	GetResponse(ctx context.Context, req *protocol.ContractRequest) (*protocol.ContractResponse, error)
}

// Modes understood by New.
const (
	ModeSocket    = "socket"
	ModeWebSocket = "websocket"
	ModeHTTP      = "http"
)

const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultDialAttempts    = 3
	DefaultBufferSize      = 4096
	DefaultWebSocketPath   = "/contracts/ws"
	DefaultHTTPPath        = "/contracts"
)

// Options configure a life cycle. Address is host:port for every mode.
type Options struct {
	Mode    string
	Address string
	// Path is the websocket route or the HTTP base path.
	Path string
	// BufferSize sizes the read and write buffers of the connection.
	BufferSize int
	// MaxPayload caps frame payloads; <= 0 selects frame.DefaultLimits.
	MaxPayload int

	ConnectTimeout time.Duration
	// ResponseTimeout < 0 waits forever; 0 selects the default.
	ResponseTimeout time.Duration
	DialAttempts    int
	MaxRetryWait    time.Duration

	TLS        *tls.Config
	Codec      *wire.Codec
	Contracts  *contract.Registry
	HTTPClient *http.Client
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeSocket
	}
	o.Mode = strings.ToLower(o.Mode)
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ResponseTimeout == 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = DefaultDialAttempts
	}
	if o.MaxRetryWait <= 0 {
		o.MaxRetryWait = 2 * time.Second
	}
	if o.Path == "" {
		switch o.Mode {
		case ModeWebSocket:
			o.Path = DefaultWebSocketPath
		case ModeHTTP:
			o.Path = DefaultHTTPPath
		}
	}
	if o.Codec == nil {
		o.Codec = wire.Default
	}
	if o.Contracts == nil {
		o.Contracts = contract.Default
	}
	return o
}

// Factory builds a life cycle for one mode.
type Factory func(opts Options) (LifeCycle, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		ModeSocket:    func(o Options) (LifeCycle, error) { return NewSocket(o, DialTCP) },
		ModeWebSocket: func(o Options) (LifeCycle, error) { return NewSocket(o, DialWebSocket) },
		ModeHTTP:      func(o Options) (LifeCycle, error) { return NewHTTP(o) },
	}
)

// Register installs or replaces the factory for mode.
func Register(mode string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(mode)] = f
}

// Modes lists registered modes.
func Modes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func HasMode(mode string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[strings.ToLower(mode)]
	return ok
}

// New builds an unopened life cycle for opts.Mode.
func New(opts Options) (LifeCycle, error) {
	opts = opts.WithDefaults()
	factoriesMu.RLock()
	f, ok := factories[opts.Mode]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	return f(opts)
}
