package lifecycle

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/gorilla/websocket"
)

// Conn carries framed envelopes for a persistent life cycle.
type Conn interface {
	WriteRequest(req *protocol.ContractRequest) error
	ReadResponse() (*protocol.ContractResponse, error)
	Close() error
}

// Dialer opens a Conn for opts.
type Dialer func(ctx context.Context, opts Options) (Conn, error)

type streamConn struct {
	raw    net.Conn
	r      *bufio.Reader
	codec  *wire.Codec
	limits frame.Limits
	wmu    sync.Mutex
}

// DialTCP dials opts.Address, wrapping the connection in TLS when opts.TLS
// is set.
func DialTCP(ctx context.Context, opts Options) (Conn, error) {
	if opts.Address == "" {
		return nil, ErrAddress
	}
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		return NewStreamConn(rawConn, opts), nil
	}

	conn := tls.Client(rawConn, opts.TLS)
	handshakeCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewStreamConn(conn, opts), nil
}

// NewStreamConn frames envelopes over an established stream.
func NewStreamConn(c net.Conn, opts Options) Conn {
	codec := opts.Codec
	if codec == nil {
		codec = wire.Default
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &streamConn{
		raw:    c,
		r:      bufio.NewReaderSize(c, size),
		codec:  codec,
		limits: frame.LimitsFor(opts.MaxPayload),
	}
}

func (c *streamConn) WriteRequest(req *protocol.ContractRequest) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteRequest(c.raw, c.codec, req, c.limits)
}

func (c *streamConn) ReadResponse() (*protocol.ContractResponse, error) {
	return protocol.ReadResponse(c.r, c.codec, c.limits)
}

func (c *streamConn) Close() error {
	return c.raw.Close()
}

// wsConn sends one frame per binary websocket message.
type wsConn struct {
	ws     *websocket.Conn
	codec  *wire.Codec
	limits frame.Limits
	wmu    sync.Mutex
}

// DialWebSocket upgrades ws(s)://Address/Path.
func DialWebSocket(ctx context.Context, opts Options) (Conn, error) {
	if opts.Address == "" {
		return nil, ErrAddress
	}
	u := url.URL{Scheme: "ws", Host: opts.Address, Path: opts.Path}
	if opts.TLS != nil {
		u.Scheme = "wss"
	}
	d := websocket.Dialer{
		ReadBufferSize:   opts.BufferSize,
		WriteBufferSize:  opts.BufferSize,
		HandshakeTimeout: opts.ConnectTimeout,
		TLSClientConfig:  opts.TLS,
	}
	ws, resp, err := d.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		cleanlyCloseBody(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return NewWebSocketConn(ws, opts), nil
}

func NewWebSocketConn(ws *websocket.Conn, opts Options) Conn {
	codec := opts.Codec
	if codec == nil {
		codec = wire.Default
	}
	limits := frame.LimitsFor(opts.MaxPayload)
	ws.SetReadLimit(int64(limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	return &wsConn{ws: ws, codec: codec, limits: limits}
}

func (c *wsConn) WriteRequest(req *protocol.ContractRequest) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	w, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protocol.WriteRequest(w, c.codec, req, c.limits); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *wsConn) ReadResponse() (*protocol.ContractResponse, error) {
	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return protocol.ReadResponse(r, c.codec, c.limits)
	}
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.ws.Close()
}
