package host

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ServeSocket accepts framed connections on ln until ctx ends. Each
// connection is served by one goroutine, one request at a time.
func (h *Host) ServeSocket(ctx context.Context, ln net.Listener, limits frame.Limits) error {
	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	})
	defer stop()
	defer wg.Wait()

	log.Info().Str("host", h.name).Str("addr", ln.Addr().String()).Msg("socket listener started")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()
			h.ServeConn(ctx, conn, limits)
		}()
	}
}

// ServeConn runs the request loop of one framed connection.
func (h *Host) ServeConn(ctx context.Context, conn net.Conn, limits frame.Limits) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	defer recoverConn(TransportSocket, remote)
	log.Debug().Str("remote", remote).Msg("socket client connected")
	defer log.Debug().Str("remote", remote).Msg("socket client disconnected")

	r := bufio.NewReaderSize(conn, h.bufSize)
	for {
		req, err := protocol.ReadRequest(r, h.codec, limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("remote", remote).Msg("read request")
			}
			return
		}
		resp := h.serve(ctx, TransportSocket, remote, req)
		if err := protocol.WriteResponse(conn, h.codec, resp, limits); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("write response")
			return
		}
	}
}

// recoverConn drops a connection whose request loop panicked instead of
// taking the process down with it.
func recoverConn(transport, remote string) {
	if rec := recover(); rec != nil {
		log.Error().
			Str("transport", transport).
			Str("remote", remote).
			Interface("panic", rec).
			Bytes("stack", debug.Stack()).
			Msg("connection panicked")
	}
}

// ServeWebSocket upgrades r and serves framed requests carried in binary
// messages until the peer goes away.
func (h *Host) ServeWebSocket(w http.ResponseWriter, r *http.Request, limits frame.Limits) {
	upgrader := websocket.Upgrader{ReadBufferSize: h.bufSize, WriteBufferSize: h.bufSize}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(int64(limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	remote := r.RemoteAddr
	defer recoverConn(TransportWebSocket, remote)

	for {
		mt, rd, err := ws.NextReader()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		req, err := protocol.ReadRequest(rd, h.codec, limits)
		if err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("read websocket request")
			return
		}
		resp := h.serve(r.Context(), TransportWebSocket, remote, req)
		wr, err := ws.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return
		}
		if err := protocol.WriteResponse(wr, h.codec, resp, limits); err != nil {
			_ = wr.Close()
			log.Warn().Err(err).Str("remote", remote).Msg("write websocket response")
			return
		}
		if err := wr.Close(); err != nil {
			return
		}
	}
}
