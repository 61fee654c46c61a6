package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// State of a persistent life cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateBusy:
		return "busy"
	default:
		return "closed"
	}
}

// Socket is the persistent life cycle. A reader goroutine owns the
// connection's inbound side and hands the one expected response over a
// single-slot channel.
type Socket struct {
	opts Options
	dial Dialer

	call  sync.Mutex // one outstanding request
	state sync.Mutex
	link  *link

	waiting atomic.Bool
	pending atomic.Uint64
	nextID  atomic.Uint64
}

// link is one dialed connection and its reader.
type link struct {
	conn      Conn
	responses chan *protocol.ContractResponse
	done      chan struct{}
	err       error // set before done closes
}

func NewSocket(opts Options, dial Dialer) (*Socket, error) {
	opts = opts.WithDefaults()
	if opts.Address == "" {
		return nil, ErrAddress
	}
	if dial == nil {
		dial = DialTCP
	}
	return &Socket{opts: opts, dial: dial}, nil
}

// Open dials if there is no live connection. A connection lost earlier is
// replaced.
func (s *Socket) Open(ctx context.Context) error {
	s.state.Lock()
	defer s.state.Unlock()
	if s.link != nil {
		if !s.link.closed() {
			return nil
		}
		_ = s.link.conn.Close()
		s.link = nil
	}

	conn, err := s.dialRetry(ctx)
	if err != nil {
		return err
	}
	l := &link{
		conn:      conn,
		responses: make(chan *protocol.ContractResponse, 1),
		done:      make(chan struct{}),
	}
	s.link = l
	go s.readLoop(l)
	log.Debug().Str("mode", s.opts.Mode).Str("addr", s.opts.Address).Msg("life cycle opened")
	return nil
}

func (s *Socket) dialRetry(ctx context.Context) (Conn, error) {
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: s.opts.MaxRetryWait, Jitter: true}
	for {
		conn, err := s.dial(ctx, s.opts)
		if err == nil {
			return conn, nil
		}
		attempt := int(b.Attempt()) + 1
		if attempt >= s.opts.DialAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		d := b.Duration()
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", d).Str("addr", s.opts.Address).Msg("dial failed")
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Socket) readLoop(l *link) {
	defer close(l.done)
	for {
		resp, err := l.conn.ReadResponse()
		if err != nil {
			l.err = err
			return
		}
		if !s.waiting.Load() || resp.ID != s.pending.Load() {
			log.Warn().Uint64("id", resp.ID).Uint64("pending", s.pending.Load()).Msg("discarding unexpected response")
			continue
		}
		select {
		case l.responses <- resp:
			continue
		default:
		}
		// The slot holds a response no call claimed; the newer one wins.
		select {
		case old := <-l.responses:
			log.Warn().Uint64("id", old.ID).Msg("discarding unclaimed response")
		default:
		}
		l.responses <- resp
	}
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (s *Socket) current() *link {
	s.state.Lock()
	defer s.state.Unlock()
	return s.link
}

// State reports whether the socket is closed, idle or waiting.
func (s *Socket) State() State {
	l := s.current()
	if l == nil || l.closed() {
		return StateClosed
	}
	if s.waiting.Load() {
		return StateBusy
	}
	return StateOpen
}

// GetResponse writes req and waits for the response with the same ID, the
// response timeout, ctx, or loss of the connection, whichever comes first.
// Requests without an ID get one.
func (s *Socket) GetResponse(ctx context.Context, req *protocol.ContractRequest) (*protocol.ContractResponse, error) {
	s.call.Lock()
	defer s.call.Unlock()

	l := s.current()
	if l == nil {
		return nil, ErrNotOpen
	}
	if l.closed() {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, l.err)
	}
	if req.ID == 0 {
		req.ID = s.nextID.Add(1)
	}
	select {
	case <-l.responses:
	default:
	}

	s.pending.Store(req.ID)
	s.waiting.Store(true)
	defer s.waiting.Store(false)

	if err := l.conn.WriteRequest(req); err != nil {
		_ = l.conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	var timeout <-chan time.Time
	if s.opts.ResponseTimeout > 0 {
		t := time.NewTimer(s.opts.ResponseTimeout)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case resp := <-l.responses:
			if resp.ID != req.ID {
				log.Warn().Uint64("id", resp.ID).Uint64("pending", req.ID).Msg("discarding late response")
				continue
			}
			return resp, nil
		case <-l.done:
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, l.err)
		case <-timeout:
			return nil, fmt.Errorf("%w after %s (%s #%d)", ErrTimeout, s.opts.ResponseTimeout, req.Contract, req.Method)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close drops the connection and waits for the reader to exit. An
// outstanding GetResponse fails with ErrDisconnected.
func (s *Socket) Close() error {
	s.state.Lock()
	l := s.link
	s.link = nil
	s.state.Unlock()
	if l == nil {
		return nil
	}
	err := l.conn.Close()
	<-l.done
	log.Debug().Str("addr", s.opts.Address).Msg("life cycle closed")
	return err
}
