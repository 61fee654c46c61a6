package domain

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/lifecycle"
	"github.com/danmuck/contractrpc/internal/observability"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/rs/zerolog/log"
)

// Client invokes the methods of one contract through a domain. A
// keep-alive client owns one life cycle and serializes its calls; other
// clients open a fresh life cycle per call.
type Client struct {
	domain    *Domain
	info      *contract.Info
	keepAlive bool

	mu sync.Mutex
	lc lifecycle.LifeCycle
}

// Reply is the decoded outcome of a call. Results[0] is the return value
// and Results[1:] the by-ref outputs already written back to the caller's
// pointers.
type Reply struct {
	Value   any
	Results []any
	Files   []protocol.File
	Headers *wire.FoldMap
	Status  status.Code
	Message string
}

func (d *Domain) NewClient(info *contract.Info, keepAlive bool) *Client {
	return &Client{domain: d, info: info, keepAlive: keepAlive}
}

// ClientFor builds a client for contract interface T from the domain's
// contract registry.
func ClientFor[T any](d *Domain, keepAlive bool) (*Client, error) {
	info, err := contract.InfoOf[T](d.contracts)
	if err != nil {
		return nil, err
	}
	return d.NewClient(info, keepAlive), nil
}

func (c *Client) Info() *contract.Info { return c.info }

func (c *Client) Domain() *Domain { return c.domain }

func (c *Client) KeepAlive() bool { return c.keepAlive }

// Close releases the owned life cycle of a keep-alive client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetLocked()
}

func (c *Client) resetLocked() error {
	if c.lc == nil {
		return nil
	}
	err := c.lc.Close()
	c.lc = nil
	return err
}

// InvokeByName resolves the method case-insensitively, then calls Invoke.
func (c *Client) InvokeByName(ctx context.Context, name string, args ...any) (*Reply, error) {
	m, ok := c.info.MethodByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", contract.ErrUnknownMethod, c.info.Name, name)
	}
	return c.Invoke(ctx, m.Identity, args...)
}

// Invoke calls the method with the given identity. Arguments are
// positional; by-ref parameters take pointers that receive the outputs.
// When the method returns Result or ResultOf, failures come back as a
// failed value in Reply.Value with a nil error.
func (c *Client) Invoke(ctx context.Context, identity int, args ...any) (*Reply, error) {
	m, ok := c.info.Method(identity)
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", contract.ErrUnknownMethod, c.info.Name, identity)
	}
	if err := m.Validate(args); err != nil {
		return c.failure(m, err)
	}

	start := time.Now()
	st := c.domain.begin()
	req := &protocol.ContractRequest{
		Contract:   c.info.Name,
		Method:     m.Identity,
		MethodName: m.Name,
		Params:     wireParams(m, args),
		Session:    st.session.Session(ctx),
		Headers:    st.headers,
		Files:      st.files,
	}

	resp, err := c.roundTrip(ctx, req)
	code := 0
	if resp != nil {
		code = int(resp.Status)
	}
	observability.RecordClientCall(c.domain.Name(), c.info.Name, m.Name, code, time.Since(start))
	if err != nil {
		log.Debug().Err(err).Str("domain", c.domain.Name()).Str("method", m.String()).Msg("call failed")
		return c.failure(m, err)
	}

	// An empty session means the peer sent none, not that it cleared ours.
	if resp.Session != "" && resp.Session != req.Session {
		st.session.SetSession(ctx, resp.Session)
	}
	c.domain.mergeHeaders(resp.Headers)

	if err := resp.Err(); err != nil {
		return c.failure(m, err)
	}
	reply := &Reply{
		Results: resp.Results,
		Files:   resp.Files,
		Headers: resp.Headers,
		Status:  status.OK,
		Message: resp.Message,
	}
	if err := writeBack(m, args, resp.Results); err != nil {
		return c.failure(m, err)
	}
	if m.Return != nil {
		v, err := wire.Convert(resp.Value(), m.Return)
		if err != nil {
			return c.failure(m, fmt.Errorf("%w: %s return: %v", status.ErrInternal, m, err))
		}
		reply.Value = v.Interface()
	}
	return reply, nil
}

func (c *Client) roundTrip(ctx context.Context, req *protocol.ContractRequest) (*protocol.ContractResponse, error) {
	if !c.keepAlive {
		lc, err := c.domain.NewLifeCycle()
		if err != nil {
			return nil, err
		}
		if err := lc.Open(ctx); err != nil {
			return nil, err
		}
		defer lc.Close()
		return lc.GetResponse(ctx, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lc == nil {
		lc, err := c.domain.NewLifeCycle()
		if err != nil {
			return nil, err
		}
		if err := lc.Open(ctx); err != nil {
			_ = lc.Close()
			return nil, err
		}
		c.lc = lc
	}
	resp, err := c.lc.GetResponse(ctx, req)
	if err != nil && isTransportFailure(err) {
		_ = c.resetLocked()
	}
	return resp, err
}

// isTransportFailure reports errors after which the connection state is
// unknown.
func isTransportFailure(err error) bool {
	return errors.Is(err, lifecycle.ErrDisconnected) || errors.Is(err, lifecycle.ErrTimeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// failure converts err into a failed Result value when the method returns
// one; otherwise err is returned as is.
func (c *Client) failure(m *contract.Method, err error) (*Reply, error) {
	if !m.ReturnsResult {
		return nil, err
	}
	code, msg := status.FromError(err)
	return &Reply{
		Value:   wire.NewResultValue(m.Return, code, msg).Interface(),
		Status:  code,
		Message: msg,
	}, nil
}

// wireParams replaces by-ref pointers with their pointees.
func wireParams(m *contract.Method, args []any) []any {
	params := make([]any, len(args))
	for i, p := range m.Params {
		params[i] = args[i]
		if !p.ByRef || args[i] == nil {
			continue
		}
		rv := reflect.ValueOf(args[i])
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				params[i] = nil
			} else {
				params[i] = rv.Elem().Interface()
			}
		}
	}
	return params
}

// writeBack stores Results[k+1] into the pointer of the k-th by-ref param.
func writeBack(m *contract.Method, args []any, results []any) error {
	for k, pos := range m.ByRef() {
		if k+1 >= len(results) {
			break
		}
		rv := reflect.ValueOf(args[pos])
		if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
			continue
		}
		if err := wire.Assign(rv.Elem(), results[k+1]); err != nil {
			return fmt.Errorf("%w: %s param %s: %v", status.ErrInternal, m, m.Params[pos].Name, err)
		}
	}
	return nil
}

// Call invokes identity and converts the return value to T.
func Call[T any](ctx context.Context, c *Client, identity int, args ...any) (T, error) {
	var zero T
	reply, err := c.Invoke(ctx, identity, args...)
	if err != nil {
		return zero, err
	}
	if reply.Value == nil {
		return zero, nil
	}
	v, ok := reply.Value.(T)
	if !ok {
		cv, err := wire.Convert(reply.Value, reflect.TypeFor[T]())
		if err != nil {
			return zero, err
		}
		return cv.Interface().(T), nil
	}
	return v, nil
}
