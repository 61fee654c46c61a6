package calc

import (
	"context"

	"github.com/danmuck/contractrpc/internal/domain"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/wire"
)

// Client forwards Calculator calls through a domain client.
type Client struct {
	c *domain.Client
}

// NewClient defines Calculator in the domain's contract registry if needed
// and returns an adapter.
func NewClient(d *domain.Domain, keepAlive bool) (*Client, error) {
	info, err := Define(d.Contracts())
	if err != nil {
		return nil, err
	}
	return &Client{c: d.NewClient(info, keepAlive)}, nil
}

func (c *Client) Close() error { return c.c.Close() }

func (c *Client) Add(ctx context.Context, a, b int) (int, error) {
	return domain.Call[int](ctx, c.c, MethodAdd, a, b)
}

// Divide returns the quotient and stores the remainder in *remainder.
func (c *Client) Divide(ctx context.Context, a, b int, remainder *int) (int, error) {
	return domain.Call[int](ctx, c.c, MethodDivide, a, b, remainder)
}

func (c *Client) Echo(ctx context.Context, text string) wire.ResultOf[string] {
	r, _ := domain.Call[wire.ResultOf[string]](ctx, c.c, MethodEcho, text)
	return r
}

func (c *Client) Login(ctx context.Context, user, password string) wire.Result {
	r, _ := domain.Call[wire.Result](ctx, c.c, MethodLogin, user, password)
	return r
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.c.Invoke(ctx, MethodPing)
	return err
}

func (c *Client) Stats(ctx context.Context, values []float64) wire.ResultOf[Stats] {
	r, _ := domain.Call[wire.ResultOf[Stats]](ctx, c.c, MethodStats, values)
	return r
}

// Upload sends files with the call and returns the receipt files.
func (c *Client) Upload(ctx context.Context, label string, files ...protocol.File) (int, []protocol.File, error) {
	c.c.Domain().AttachFiles(files...)
	reply, err := c.c.Invoke(ctx, MethodUpload, label)
	if err != nil {
		return 0, nil, err
	}
	n, _ := reply.Value.(int)
	return n, reply.Files, nil
}

func (c *Client) Whoami(ctx context.Context) (string, error) {
	return domain.Call[string](ctx, c.c, MethodWhoami)
}
