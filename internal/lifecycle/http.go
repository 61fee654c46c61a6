package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/rs/zerolog/log"
)

// HTTP is the per-call life cycle. Open and Close do nothing; each
// GetResponse is one POST.
type HTTP struct {
	opts   Options
	base   string
	client *http.Client
}

func NewHTTP(opts Options) (*HTTP, error) {
	opts = opts.WithDefaults()
	if opts.Address == "" {
		return nil, ErrAddress
	}
	u := url.URL{Scheme: "http", Host: opts.Address, Path: opts.Path}
	if opts.TLS != nil {
		u.Scheme = "https"
	}
	client := opts.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = opts.TLS
		transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext
		client = &http.Client{Transport: transport}
		if opts.ResponseTimeout > 0 {
			client.Timeout = opts.ResponseTimeout
		}
	}
	return &HTTP{opts: opts, base: u.String(), client: client}, nil
}

func (h *HTTP) Open(context.Context) error { return nil }

func (h *HTTP) Close() error { return nil }

// BaseURL is the prefix every contract route is appended to.
func (h *HTTP) BaseURL() string { return h.base }

func (h *HTTP) GetResponse(ctx context.Context, req *protocol.ContractRequest) (*protocol.ContractResponse, error) {
	names, err := h.paramNames(req)
	if err != nil {
		return nil, err
	}
	hr, err := protocol.NewHTTPRequest(h.opts.Codec, h.base, names, req)
	if err != nil {
		return nil, err
	}
	hr = hr.WithContext(ctx)

	res, err := h.client.Do(hr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer cleanlyCloseBody(res.Body)

	resp, err := protocol.ReadHTTPResponse(h.opts.Codec, res)
	if err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		resp.ID = req.ID
	}
	log.Debug().Str("contract", req.Contract).Int("method", req.Method).Int("status", res.StatusCode).Msg("http call")
	return resp, nil
}

// paramNames resolves the form keys for req from the contract registry.
func (h *HTTP) paramNames(req *protocol.ContractRequest) ([]string, error) {
	info, ok := h.opts.Contracts.Lookup(req.Contract)
	if !ok {
		return nil, fmt.Errorf("%w: %s", contract.ErrUnknownMethod, req.Contract)
	}
	m, ok := info.Method(req.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", contract.ErrUnknownMethod, req.Contract, req.Method)
	}
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	return names, nil
}

// cleanlyCloseBody drains body so the connection can be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
