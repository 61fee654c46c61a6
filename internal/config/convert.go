package config

import (
	"github.com/danmuck/contractrpc/internal/domain"
	"github.com/danmuck/contractrpc/internal/host"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
)

// Config converts the entry, loading TLS material when enabled.
func (d DomainConfig) Config() (domain.Config, error) {
	tlsCfg, err := d.TLS.ClientTLS()
	if err != nil {
		return domain.Config{}, err
	}
	return domain.Config{
		Name:            d.Name,
		Host:            d.Host,
		Port:            d.Port,
		Mode:            d.Mode,
		Path:            d.Path,
		BufferSize:      d.BufferSize,
		MaxPayload:      d.MaxPayload,
		ResponseTimeout: d.ResponseTimeout.Std(),
		ConnectTimeout:  d.ConnectTimeout.Std(),
		Session:         domain.SessionKind(d.Session),
		TextEncoding:    d.TextEncoding,
		Headers:         d.Headers,
		TLS:             tlsCfg,
	}, nil
}

// Registry builds a domain for every entry.
func (c ClientConfig) Registry(opts ...domain.Option) (*domain.Registry, error) {
	reg := domain.NewRegistry()
	for _, entry := range c.Domains {
		cfg, err := entry.Config()
		if err != nil {
			return nil, err
		}
		d, err := domain.New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		reg.Add(d)
	}
	return reg, nil
}

func (c HostConfig) HostOptions() []host.Option {
	opts := []host.Option{host.WithName(c.Name)}
	if c.BufferSize > 0 {
		opts = append(opts, host.WithBufferSize(c.BufferSize))
	}
	if c.RateLimit > 0 {
		opts = append(opts, host.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return opts
}

func (c HostConfig) HTTPOptions() host.HTTPOptions {
	return host.HTTPOptions{
		BasePath:      c.BasePath,
		WebSocketPath: c.WebSocketPath,
		CORSOrigins:   c.CORSOrigins,
		Limits:        c.Limits(),
	}
}

// Limits caps frame payloads at max_payload.
func (c HostConfig) Limits() frame.Limits {
	return frame.LimitsFor(c.MaxPayload)
}
