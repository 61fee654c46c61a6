package domain

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/contractrpc/internal/lifecycle"
	"github.com/danmuck/contractrpc/internal/wire"
)

// SessionKind selects how a domain stores the session id between calls.
type SessionKind string

const (
	SessionNone    SessionKind = "none"
	SessionStatic  SessionKind = "static"
	SessionContext SessionKind = "context"
	SessionCookie  SessionKind = "cookie"
)

// Config is the connection profile of one domain.
type Config struct {
	Name            string
	Host            string
	Port            int
	Mode            string
	Path            string
	BufferSize      int
	MaxPayload      int
	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
	Session         SessionKind
	TextEncoding    string
	Headers         map[string]string
	TLS             *tls.Config
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = lifecycle.ModeSocket
	}
	c.Mode = strings.ToLower(c.Mode)
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Session == "" {
		c.Session = SessionStatic
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = lifecycle.DefaultResponseTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = lifecycle.DefaultConnectTimeout
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %s port %d out of range", ErrInvalidConfig, c.Name, c.Port)
	}
	if !lifecycle.HasMode(c.Mode) {
		return fmt.Errorf("%w: %s mode %q", ErrInvalidConfig, c.Name, c.Mode)
	}
	switch c.Session {
	case SessionNone, SessionStatic, SessionContext, SessionCookie:
	default:
		return fmt.Errorf("%w: %s session %q", ErrInvalidConfig, c.Name, c.Session)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: %s buffer size %d", ErrInvalidConfig, c.Name, c.BufferSize)
	}
	if c.MaxPayload < 0 {
		return fmt.Errorf("%w: %s max payload %d", ErrInvalidConfig, c.Name, c.MaxPayload)
	}
	if _, err := wire.TextEncoding(c.TextEncoding); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, err)
	}
	return nil
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) lifecycleOptions() lifecycle.Options {
	return lifecycle.Options{
		Mode:            c.Mode,
		Address:         c.Address(),
		Path:            c.Path,
		BufferSize:      c.BufferSize,
		MaxPayload:      c.MaxPayload,
		ConnectTimeout:  c.ConnectTimeout,
		ResponseTimeout: c.ResponseTimeout,
		TLS:             c.TLS,
	}
}
