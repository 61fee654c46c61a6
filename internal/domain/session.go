package domain

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/danmuck/contractrpc/internal/protocol"
)

// SessionProvider stores the session id a domain sends with each call and
// receives updates from responses.
type SessionProvider interface {
	Session(ctx context.Context) string
	SetSession(ctx context.Context, id string)
}

type noSession struct{}

func (noSession) Session(context.Context) string     { return "" }
func (noSession) SetSession(context.Context, string) {}

// StaticSession shares one id across every call of the domain.
type StaticSession struct {
	mu sync.RWMutex
	id string
}

func (s *StaticSession) Session(context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *StaticSession) SetSession(_ context.Context, id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

type sessionKey struct{}

type sessionSlot struct {
	mu sync.Mutex
	id string
}

// WithSession returns a context carrying a mutable session slot for
// ContextSession. Calls made with the returned context read and update it.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, &sessionSlot{id: id})
}

// SessionFrom reads the slot installed by WithSession.
func SessionFrom(ctx context.Context) (string, bool) {
	slot, ok := ctx.Value(sessionKey{}).(*sessionSlot)
	if !ok {
		return "", false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id, true
}

// ContextSession scopes the session to a context created by WithSession.
// Updates on a context without a slot are dropped.
type ContextSession struct{}

func (ContextSession) Session(ctx context.Context) string {
	id, _ := SessionFrom(ctx)
	return id
}

func (ContextSession) SetSession(ctx context.Context, id string) {
	slot, ok := ctx.Value(sessionKey{}).(*sessionSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.id = id
	slot.mu.Unlock()
}

// CookieSession keeps the session in a cookie jar scoped to the domain URL.
type CookieSession struct {
	jar *cookiejar.Jar
	u   *url.URL
}

func NewCookieSession(address string) (*CookieSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &CookieSession{jar: jar, u: &url.URL{Scheme: "http", Host: address, Path: "/"}}, nil
}

// Jar exposes the backing jar, e.g. for an http.Client.
func (s *CookieSession) Jar() http.CookieJar {
	return s.jar
}

func (s *CookieSession) Session(context.Context) string {
	for _, c := range s.jar.Cookies(s.u) {
		if c.Name == protocol.SessionCookie {
			return c.Value
		}
	}
	return ""
}

func (s *CookieSession) SetSession(_ context.Context, id string) {
	c := &http.Cookie{Name: protocol.SessionCookie, Value: id, Path: "/"}
	if id == "" {
		c.MaxAge = -1
	}
	s.jar.SetCookies(s.u, []*http.Cookie{c})
}

func newSessionProvider(cfg Config) (SessionProvider, error) {
	switch cfg.Session {
	case SessionNone:
		return noSession{}, nil
	case SessionContext:
		return ContextSession{}, nil
	case SessionCookie:
		return NewCookieSession(cfg.Address())
	default:
		return &StaticSession{}, nil
	}
}
