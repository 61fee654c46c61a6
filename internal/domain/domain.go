// Package domain is the client side of contract calls: named connection
// profiles, session and header state, and clients that turn positional
// arguments into requests.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/lifecycle"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/wire"
)

var (
	ErrInvalidConfig = errors.New("domain: invalid config")
	ErrDomainInUse   = errors.New("domain: configuration is frozen after first call")
	ErrUnknownDomain = errors.New("domain: unknown domain")
)

// Domain is one named endpoint. Its configuration may change until the
// first call goes out.
type Domain struct {
	mu        sync.RWMutex
	cfg       Config
	codec     *wire.Codec
	sessions  SessionProvider
	headers   *wire.FoldMap
	files     []protocol.File
	contracts *contract.Registry
	factory   lifecycle.Factory
	used      atomic.Bool
}

type Option func(*Domain)

// WithContracts binds the domain to an owned contract registry. Its type
// registry also backs the codec.
func WithContracts(r *contract.Registry) Option {
	return func(d *Domain) {
		if r != nil {
			d.contracts = r
		}
	}
}

// WithSessionProvider overrides the provider chosen from Config.Session.
func WithSessionProvider(p SessionProvider) Option {
	return func(d *Domain) {
		d.sessions = p
	}
}

// WithLifeCycleFactory replaces lifecycle.New for this domain.
func WithLifeCycleFactory(f lifecycle.Factory) Option {
	return func(d *Domain) {
		d.factory = f
	}
}

func New(cfg Config, opts ...Option) (*Domain, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Domain{
		cfg:       cfg,
		contracts: contract.Default,
		factory:   lifecycle.New,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.apply(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// apply derives codec, headers and (unless overridden) the session
// provider from cfg.
func (d *Domain) apply(cfg Config) error {
	enc, err := wire.TextEncoding(cfg.TextEncoding)
	if err != nil {
		return err
	}
	d.codec = wire.NewCodec(wire.WithRegistry(d.contracts.Types()), wire.WithTextEncoding(enc))
	d.headers = wire.FoldMapOf(cfg.Headers)
	if d.sessions == nil || cfg.Session != d.cfg.Session || cfg.Address() != d.cfg.Address() {
		sp, err := newSessionProvider(cfg)
		if err != nil {
			return err
		}
		d.sessions = sp
	}
	d.cfg = cfg
	return nil
}

func (d *Domain) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Name
}

func (d *Domain) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Domain) Contracts() *contract.Registry {
	return d.contracts
}

func (d *Domain) Codec() *wire.Codec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.codec
}

// Update edits the configuration. It fails with ErrDomainInUse once a call
// has been made. The name cannot change.
func (d *Domain) Update(fn func(*Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.used.Load() {
		return fmt.Errorf("%w: %s", ErrDomainInUse, d.cfg.Name)
	}
	next := d.cfg
	next.Headers = cloneHeaders(d.cfg.Headers)
	fn(&next)
	next.Name = d.cfg.Name
	next = next.WithDefaults()
	if err := next.Validate(); err != nil {
		return err
	}
	return d.apply(next)
}

// InUse reports whether the domain has issued a call.
func (d *Domain) InUse() bool {
	return d.used.Load()
}

func (d *Domain) Session(ctx context.Context) string {
	d.mu.RLock()
	sp := d.sessions
	d.mu.RUnlock()
	return sp.Session(ctx)
}

func (d *Domain) SetSession(ctx context.Context, id string) {
	d.mu.RLock()
	sp := d.sessions
	d.mu.RUnlock()
	sp.SetSession(ctx, id)
}

// Header reads a header sent with every call.
func (d *Domain) Header(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.headers.Get(key)
}

func (d *Domain) SetHeader(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers.Set(key, value)
}

// Headers returns a snapshot of the header map.
func (d *Domain) Headers() *wire.FoldMap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.headers.Clone()
}

// AttachFiles queues files for the next call made through this domain.
func (d *Domain) AttachFiles(files ...protocol.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = append(d.files, files...)
}

// callState is what one call snapshots from the domain.
type callState struct {
	codec   *wire.Codec
	session SessionProvider
	headers *wire.FoldMap
	files   []protocol.File
}

// begin freezes the configuration and takes the pending files.
func (d *Domain) begin() callState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used.Store(true)
	st := callState{
		codec:   d.codec,
		session: d.sessions,
		headers: d.headers.Clone(),
		files:   d.files,
	}
	d.files = nil
	return st
}

func (d *Domain) mergeHeaders(h *wire.FoldMap) {
	if h.Len() == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers.Merge(h)
}

// NewLifeCycle builds an unopened life cycle for the current config.
func (d *Domain) NewLifeCycle() (lifecycle.LifeCycle, error) {
	d.mu.RLock()
	opts := d.cfg.lifecycleOptions()
	opts.Codec = d.codec
	factory := d.factory
	d.mu.RUnlock()
	opts.Contracts = d.contracts
	return factory(opts.WithDefaults())
}

func cloneHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Registry holds domains by case-insensitive name. Adding a name that
// exists replaces it.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]*Domain)}
}

func (r *Registry) Add(d *Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[strings.ToLower(d.Name())] = d
}

func (r *Registry) Get(name string) (*Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[strings.ToLower(name)]
	return d, ok
}

// Lookup is Get reporting ErrUnknownDomain.
func (r *Registry) Lookup(name string) (*Domain, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return d, nil
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.domains, strings.ToLower(name))
}

// Names lists registered domains in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d.Name())
	}
	sort.Strings(out)
	return out
}
