package contract

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Registry memoizes Info per interface type. Concurrent first lookups of
// the same type share one build; readers never observe a partial Info.
type Registry struct {
	types *wire.TypeRegistry

	mu     sync.RWMutex
	specs  map[reflect.Type]Spec
	infos  map[reflect.Type]*Info
	byName map[string]*Info
	builds singleflight.Group
}

// Default resolves descriptors through wire.DefaultRegistry.
var Default = NewRegistry(wire.DefaultRegistry)

func NewRegistry(types *wire.TypeRegistry) *Registry {
	if types == nil {
		types = wire.DefaultRegistry
	}
	return &Registry{
		types:  types,
		specs:  make(map[reflect.Type]Spec),
		infos:  make(map[reflect.Type]*Info),
		byName: make(map[string]*Info),
	}
}

// Types returns the codec type registry contract types are recorded in.
func (r *Registry) Types() *wire.TypeRegistry {
	return r.types
}

// Define stores the spec used when iface is first built. Redefining is
// allowed until the Info exists.
func (r *Registry) Define(iface reflect.Type, spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, built := r.infos[iface]; built {
		return fmt.Errorf("%w: %v", ErrAlreadyBuilt, iface)
	}
	r.specs[iface] = spec
	return nil
}

// Info returns the cached Info for iface, building it on first use.
func (r *Registry) Info(iface reflect.Type) (*Info, error) {
	if info, ok := r.cached(iface); ok {
		return info, nil
	}
	if iface == nil {
		return nil, ErrNotInterface
	}
	key := iface.PkgPath() + "." + iface.String()
	v, err, _ := r.builds.Do(key, func() (any, error) {
		if info, ok := r.cached(iface); ok {
			return info, nil
		}
		r.mu.RLock()
		spec := r.specs[iface]
		r.mu.RUnlock()

		info, err := Build(iface, spec, r.types)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.infos[iface] = info
		r.byName[strings.ToLower(info.Name)] = info
		r.mu.Unlock()
		log.Debug().Str("contract", info.Name).Int("methods", len(info.Methods)).Msg("contract info built")
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Info), nil
}

func (r *Registry) cached(iface reflect.Type) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[iface]
	return info, ok
}

// Lookup finds a built contract by service name, case-insensitively.
func (r *Registry) Lookup(name string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[strings.ToLower(name)]
	return info, ok
}

// All returns built contracts in no particular order.
func (r *Registry) All() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	return out
}

// Define records spec for T in Default.
func Define[T any](spec Spec) error {
	return Default.Define(reflect.TypeFor[T](), spec)
}

// InfoOf returns the Info for interface T from r.
func InfoOf[T any](r *Registry) (*Info, error) {
	return r.Info(reflect.TypeFor[T]())
}
