// Package registry holds migrations written in Go.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/executor"
	"github.com/root-talis/cassmig/migration"
	"github.com/root-talis/cassmig/source"
)

var ErrNotRegistered = fmt.Errorf("%w: not in the registry", source.ErrMigrationNotFound)

// Func is the body of a code migration. Use cassandra.Gocql to reach the
// driver session when a statement needs more than Exec.
type Func func(ctx context.Context, session driver.Session) error

type entry struct {
	descr migration.Descriptor
	fn    Func
}

type Option func(*migration.Descriptor)

// WithScript overrides the name stored in the history table, which defaults
// to the name of the function.
func WithScript(script string) Option {
	return func(d *migration.Descriptor) { d.Script = script }
}

func WithChecksum(checksum int32) Option {
	return func(d *migration.Descriptor) { d.Checksum = checksum }
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var (
	_ source.Source   = (*Registry)(nil)
	_ executor.Runner = (*Registry)(nil)
)

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(version, description string, fn Func, opts ...Option) error {
	if fn == nil {
		return fmt.Errorf("migration %s has no function", version)
	}

	v, err := migration.ParseVersion(version)
	if err != nil {
		return err
	}

	descr := migration.Descriptor{
		Version:     v,
		Description: description,
		Type:        migration.TypeCode,
		Script:      funcName(fn),
		Locator:     v.Key(),
	}
	for _, opt := range opts {
		opt(&descr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[v.Key()]; ok {
		return &source.DuplicateVersionError{
			Version: v,
			First:   existing.descr.Script,
			Second:  descr.Script,
		}
	}
	r.entries[v.Key()] = entry{descr: descr, fn: fn}

	return nil
}

func (r *Registry) MustRegister(version, description string, fn Func, opts ...Option) {
	if err := r.Register(version, description, fn, opts...); err != nil {
		panic(err)
	}
}

func (r *Registry) GetAvailableMigrations(ctx context.Context) ([]migration.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]migration.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e.descr)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version.Less(result[j].Version)
	})

	return result, nil
}

func (r *Registry) Run(ctx context.Context, session driver.Session, descr migration.Descriptor) error {
	r.mu.RLock()
	e, ok := r.entries[descr.Locator]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, descr.Version)
	}
	return e.fn(ctx, session)
}

func funcName(fn Func) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "<unknown>"
}
