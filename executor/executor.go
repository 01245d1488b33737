package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/migration"
)

var ErrNoRunner = errors.New("no runner for migration type")

// Runner applies one kind of migration unit.
type Runner interface {
	Run(ctx context.Context, session driver.Session, descr migration.Descriptor) error
}

type RunnerFunc func(ctx context.Context, session driver.Session, descr migration.Descriptor) error

func (f RunnerFunc) Run(ctx context.Context, session driver.Session, descr migration.Descriptor) error {
	return f(ctx, session, descr)
}

// Executor dispatches a descriptor to the runner registered for its type.
type Executor struct {
	runners map[migration.Type]Runner
	now     func() time.Time
}

type Option func(*Executor)

func WithRunner(typ migration.Type, runner Runner) Option {
	return func(e *Executor) { e.runners[typ] = runner }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(opts ...Option) *Executor {
	e := &Executor{
		runners: make(map[migration.Type]Runner),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Handles(typ migration.Type) bool {
	_, ok := e.runners[typ]
	return ok
}

// Execute runs descr and reports how long it took, also when it failed.
func (e *Executor) Execute(ctx context.Context, session driver.Session, descr migration.Descriptor) (time.Duration, error) {
	runner, ok := e.runners[descr.Type]
	if !ok {
		return 0, fmt.Errorf("%w %s (version %s)", ErrNoRunner, descr.Type, descr.Version)
	}

	start := e.now()
	err := runner.Run(ctx, session, descr)
	elapsed := e.now().Sub(start)

	return elapsed, err
}
