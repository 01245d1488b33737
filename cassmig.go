// Package cassmig applies versioned schema migrations to a Cassandra keyspace
// and keeps their history in a table of the same keyspace.
package cassmig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/executor"
	"github.com/root-talis/cassmig/executor/cql"
	"github.com/root-talis/cassmig/metrics"
	"github.com/root-talis/cassmig/migration"
	"github.com/root-talis/cassmig/source"
)

const DefaultBaselineVersion = "1"

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseValidating
	PhaseApplying
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseResolving:
		return "Resolving"
	case PhaseValidating:
		return "Validating"
	case PhaseApplying:
		return "Applying"
	case PhaseDone:
		return "Done"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ---

type Migrator struct {
	connector driver.Connector
	sources   []source.Source
	executor  *executor.Executor
	policy    Policy

	baselineVersion     string
	baselineDescription string
	baseline            migration.Version

	installedBy string
	lockTTL     time.Duration
	lockWait    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
	now         func() time.Time
}

type Option func(*Migrator)

func WithSources(sources ...source.Source) Option {
	return func(m *Migrator) { m.sources = append(m.sources, sources...) }
}

// WithExecutor replaces the executor assembled from the sources.
func WithExecutor(exec *executor.Executor) Option {
	return func(m *Migrator) { m.executor = exec }
}

func WithOutOfOrder(allow bool) Option {
	return func(m *Migrator) { m.policy.OutOfOrder = allow }
}

func WithIgnoreFuture(ignore bool) Option {
	return func(m *Migrator) { m.policy.IgnoreFuture = ignore }
}

func WithBaseline(version, description string) Option {
	return func(m *Migrator) {
		m.baselineVersion = version
		if description != "" {
			m.baselineDescription = description
		}
	}
}

func WithInstalledBy(name string) Option {
	return func(m *Migrator) { m.installedBy = name }
}

func WithLockTTL(ttl time.Duration) Option {
	return func(m *Migrator) { m.lockTTL = ttl }
}

// WithLockWait bounds how long Migrate and Baseline wait for another process
// to release the lock. Zero means a single attempt.
func WithLockWait(wait time.Duration) Option {
	return func(m *Migrator) { m.lockWait = wait }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) { m.logger = logger }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Migrator) { m.metrics = collector }
}

func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New creates a Migrator. Use driver.Borrow to run it on a connection that
// the caller keeps open.
func New(connector driver.Connector, opts ...Option) (*Migrator, error) {
	if connector == nil {
		return nil, errors.New("connector is required")
	}

	m := &Migrator{
		connector:           connector,
		policy:              Policy{},
		baselineVersion:     DefaultBaselineVersion,
		baselineDescription: migration.BaselineDescription,
		installedBy:         currentUser(),
		lockTTL:             DefaultLockTTL,
		lockWait:            DefaultLockWait,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.lockTTL < time.Second {
		return nil, fmt.Errorf("lock ttl must be at least 1s, got %s", m.lockTTL)
	}

	baseline, err := migration.ParseVersion(m.baselineVersion)
	if err != nil {
		return nil, fmt.Errorf("baseline version: %w", err)
	}
	m.baseline = baseline

	if m.executor == nil {
		m.executor = defaultExecutor(m.sources, m.logger)
	}

	return m, nil
}

func defaultExecutor(sources []source.Source, logger *slog.Logger) *executor.Executor {
	var (
		readers source.Readers
		runners runnerChain
	)
	for _, src := range sources {
		if r, ok := src.(source.Reader); ok {
			readers = append(readers, r)
		}
		if r, ok := src.(executor.Runner); ok {
			runners = append(runners, r)
		}
	}

	var opts []executor.Option
	if len(readers) > 0 {
		opts = append(opts, executor.WithRunner(migration.TypeCQL, cql.NewRunner(readers, logger)))
	}
	if len(runners) > 0 {
		opts = append(opts, executor.WithRunner(migration.TypeCode, runners))
	}
	return executor.New(opts...)
}

// runnerChain asks each runner in turn until one knows the migration.
type runnerChain []executor.Runner

func (c runnerChain) Run(ctx context.Context, session driver.Session, descr migration.Descriptor) error {
	err := fmt.Errorf("%w: %s", source.ErrMigrationNotFound, descr.Version)
	for _, r := range c {
		err = r.Run(ctx, session, descr)
		if !errors.Is(err, source.ErrMigrationNotFound) {
			return err
		}
	}
	return err
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cassmig"
}

// ---

// Migrate applies every pending migration in ascending version order and
// returns how many were applied. It stops at the first failing migration,
// after recording it in the history table.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied := 0

	err := m.locked(ctx, "migrate", func(ctx context.Context, conn driver.Conn) error {
		infos, err := m.inspect(ctx, conn)
		if err != nil {
			return err
		}

		m.setPhase(conn, PhaseValidating)
		if err := infos.Validate(); err != nil {
			return err
		}

		for _, skipped := range infos.Skipped() {
			m.logger.Warn("skipping migration below the current version, out-of-order migrations are disabled",
				"keyspace", conn.Keyspace(),
				"version", skipped.Version().String(),
				"description", skipped.Description())
		}

		pending := infos.Pending()
		if len(pending) == 0 {
			current := infos.Resolve(migration.Current)
			m.logger.Info("keyspace is up to date, no migration necessary",
				"keyspace", conn.Keyspace(),
				"version", current.String())
			return nil
		}

		m.setPhase(conn, PhaseApplying)
		for _, info := range pending {
			// a unit that started runs to completion, the lease is checked in between
			if err := ctx.Err(); err != nil {
				return context.Cause(ctx)
			}
			if err := m.apply(ctx, conn, *info.Descriptor); err != nil {
				return err
			}
			applied++
		}

		m.logger.Info(fmt.Sprintf("Successfully applied %d migration(s)", applied),
			"keyspace", conn.Keyspace(),
			"version", pending[len(pending)-1].Version().String())
		return nil
	})

	return applied, err
}

func (m *Migrator) apply(ctx context.Context, conn driver.Conn, descr migration.Descriptor) error {
	runCtx := context.WithoutCancel(ctx)

	m.logger.Info("migrating keyspace",
		"keyspace", conn.Keyspace(),
		"version", descr.Version.String(),
		"description", descr.Description)

	elapsed, execErr := m.executor.Execute(runCtx, conn, descr)

	row, err := conn.Append(runCtx, migration.Applied{
		Version:       descr.Version,
		Description:   descr.Description,
		Type:          descr.Type,
		Script:        descr.Script,
		Checksum:      descr.Checksum,
		InstalledBy:   m.installedBy,
		InstalledOn:   m.now(),
		ExecutionTime: elapsed,
		Success:       execErr == nil,
	})

	if execErr != nil {
		m.metrics.ObserveFailed(conn.Keyspace(), string(descr.Type), elapsed)
		m.logger.Error("migration failed",
			"keyspace", conn.Keyspace(),
			"version", descr.Version.String(),
			"description", descr.Description,
			"elapsed", elapsed,
			"error", execErr)

		unitErr := fmt.Errorf("%w: %w", ErrUnitFailed, execErr)
		if err != nil {
			unitErr = errors.Join(unitErr, fmt.Errorf("failed to record the failure: %w", err))
		}
		return &MigrationError{Op: "migrate", Version: descr.Version, Err: unitErr}
	}

	if err != nil {
		return &MigrationError{
			Op:      "migrate",
			Version: descr.Version,
			Err:     fmt.Errorf("migration was applied but could not be recorded: %w", err),
		}
	}

	m.metrics.ObserveApplied(conn.Keyspace(), string(descr.Type), elapsed)
	m.logger.Info("migration applied",
		"keyspace", conn.Keyspace(),
		"version", descr.Version.String(),
		"rank", row.InstalledRank,
		"elapsed", elapsed)

	return nil
}

// Baseline marks an existing keyspace as being at the baseline version, so
// that migrations up to it are never applied. It fails with
// ErrBaselineConflict when the history table already has migrations in it.
func (m *Migrator) Baseline(ctx context.Context) error {
	return m.locked(ctx, "baseline", func(ctx context.Context, conn driver.Conn) error {
		rows, err := conn.ListApplied(ctx)
		if err != nil {
			return err
		}
		var marker *migration.Applied
		for i := range rows {
			if !rows[i].IsBaseline() {
				return fmt.Errorf("%w: history table of keyspace %s already contains migrations",
					ErrBaselineConflict, conn.Keyspace())
			}
			if marker == nil {
				marker = &rows[i]
			}
		}

		if marker != nil {
			if marker.Version.Equal(m.baseline) && marker.Description == m.baselineDescription {
				m.logger.Info("keyspace is already baselined",
					"keyspace", conn.Keyspace(),
					"version", marker.Version.String())
				return nil
			}
			return fmt.Errorf("%w: keyspace %s is already baselined at version %s",
				ErrBaselineConflict, conn.Keyspace(), marker.Version)
		}

		row, err := conn.Append(ctx, migration.Applied{
			Version:     m.baseline,
			Description: m.baselineDescription,
			Type:        migration.TypeBaseline,
			Script:      m.baselineDescription,
			InstalledBy: m.installedBy,
			InstalledOn: m.now(),
			Success:     true,
		})
		if err != nil {
			return err
		}

		m.logger.Info("baselined keyspace",
			"keyspace", conn.Keyspace(),
			"version", row.Version.String(),
			"rank", row.InstalledRank)
		return nil
	})
}

// Validate compares the migrations found by the sources with the history
// table. It returns nil or a *MigrationError wrapping a *ValidationError.
func (m *Migrator) Validate(ctx context.Context) error {
	return m.unlocked(ctx, "validate", func(ctx context.Context, conn driver.Conn) error {
		infos, err := m.inspect(ctx, conn)
		if err != nil {
			return err
		}
		m.setPhase(conn, PhaseValidating)
		return infos.Validate()
	})
}

func (m *Migrator) Info(ctx context.Context) (*InfoService, error) {
	var infos *InfoService
	err := m.unlocked(ctx, "info", func(ctx context.Context, conn driver.Conn) error {
		var err error
		infos, err = m.inspect(ctx, conn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// ---

func (m *Migrator) inspect(ctx context.Context, conn driver.Conn) (*InfoService, error) {
	m.setPhase(conn, PhaseResolving)

	catalog, err := source.Resolve(ctx, m.sources...)
	if err != nil {
		return nil, err
	}

	// A keyspace nobody has migrated yet has no history table. Read-only
	// operations see it as empty history instead of creating it.
	exists, err := conn.TableExists(ctx)
	if err != nil {
		return nil, err
	}

	var history []migration.Applied
	if exists {
		history, err = conn.ListApplied(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
		}
	}

	return Reconcile(catalog, history, m.policy), nil
}

func (m *Migrator) unlocked(ctx context.Context, op string, fn func(context.Context, driver.Conn) error) error {
	conn, err := m.connector.Connect(ctx)
	if err != nil {
		return wrap(op, err)
	}
	defer conn.Close()

	return m.finish(conn, op, fn(ctx, conn))
}

// locked runs fn while holding the lock. The history table is created, or
// checked, only once the lease is held.
func (m *Migrator) locked(ctx context.Context, op string, fn func(context.Context, driver.Conn) error) error {
	conn, err := m.connector.Connect(ctx)
	if err != nil {
		return wrap(op, err)
	}
	defer conn.Close()

	if err := conn.EnsureLockTable(ctx); err != nil {
		return m.finish(conn, op, err)
	}

	start := time.Now()
	l, leaseCtx, err := acquireLease(ctx, conn, m.lockTTL, m.lockWait, m.logger.With("keyspace", conn.Keyspace()))
	m.metrics.ObserveLockWait(conn.Keyspace(), time.Since(start))
	if err != nil {
		return m.finish(conn, op, err)
	}
	defer l.release()

	err = conn.EnsureTable(leaseCtx)
	if err == nil {
		err = fn(leaseCtx, conn)
	}
	if err != nil && leaseCtx.Err() != nil && ctx.Err() == nil {
		err = context.Cause(leaseCtx)
	}

	return m.finish(conn, op, err)
}

func (m *Migrator) finish(conn driver.Conn, op string, err error) error {
	if err != nil {
		m.setPhase(conn, PhaseFailed)
		return wrap(op, err)
	}
	m.setPhase(conn, PhaseDone)
	return nil
}

func (m *Migrator) setPhase(conn driver.Conn, phase Phase) {
	m.logger.Debug("migrator phase changed", "keyspace", conn.Keyspace(), "phase", phase.String())
	m.metrics.SetPhase(conn.Keyspace(), phase.String())
}
