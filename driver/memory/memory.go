// Package memory keeps a migration history in process memory. It follows the
// same contract as the Cassandra store, including lock leases, and records
// every statement executed through it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/migration"
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithRows(rows ...migration.Applied) Option {
	return func(s *Store) {
		s.rows = append(s.rows, rows...)
		s.tableReady = true
	}
}

type lease struct {
	owner   string
	expires time.Time
}

type Store struct {
	mu          sync.Mutex
	keyspace    string
	now         func() time.Time
	tableReady  bool
	lockReady   bool
	underLock   bool
	unavailable bool
	rows        []migration.Applied
	lock        *lease
	statements  []string
	failures    map[string]error
}

var (
	_ driver.Conn      = (*Store)(nil)
	_ driver.Connector = (*Store)(nil)
)

func New(keyspace string, opts ...Option) *Store {
	s := &Store{
		keyspace: keyspace,
		now:      time.Now,
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---

func (s *Store) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Keyspace() string {
	return s.keyspace
}

func (s *Store) Close() error {
	return nil
}

// FailOn makes every statement containing fragment fail with err.
func (s *Store) FailOn(fragment string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[fragment] = err
}

// SetUnavailable makes every store operation fail as if the cluster could not
// be reached.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *Store) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statements))
	copy(out, s.statements)
	return out
}

func (s *Store) Rows() []migration.Applied {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRows()
}

// ---

func (s *Store) Exec(ctx context.Context, stmt string, _ ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for fragment, err := range s.failures {
		if strings.Contains(stmt, fragment) {
			return err
		}
	}
	s.statements = append(s.statements, stmt)
	return nil
}

func (s *Store) EnsureLockTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	s.lockReady = true
	return nil
}

func (s *Store) EnsureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.tableReady {
		s.tableReady = true
		s.underLock = s.lock != nil && s.now().Before(s.lock.expires)
	}
	return nil
}

func (s *Store) TableExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.tableReady, nil
}

func (s *Store) ListApplied(ctx context.Context) ([]migration.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTable(ctx); err != nil {
		return nil, err
	}
	return s.sortedRows(), nil
}

func (s *Store) BaselineMarker(ctx context.Context) (*migration.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTable(ctx); err != nil {
		return nil, err
	}
	for _, row := range s.sortedRows() {
		if row.IsBaseline() {
			row := row
			return &row, nil
		}
	}
	return nil, nil
}

func (s *Store) Append(ctx context.Context, row migration.Applied) (migration.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTable(ctx); err != nil {
		return migration.Applied{}, err
	}

	rank := 1
	for _, existing := range s.rows {
		if existing.InstalledRank >= rank {
			rank = existing.InstalledRank + 1
		}
	}

	row.InstalledRank = rank
	if row.InstalledOn.IsZero() {
		row.InstalledOn = s.now()
	}
	s.rows = append(s.rows, row)

	return row, nil
}

// ---

func (s *Store) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLockTable(ctx); err != nil {
		return false, err
	}
	if s.lock != nil && s.now().Before(s.lock.expires) {
		return false, nil
	}
	s.lock = &lease{owner: owner, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *Store) RefreshLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLockTable(ctx); err != nil {
		return false, err
	}
	if s.lock == nil || s.lock.owner != owner || !s.now().Before(s.lock.expires) {
		return false, nil
	}
	s.lock.expires = s.now().Add(ttl)
	return true, nil
}

func (s *Store) ReleaseLock(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLockTable(ctx); err != nil {
		return err
	}
	if s.lock != nil && s.lock.owner == owner {
		s.lock = nil
	}
	return nil
}

// Tables reports which of the history and lock tables exist.
func (s *Store) Tables() (history, lock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableReady, s.lockReady
}

// CreatedUnderLock reports whether the history table was created while an
// unexpired lock was held.
func (s *Store) CreatedUnderLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underLock
}

// LockOwner reports who holds an unexpired lock, if anyone.
func (s *Store) LockOwner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil || !s.now().Before(s.lock.expires) {
		return "", false
	}
	return s.lock.owner, true
}

// ---

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable {
		return fmt.Errorf("%w: keyspace %s", driver.ErrStoreUnavailable, s.keyspace)
	}
	return nil
}

func (s *Store) checkTable(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.tableReady {
		return fmt.Errorf("%w: history table of %s does not exist", driver.ErrInvalidLogTable, s.keyspace)
	}
	return nil
}

func (s *Store) checkLockTable(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !s.lockReady {
		return fmt.Errorf("%w: lock table of %s does not exist", driver.ErrInvalidLogTable, s.keyspace)
	}
	return nil
}

func (s *Store) sortedRows() []migration.Applied {
	out := make([]migration.Applied, len(s.rows))
	copy(out, s.rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InstalledRank < out[j].InstalledRank
	})
	return out
}
