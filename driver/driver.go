package driver

import (
	"context"
	"errors"
	"time"

	"github.com/root-talis/cassmig/migration"
)

// Session runs statements against the target keyspace.
type Session interface {
	Exec(ctx context.Context, stmt string, args ...any) error
}

// Store is the only way to read and write the migration history of a keyspace.
// Rows are appended, never updated.
type Store interface {
	// EnsureLockTable creates the lock table when it is missing. It is the only
	// schema change made without holding the lock.
	EnsureLockTable(ctx context.Context) error

	// EnsureTable creates the history table when it is missing and checks the
	// structure of an existing one. Callers hold the lock.
	EnsureTable(ctx context.Context) error

	// TableExists reports whether the history table exists and, if it does,
	// checks its structure like EnsureTable. It never changes the schema.
	TableExists(ctx context.Context) (bool, error)

	ListApplied(ctx context.Context) ([]migration.Applied, error)
	BaselineMarker(ctx context.Context) (*migration.Applied, error)

	// Append stores row with the next installed rank and returns it as stored.
	Append(ctx context.Context, row migration.Applied) (migration.Applied, error)

	AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, owner string) error
}

type Conn interface {
	Session
	Store
	Keyspace() string
	Close() error
}

type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

var (
	ErrInvalidLogTable   = errors.New("an error has occurred when reading log table")
	ErrStoreUnavailable  = errors.New("migration store is unavailable")
	ErrKeyspaceNotFound  = errors.New("keyspace does not exist")
	ErrRankConflict      = errors.New("installed rank is already taken")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// ---

// Borrow turns a connection owned by the caller into a Connector. Closing the
// connections it hands out leaves conn open.
func Borrow(conn Conn) Connector {
	return borrowed{conn: conn}
}

type borrowed struct {
	conn Conn
}

func (b borrowed) Connect(context.Context) (Conn, error) {
	return noClose{Conn: b.conn}, nil
}

type noClose struct {
	Conn
}

func (noClose) Close() error {
	return nil
}

func (c noClose) Unwrap() Conn {
	return c.Conn
}

// Unwrap returns the innermost session behind connections handed out by Borrow.
func Unwrap(s Session) Session {
	for {
		w, ok := s.(interface{ Unwrap() Conn })
		if !ok {
			return s
		}
		s = w.Unwrap()
	}
}
