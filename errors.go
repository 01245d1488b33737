package cassmig

import (
	"errors"
	"fmt"

	"github.com/root-talis/cassmig/migration"
)

var (
	ErrLockContention   = errors.New("another migration is in progress")
	ErrLockLost         = errors.New("migration lock was lost")
	ErrBaselineConflict = errors.New("cannot baseline")
	ErrValidation       = errors.New("validation failed")
	ErrUnitFailed       = errors.New("migration unit failed")
	ErrMigrationFailed  = errors.New("migration failed")
)

// MigrationError wraps every error returned by the Migrator's operations.
type MigrationError struct {
	Op      string
	Version migration.Version
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Version.IsUndefined() {
		return fmt.Sprintf("%s: %s: %v", ErrMigrationFailed, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s of version %s: %v", ErrMigrationFailed, e.Op, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Err}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var migErr *MigrationError
	if errors.As(err, &migErr) {
		return err
	}
	return &MigrationError{Op: op, Err: err}
}
