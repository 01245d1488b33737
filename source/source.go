package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/root-talis/cassmig/migration"
)

type Source interface {
	GetAvailableMigrations(ctx context.Context) ([]migration.Descriptor, error)
}

// Reader is implemented by sources whose migrations have a body that can be
// read back, such as script files.
type Reader interface {
	ReadMigration(ctx context.Context, descr migration.Descriptor) (io.ReadCloser, error)
}

var (
	ErrMigrationDuplicated = errors.New("migration version already exists")
	ErrMigrationNotFound   = errors.New("migration not found")
)

// Readers reads a migration from the first reader that has it.
type Readers []Reader

func (rs Readers) ReadMigration(ctx context.Context, descr migration.Descriptor) (io.ReadCloser, error) {
	for _, r := range rs {
		rdr, err := r.ReadMigration(ctx, descr)
		if errors.Is(err, ErrMigrationNotFound) {
			continue
		}
		return rdr, err
	}
	return nil, fmt.Errorf("%w: %s", ErrMigrationNotFound, descr.Script)
}
