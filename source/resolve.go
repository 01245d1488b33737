package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/root-talis/cassmig/migration"
)

type DuplicateVersionError struct {
	Version migration.Version
	First   string
	Second  string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf(
		"%s: version %s is provided by both %q and %q",
		ErrMigrationDuplicated, e.Version, e.First, e.Second,
	)
}

func (e *DuplicateVersionError) Unwrap() error {
	return ErrMigrationDuplicated
}

// ---

// Resolve collects the migrations of all sources into a catalog sorted by
// version. Two migrations may not share a version unless one of them is a
// baseline.
func Resolve(ctx context.Context, sources ...Source) ([]migration.Descriptor, error) {
	var catalog []migration.Descriptor

	for _, src := range sources {
		descriptors, err := src.GetAvailableMigrations(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
		}
		catalog = append(catalog, descriptors...)
	}

	sort.SliceStable(catalog, func(i, j int) bool {
		return catalog[i].Version.Less(catalog[j].Version)
	})

	var last *migration.Descriptor
	for i := range catalog {
		cur := &catalog[i]
		if cur.Type == migration.TypeBaseline {
			continue
		}
		if last != nil && last.Version.Equal(cur.Version) {
			return nil, &DuplicateVersionError{Version: cur.Version, First: last.Script, Second: cur.Script}
		}
		last = cur
	}

	return catalog, nil
}

// ---

// Static is a fixed list of descriptors.
type Static []migration.Descriptor

func (s Static) GetAvailableMigrations(context.Context) ([]migration.Descriptor, error) {
	out := make([]migration.Descriptor, len(s))
	copy(out, s)
	return out, nil
}
