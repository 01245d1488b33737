package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/driver/memory"
	"github.com/root-talis/cassmig/migration"
	"github.com/root-talis/cassmig/source"
	"github.com/root-talis/cassmig/source/registry"
)

func insertGoogle(ctx context.Context, session driver.Session) error {
	return session.Exec(ctx, "INSERT INTO test1 (space, key, value) VALUES ('web', 'google', 'google.com')")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, reg.Register("3.0", "Third", insertGoogle))
	require.NoError(t, reg.Register("3.0.1", "Three point zero one",
		func(ctx context.Context, session driver.Session) error {
			return session.Exec(ctx, "INSERT INTO test1 (space, key, value) VALUES ('web', 'facebook', 'facebook.com')")
		},
		registry.WithScript("migrations.V3_0_1__Three_point_zero_one"),
		registry.WithChecksum(7)))

	descrs, err := reg.GetAvailableMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, descrs, 2)

	assert.Equal(t, "3.0", descrs[0].Version.String())
	assert.Equal(t, migration.TypeCode, descrs[0].Type)
	assert.Contains(t, descrs[0].Script, "insertGoogle")
	assert.Equal(t, "migrations.V3_0_1__Three_point_zero_one", descrs[1].Script)
	assert.Equal(t, int32(7), descrs[1].Checksum)

	session := memory.New("ks")
	require.NoError(t, reg.Run(context.Background(), session, descrs[1]))
	assert.Equal(t, []string{
		"INSERT INTO test1 (space, key, value) VALUES ('web', 'facebook', 'facebook.com')",
	}, session.Statements())
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, reg.Register("1", "First", insertGoogle))

	err := reg.Register("1.0", "Again", insertGoogle)
	assert.ErrorIs(t, err, source.ErrMigrationDuplicated)

	err = reg.Register("1..2", "Bad", insertGoogle)
	assert.ErrorIs(t, err, migration.ErrInvalidVersion)

	err = reg.Register("2", "Nil", nil)
	assert.Error(t, err)

	assert.Panics(t, func() { reg.MustRegister("1", "Panics", insertGoogle) })

	err = reg.Run(context.Background(), memory.New("ks"), migration.Descriptor{
		Version: migration.MustParseVersion("9"),
		Locator: "9",
	})
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestRegistryPropagatesFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	reg := registry.New()
	reg.MustRegister("1", "Fails", func(context.Context, driver.Session) error { return errBoom })

	descrs, err := reg.GetAvailableMigrations(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Run(context.Background(), memory.New("ks"), descrs[0]), errBoom)
}
