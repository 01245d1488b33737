package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/cassmig"
	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/driver/cassandra"
	"github.com/root-talis/cassmig/driver/memory"
	"github.com/root-talis/cassmig/dump"
	"github.com/root-talis/cassmig/internal/cli"
	"github.com/root-talis/cassmig/source/registry"
)

type harness struct {
	store *memory.Store
	dir   string
	seen  *cassandra.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"V1_0_0__First.cql":  "CREATE TABLE test1 (id int PRIMARY KEY);",
		"V2_0_0__Second.cql": "INSERT INTO test1 (id) VALUES (1);",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	return &harness{store: memory.New("ks"), dir: dir}
}

func (h *harness) execute(t *testing.T, args []string, opts ...cli.Option) (string, string, error) {
	t.Helper()

	opts = append([]cli.Option{
		cli.WithConnector(func(cfg cassandra.Config) driver.Connector {
			h.seen = &cfg
			return h.store
		}),
		cli.WithEnviron([]string{
			"CASSMIG_KEYSPACE=ks",
			"CASSMIG_LOCATIONS=filesystem:" + h.dir,
			"CASSMIG_INSTALLED_BY=ci",
		}),
	}, opts...)

	var stdout, stderr bytes.Buffer
	cmd := cli.NewRootCommand(opts...)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCommandPresence(t *testing.T) {
	t.Parallel()

	cmd := cli.NewRootCommand()
	for _, name := range []string{"migrate", "baseline", "validate", "info"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"config", "env-file", "verbose", "log-format", "out-of-order", "locations", "metrics-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}

	info, _, err := cmd.Find([]string{"info"})
	require.NoError(t, err)
	format := info.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)
}

func TestMigrateAndInfo(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	stdout, stderr, err := h.execute(t, []string{"migrate"})
	require.NoError(t, err, stderr)
	assert.Equal(t, "Applied 2 migration(s) to keyspace ks\n", stdout)
	assert.Contains(t, stderr, "Successfully applied 2 migration(s)")

	require.NotNil(t, h.seen)
	assert.Equal(t, "ks", h.seen.Keyspace)

	rows := h.store.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "ci", rows[0].InstalledBy)

	stdout, _, err = h.execute(t, []string{"info", "--format", "json"})
	require.NoError(t, err)

	var records []dump.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "1.0.0", records[0].Version)
	assert.Equal(t, "Success", records[1].State)

	stdout, _, err = h.execute(t, []string{"info"})
	require.NoError(t, err)
	assert.Contains(t, stdout, "| Version |")
	assert.Contains(t, stdout, "| Second ")

	stdout, _, err = h.execute(t, []string{"validate"})
	require.NoError(t, err)
	assert.Equal(t, "Keyspace ks is valid\n", stdout)
}

func TestValidateFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, _, err := h.execute(t, []string{"migrate"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "V1_0_0__First.cql")))

	stdout, _, err := h.execute(t, []string{"validate"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cassmig.ErrValidation)
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(err))
	assert.Contains(t, stdout, "1.0.0")
}

func TestBaselineCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	stdout, _, err := h.execute(t, []string{"baseline"},
		cli.WithEnviron([]string{"CASSMIG_KEYSPACE=ks", "CASSMIG_LOCATIONS=" + h.dir, "CASSMIG_BASELINE_VERSION=1.5"}))
	require.NoError(t, err)
	assert.Equal(t, "Keyspace ks is baselined\n", stdout)

	rows := h.store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "1.5", rows[0].Version.String())

	// 1.0.0 is below the baseline, only 2.0.0 remains
	stdout, _, err = h.execute(t, []string{"migrate"})
	require.NoError(t, err)
	assert.Equal(t, "Applied 1 migration(s) to keyspace ks\n", stdout)

	_, _, err = h.execute(t, []string{"baseline"})
	assert.ErrorIs(t, err, cassmig.ErrBaselineConflict)
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(err))
}

func TestCodeMigrations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reg := registry.New()
	reg.MustRegister("3.0", "Seed", func(ctx context.Context, session driver.Session) error {
		return session.Exec(ctx, "INSERT INTO test1 (id) VALUES (3)")
	})

	stdout, _, err := h.execute(t, []string{"migrate"}, cli.WithSources(reg))
	require.NoError(t, err)
	assert.Equal(t, "Applied 3 migration(s) to keyspace ks\n", stdout)
	assert.Contains(t, h.store.Statements(), "INSERT INTO test1 (id) VALUES (3)")
}

func TestMetricsFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "cassmig.prom")

	_, _, err := h.execute(t, []string{"migrate", "--metrics-file", path})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cassmig_migrations_applied_total{keyspace="ks",type="CQL"} 2`)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		environ []string
		code    int
	}{
		/* e0 */ {name: "no keyspace", args: []string{"migrate"}, environ: []string{}, code: cli.ExitCommandError},
		/* e1 */ {name: "bad log format", args: []string{"info", "--log-format", "xml"}, code: cli.ExitCommandError},
		/* e2 */ {name: "bad output format", args: []string{"info", "--format", "xml"}, code: cli.ExitCommandError},
		/* e3 */ {name: "missing location", args: []string{"migrate", "--locations", "filesystem:/does/not/exist"}, code: cli.ExitCommandError},
		/* e4 */ {name: "missing config file", args: []string{"migrate", "--config", "/does/not/exist.toml"}, code: cli.ExitCommandError},
		/* e5 */ {name: "bad env value", args: []string{"migrate"}, environ: []string{"CASSMIG_KEYSPACE=ks", "CASSMIG_PORT=x"}, code: cli.ExitCommandError},
		/* e6 */ {name: "unknown command", args: []string{"repair"}, code: cli.ExitCommandError},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			var opts []cli.Option
			if test.environ != nil {
				opts = append(opts, cli.WithEnviron(test.environ))
			}

			_, _, err := h.execute(t, test.args, opts...)
			require.Error(t, err)
			assert.Equal(t, test.code, cli.GetExitCode(err))
			assert.Empty(t, h.store.Rows())
		})
	}
}

func TestStoreFailureExitCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetUnavailable(true)

	_, _, err := h.execute(t, []string{"migrate"})
	assert.ErrorIs(t, err, driver.ErrStoreUnavailable)
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(err))
}
