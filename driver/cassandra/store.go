package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/migration"
)

const (
	lockTableSuffix = "_lock"
	lockName        = "migrations"
)

// column name -> cql type of the history table
var historyColumns = map[string]string{ // nolint:gochecknoglobals
	"installed_rank": "int",
	"version":        "text",
	"description":    "text",
	"type":           "text",
	"script":         "text",
	"checksum":       "int",
	"installed_by":   "text",
	"installed_on":   "timestamp",
	"execution_time": "int",
	"success":        "boolean",
}

func (c *Conn) historyTable() string {
	return c.cfg.Keyspace + "." + c.cfg.Table
}

func (c *Conn) lockTable() string {
	return c.cfg.Keyspace + "." + c.cfg.Table + lockTableSuffix
}

// EnsureLockTable creates the lock table when it is missing.
func (c *Conn) EnsureLockTable(ctx context.Context) error {
	exists, err := keyspaceExists(ctx, c.session, c.cfg.Keyspace)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", driver.ErrKeyspaceNotFound, c.cfg.Keyspace)
	}

	exists, err = c.tableExists(ctx, c.cfg.Table+lockTableSuffix)
	if err != nil || exists {
		return err
	}

	return c.createTable(ctx, c.lockTable(), fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"name        text, "+
			"owner       text, "+
			"acquired_on timestamp, "+
			"PRIMARY KEY (name))",
		c.lockTable(),
	))
}

// EnsureTable creates the history table when it is missing and checks that
// an existing one has the expected columns.
func (c *Conn) EnsureTable(ctx context.Context) error {
	exists, err := c.TableExists(ctx)
	if err != nil || exists {
		return err
	}

	err = c.createTable(ctx, c.historyTable(), fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"installed_rank int, "+
			"version        text, "+
			"description    text, "+
			"type           text, "+
			"script         text, "+
			"checksum       int, "+
			"installed_by   text, "+
			"installed_on   timestamp, "+
			"execution_time int, "+
			"success        boolean, "+
			"PRIMARY KEY (installed_rank))",
		c.historyTable(),
	))
	if err != nil {
		return err
	}

	return c.checkHistoryColumns(ctx)
}

func (c *Conn) TableExists(ctx context.Context) (bool, error) {
	exists, err := c.tableExists(ctx, c.cfg.Table)
	if err != nil || !exists {
		return false, err
	}
	if err := c.checkHistoryColumns(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Conn) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := c.session.Query(
		"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?",
		c.cfg.Keyspace, table,
	).WithContext(ctx).Scan(&name)

	switch {
	case errors.Is(err, gocql.ErrNotFound):
		return false, nil
	case err != nil:
		return false, storeError(fmt.Sprintf("failed to look up table %s", table), err)
	default:
		return true, nil
	}
}

// createTable runs stmt and waits until every node agrees on the new schema.
func (c *Conn) createTable(ctx context.Context, table, stmt string) error {
	if err := c.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return storeError(fmt.Sprintf("failed to create table %s", table), err)
	}
	if err := c.session.AwaitSchemaAgreement(ctx); err != nil {
		return storeError(fmt.Sprintf("no schema agreement after creating %s", table), err)
	}
	return nil
}

func (c *Conn) checkHistoryColumns(ctx context.Context) error {
	iter := c.session.Query(
		"SELECT column_name, type FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?",
		c.cfg.Keyspace, c.cfg.Table,
	).WithContext(ctx).Iter()

	found := make(map[string]string, len(historyColumns))
	var name, kind string
	for iter.Scan(&name, &kind) {
		found[name] = kind
	}
	if err := iter.Close(); err != nil {
		return storeError("failed to read history table columns", err)
	}

	for column, expected := range historyColumns {
		actual, ok := found[column]
		if !ok {
			return fmt.Errorf("%w: column %s is missing from %s", driver.ErrInvalidLogTable, column, c.historyTable())
		}
		if actual != expected {
			return fmt.Errorf("%w: column %s of %s is %s, expected %s",
				driver.ErrInvalidLogTable, column, c.historyTable(), actual, expected)
		}
	}

	return nil
}

// ---

func (c *Conn) ListApplied(ctx context.Context) ([]migration.Applied, error) {
	iter := c.session.Query(fmt.Sprintf(
		"SELECT installed_rank, version, description, type, script, checksum, "+
			"installed_by, installed_on, execution_time, success FROM %s",
		c.historyTable(),
	)).WithContext(ctx).Iter()

	result := make([]migration.Applied, 0)
	for {
		var (
			row           migration.Applied
			version       string
			kind          string
			checksum      int
			executionTime int
		)
		if !iter.Scan(
			&row.InstalledRank,
			&version,
			&row.Description,
			&kind,
			&row.Script,
			&checksum,
			&row.InstalledBy,
			&row.InstalledOn,
			&executionTime,
			&row.Success,
		) {
			break
		}

		// unparseable versions are kept as undefined so that they show up in reports
		row.Version, _ = migration.ParseVersion(version)
		row.Type = migration.ParseType(kind)
		row.Checksum = int32(checksum) //nolint:gosec // column is a cql int
		row.ExecutionTime = time.Duration(executionTime) * time.Millisecond

		result = append(result, row)
	}
	if err := iter.Close(); err != nil {
		return nil, storeError(fmt.Sprintf("failed to list applied migrations from %s", c.historyTable()), err)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].InstalledRank < result[j].InstalledRank
	})

	return result, nil
}

func (c *Conn) BaselineMarker(ctx context.Context) (*migration.Applied, error) {
	rows, err := c.ListApplied(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.IsBaseline() {
			row := row
			return &row, nil
		}
	}
	return nil, nil
}

// Append takes the next installed rank with a lightweight transaction. Losing
// the race for a rank fails with driver.ErrRankConflict.
func (c *Conn) Append(ctx context.Context, row migration.Applied) (migration.Applied, error) {
	rank, err := c.nextRank(ctx)
	if err != nil {
		return migration.Applied{}, err
	}

	row.InstalledRank = rank
	if row.InstalledOn.IsZero() {
		row.InstalledOn = time.Now()
	}

	applied, err := c.session.Query(fmt.Sprintf(
		"INSERT INTO %s (installed_rank, version, description, type, script, checksum, "+
			"installed_by, installed_on, execution_time, success) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS",
		c.historyTable(),
	),
		row.InstalledRank,
		row.Version.String(),
		row.Description,
		string(row.Type),
		row.Script,
		int(row.Checksum),
		row.InstalledBy,
		row.InstalledOn,
		int(row.ExecutionTime/time.Millisecond),
		row.Success,
	).WithContext(ctx).SerialConsistency(c.cfg.SerialConsistency).MapScanCAS(map[string]any{})
	if err != nil {
		return migration.Applied{}, storeError(fmt.Sprintf("failed to append to %s", c.historyTable()), err)
	}
	if !applied {
		return migration.Applied{}, fmt.Errorf("%w: %d in %s", driver.ErrRankConflict, rank, c.historyTable())
	}

	return row, nil
}

func (c *Conn) nextRank(ctx context.Context) (int, error) {
	iter := c.session.Query(fmt.Sprintf(
		"SELECT installed_rank FROM %s", c.historyTable(),
	)).WithContext(ctx).Iter()

	highest := 0
	var rank int
	for iter.Scan(&rank) {
		if rank > highest {
			highest = rank
		}
	}
	if err := iter.Close(); err != nil {
		return 0, storeError(fmt.Sprintf("failed to read installed ranks from %s", c.historyTable()), err)
	}
	return highest + 1, nil
}

// ---

func (c *Conn) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	applied, err := c.session.Query(fmt.Sprintf(
		"INSERT INTO %s (name, owner, acquired_on) VALUES (?, ?, ?) IF NOT EXISTS USING TTL ?",
		c.lockTable(),
	), lockName, owner, time.Now(), ttlSeconds(ttl)).
		WithContext(ctx).
		SerialConsistency(c.cfg.SerialConsistency).
		MapScanCAS(map[string]any{})
	if err != nil {
		return false, storeError("failed to acquire migration lock", err)
	}
	return applied, nil
}

func (c *Conn) RefreshLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	applied, err := c.session.Query(fmt.Sprintf(
		"UPDATE %s USING TTL ? SET owner = ?, acquired_on = ? WHERE name = ? IF owner = ?",
		c.lockTable(),
	), ttlSeconds(ttl), owner, time.Now(), lockName, owner).
		WithContext(ctx).
		SerialConsistency(c.cfg.SerialConsistency).
		MapScanCAS(map[string]any{})
	if err != nil {
		return false, storeError("failed to refresh migration lock", err)
	}
	return applied, nil
}

func (c *Conn) ReleaseLock(ctx context.Context, owner string) error {
	_, err := c.session.Query(fmt.Sprintf(
		"DELETE FROM %s WHERE name = ? IF owner = ?",
		c.lockTable(),
	), lockName, owner).
		WithContext(ctx).
		SerialConsistency(c.cfg.SerialConsistency).
		MapScanCAS(map[string]any{})
	if err != nil {
		return storeError("failed to release migration lock", err)
	}
	return nil
}

func ttlSeconds(ttl time.Duration) int {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
