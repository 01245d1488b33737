// Package cql runs migration scripts written in CQL.
package cql

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/root-talis/cassmig/driver"
	"github.com/root-talis/cassmig/executor"
	"github.com/root-talis/cassmig/migration"
	"github.com/root-talis/cassmig/source"
)

// StatementError reports which statement of a script failed.
type StatementError struct {
	Script    string
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement #%d of %s failed: %v", e.Index+1, e.Script, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type Runner struct {
	reader source.Reader
	logger *slog.Logger
}

var _ executor.Runner = (*Runner)(nil)

func NewRunner(reader source.Reader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{reader: reader, logger: logger}
}

func (r *Runner) Run(ctx context.Context, session driver.Session, descr migration.Descriptor) error {
	rdr, err := r.reader.ReadMigration(ctx, descr)
	if err != nil {
		return err
	}
	defer rdr.Close()

	body, err := io.ReadAll(rdr)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", descr.Script, err)
	}

	statements := Split(string(body))
	if len(statements) == 0 {
		r.logger.Warn("migration script has no statements", "script", descr.Script)
		return nil
	}

	for i, stmt := range statements {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Debug("executing statement",
			"version", descr.Version.String(),
			"script", descr.Script,
			"index", i+1)

		if err := session.Exec(ctx, stmt); err != nil {
			return &StatementError{Script: descr.Script, Index: i, Statement: stmt, Err: err}
		}
	}

	return nil
}
