package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/root-talis/cassmig"
	"github.com/root-talis/cassmig/dump"
)

func (a *app) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				applied, err := s.migrator.Migrate(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to keyspace %s\n", applied, s.keyspace)
				return err
			})
		},
	}
}

func (a *app) newBaselineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Mark an existing keyspace as being at the baseline version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.migrator.Baseline(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Keyspace %s is baselined\n", s.keyspace)
				return err
			})
		},
	}
}

func (a *app) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compare local migrations with the history table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				err := s.migrator.Validate(ctx)

				var validationErr *cassmig.ValidationError
				if errors.As(err, &validationErr) {
					for _, problem := range validationErr.Problems {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", problem)
					}
				}
				if err != nil {
					return err
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Keyspace %s is valid\n", s.keyspace)
				return err
			})
		},
	}
}

func (a *app) newInfoCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "List migrations and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := dump.ParseFormat(format)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --format", err)
			}

			return a.run(cmd, func(ctx context.Context, s *session) error {
				infos, err := s.migrator.Info(ctx)
				if err != nil {
					return err
				}
				return dump.Write(cmd.OutOrStdout(), f, infos.All())
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table|json|yaml)")

	return cmd
}
