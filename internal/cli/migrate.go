package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/store"
)

// MigrateResult reports an applied schema.
type MigrateResult struct {
	Driver  string `json:"driver"`
	Version int    `json:"schema_version"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("Schema is at version %d (%s)", r.Version, r.Driver)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create the snapshots and ops tables if they are missing and upgrade
older layouts to the current schema. Safe to run repeatedly.

Examples:
  docstore migrate --driver sqlite3 --dsn ./docs.db
  docstore migrate --config docstore.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runMigrate(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	p, err := opts.openPool()
	if err != nil {
		return err
	}
	s, err := store.New(p)
	if err != nil {
		p.Close()
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}
	return opts.formatter(cmd).Success(MigrateResult{
		Driver:  p.Driver(),
		Version: store.SchemaVersion,
	})
}
