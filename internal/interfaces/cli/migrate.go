package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// migrationStatus is the output of migrate status.
type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty)", s.Version)
	}
	return fmt.Sprintf("version %d", s.Version)
}

// NewMigrateCmd creates the migrate command group for the concept dictionary
// schema.
func NewMigrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the concept dictionary schema",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory or source URL (default: postgres.migration_path)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			src := migrationsPath(cmd, path)
			if err := postgres.RunMigrations(dsn, src); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate up")
			}
			PrintSuccess(cmd, "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			src := migrationsPath(cmd, path)
			if err := postgres.RollbackMigration(dsn, src, steps); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate down")
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL(cmd)
			if err != nil {
				return err
			}
			src := migrationsPath(cmd, path)
			version, dirty, err := postgres.MigrationStatus(dsn, src)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate status")
			}
			return PrintResult(cmd, migrationStatus{Version: version, Dirty: dirty})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

// databaseURL connects once to verify the configured database and returns
// its connection string.
func databaseURL(cmd *cobra.Command) (string, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(cmd, cliCtx)
	defer cancel()
	return connString(ctx, cliCtx)
}

func migrationsPath(cmd *cobra.Command, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if cliCtx, err := GetCLIContext(cmd); err == nil && cliCtx.Config.Postgres.MigrationPath != "" {
		return cliCtx.Config.Postgres.MigrationPath
	}
	return "migrations"
}

func connString(ctx context.Context, cliCtx *CLIContext) (string, error) {
	conn, err := postgres.NewConnection(ctx, cliCtx.Config.Postgres, cliCtx.Logger)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.ConnString(), nil
}
