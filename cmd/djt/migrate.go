package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/types"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
)

// Migration commands
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema and move data between backends",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPostgres(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := storage.MigrateUp(store.Pool()); err != nil {
			return err
		}
		return printSchemaVersion(cmd, store)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every schema migration (drops all jobs)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to drop the jobs table without --yes")
		}

		store, err := openPostgres(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := storage.MigrateDown(store.Pool()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Schema rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPostgres(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return printSchemaVersion(cmd, store)
	},
}

var migrateBoltCmd = &cobra.Command{
	Use:   "bolt-to-postgres",
	Short: "Copy every job from a bolt data directory into Postgres",
	Long: `Copy every job from a bolt data directory into Postgres.

Jobs already present in Postgres are left untouched. The bolt database is
backed up first unless --dry-run is set, and it is never modified.`,
	RunE: runMigrateBolt,
}

func init() {
	migrateCmd.PersistentFlags().String("postgres-dsn", "", "Postgres connection string (default $DJT_STORE_POSTGRES_DSN)")

	migrateDownCmd.Flags().Bool("yes", false, "Confirm dropping all data")

	migrateBoltCmd.Flags().String("data-dir", "./djt-data", "Bolt data directory")
	migrateBoltCmd.Flags().Bool("dry-run", false, "Show what would be copied without making changes")
	migrateBoltCmd.Flags().String("backup", "", "Backup path for the bolt database (default: <data-dir>/djt.db.backup)")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateBoltCmd)
}

func openPostgres(cmd *cobra.Command) (*storage.PostgresStore, error) {
	dsn, _ := cmd.Flags().GetString("postgres-dsn")
	if dsn == "" {
		dsn = os.Getenv("DJT_STORE_POSTGRES_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("--postgres-dsn or DJT_STORE_POSTGRES_DSN is required")
	}

	store, err := storage.NewPostgresStore(cmd.Context(), dsn, noop.NewTracerProvider().Tracer("djt/migrate"), storage.DefaultMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return store, nil
}

func printSchemaVersion(cmd *cobra.Command, store *storage.PostgresStore) error {
	version, dirty, err := storage.SchemaVersion(store.Pool())
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d", version)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runMigrateBolt(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	dataDir, _ := flags.GetString("data-dir")
	dryRun, _ := flags.GetBool("dry-run")
	backupPath, _ := flags.GetString("backup")
	out := cmd.OutOrStdout()

	dbPath := filepath.Join(dataDir, "djt.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database not found at %s", dbPath)
	}

	// Create backup unless in dry-run mode
	if !dryRun {
		if backupPath == "" {
			backupPath = dbPath + ".backup"
		}
		if err := copyFile(dbPath, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		fmt.Fprintf(out, "✓ Backup created: %s\n", backupPath)
	}

	src, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer src.Close()

	jobs, err := src.ListJobs(cmd.Context(), types.JobFilter{})
	if err != nil {
		return fmt.Errorf("failed to read bolt jobs: %w", err)
	}
	fmt.Fprintf(out, "Found %d jobs in %s\n", len(jobs), dbPath)

	if dryRun {
		fmt.Fprintln(out, "Dry run completed. No changes made.")
		return nil
	}

	dst, err := openPostgres(cmd)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := storage.MigrateUp(dst.Pool()); err != nil {
		return err
	}

	copied, skipped, err := copyJobs(cmd.Context(), jobs, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Copied %d jobs, skipped %d already present\n", copied, skipped)
	return nil
}

// copyJobs inserts jobs into dst, skipping keys dst already holds
func copyJobs(ctx context.Context, jobs []*types.Job, dst storage.Store) (copied, skipped int, err error) {
	for _, job := range jobs {
		err := dst.InsertJob(ctx, job)
		switch {
		case errors.Is(err, types.ErrDuplicateJob):
			skipped++
		case err != nil:
			return copied, skipped, fmt.Errorf("failed to copy job %s: %w", job.Key, err)
		default:
			copied++
		}
	}
	return copied, skipped, nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
