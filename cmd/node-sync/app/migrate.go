package app

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/stacklok/node-sync/database"
	"github.com/stacklok/node-sync/internal/app/storage"
	"github.com/stacklok/node-sync/internal/config"
	"github.com/stacklok/node-sync/internal/store/sqlstore"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema management",
		Long:  `Create or drop the nodes table. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	migrateCmd.PersistentFlags().String("env-file", config.DefaultEnvFile, "Path to a dotenv file, ignored when missing")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the schema",
		Long:  `Create the nodes table if it does not exist. The serve command does this on start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, false)
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Drop the schema",
		Long:  `Drop the nodes table and the snapshot it holds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, true)
		},
	})

	return migrateCmd
}

func runMigrate(cmd *cobra.Command, down bool) error {
	ctx := cmd.Context()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return err
	}

	if down && !yes {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), "This drops all stored nodes. Continue? (yes/no): ")
		response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read user input: %w", err)
		}
		if r := strings.TrimSpace(response); r != "yes" && r != "y" {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	backend, err := storage.BackendFor(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	if backend == storage.BackendPostgres {
		err = migratePostgres(ctx, cfg.DatabaseURL, down)
	} else {
		err = migrateSQLite(ctx, cfg.DatabaseURL, down)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Migrations applied successfully", "backend", backend, "down", down)
	return nil
}

func migrateSQLite(ctx context.Context, databaseURL string, down bool) error {
	dsn, _, err := sqlstore.DSN(databaseURL)
	if err != nil {
		return err
	}
	db, err := sql.Open(sqlstore.DriverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	if down {
		return database.MigrateDown(ctx, db)
	}
	return database.MigrateUp(ctx, db)
}

func migratePostgres(ctx context.Context, databaseURL string, down bool) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if down {
		return database.MigrateDownPool(ctx, pool)
	}
	return database.MigrateUpPool(ctx, pool)
}
