package admin

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/logger"
)

const defaultMigrationsSource = "file://migrations"

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply every pending up migration, or roll back with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup("stderr")
			if err != nil {
				return err
			}
			defer cleanup()

			source, _ := cmd.Flags().GetString("migrations")
			if steps, _ := cmd.Flags().GetInt("down"); steps > 0 {
				return rollbackMigrations(cfg.DatabaseURL, source, steps, logger.L())
			}
			return runMigrations(cfg.DatabaseURL, source, logger.L())
		},
	}

	cmd.Flags().String("migrations", defaultMigrationsSource, "Migration source URL")
	cmd.Flags().Int("down", 0, "Roll back this many migrations instead of applying")
	return cmd
}

func newMigrate(databaseURL, source string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, func() { _ = db.Close() }, nil
}

func runMigrations(databaseURL, source string, log *zap.Logger) error {
	m, closeDB, err := newMigrate(databaseURL, source)
	if err != nil {
		return err
	}
	defer closeDB()

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("migrations: no migrations applied")
	case err != nil:
		return fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	case errors.Is(upErr, migrate.ErrNoChange):
		log.Info("migrations: database is up to date", zap.Uint("version", version))
	default:
		log.Info("migrations: applied successfully", zap.Uint("version", version))
	}
	return nil
}

func rollbackMigrations(databaseURL, source string, steps int, log *zap.Logger) error {
	m, closeDB, err := newMigrate(databaseURL, source)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	log.Info("migrations: rolled back", zap.Int("steps", steps))
	return nil
}
