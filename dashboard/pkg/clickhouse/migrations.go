package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/acme/truckair/dashboard"
)

const migrationsDir = "db/clickhouse/migrations"

// goose keeps its logger, base FS and dialect in package globals.
var gooseMu sync.Mutex

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RunMigrations creates the truck_metrics table and anything later migrations
// add to it.
func RunMigrations(ctx context.Context, log *slog.Logger, cfg ClientConfig) error {
	log.Info("running ClickHouse migrations with goose")

	db, err := newSQLDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database connection for migrations: %w", err)
	}
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := setupGoose(log); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("ClickHouse migrations completed successfully")
	return nil
}

// MigrationStatus logs the status of all migrations
func MigrationStatus(ctx context.Context, log *slog.Logger, cfg ClientConfig) error {
	db, err := newSQLDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := setupGoose(log); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, migrationsDir)
}

func setupGoose(log *slog.Logger) error {
	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(dashboard.ClickHouseMigrationsFS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// newSQLDB creates a database/sql compatible connection for goose
func newSQLDB(cfg ClientConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return clickhouse.OpenDB(cfg.options()), nil
}
