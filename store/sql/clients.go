package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	inboxmigrations "github.com/inletapp/go-inbox/migrations"
)

// ClientConfig satisfies the go-persistence-bun config contract for the
// client helpers below.
type ClientConfig struct {
	Driver         string
	Server         string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ClientConfig) GetDebug() bool {
	return c.Debug
}

func (c ClientConfig) GetDriver() string {
	return c.Driver
}

func (c ClientConfig) GetServer() string {
	return c.Server
}

func (c ClientConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout > 0 {
		return c.PingTimeout
	}
	return 5 * time.Second
}

func (c ClientConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) != "" {
		return c.OtelIdentifier
	}
	return "go-inbox"
}

// NewPostgresClient opens a postgres-backed persistence client with the inbox
// migrations registered and applied.
func NewPostgresClient(ctx context.Context, dsn string, cfg ClientConfig) (*persistence.Client, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	cfg.Driver = "postgres"
	cfg.Server = dsn
	client, err := persistence.New(cfg, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := registerAndMigrate(ctx, client, inboxmigrations.DialectPostgres); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewSQLiteClient opens a sqlite-backed persistence client with the inbox
// migrations registered and applied.
func NewSQLiteClient(ctx context.Context, dsn string, cfg ClientConfig) (*persistence.Client, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	cfg.Driver = "sqlite3"
	cfg.Server = dsn
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := registerAndMigrate(ctx, client, inboxmigrations.DialectSQLite); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func registerAndMigrate(ctx context.Context, client *persistence.Client, dialect string) error {
	_, err := inboxmigrations.Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, inboxmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}
