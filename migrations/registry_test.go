package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	inbox "github.com/inletapp/go-inbox"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func coreDDLWithout(excluded string) string {
	var ddl strings.Builder
	for _, table := range coreTables {
		if table == excluded {
			continue
		}
		ddl.WriteString("CREATE TABLE IF NOT EXISTS " + table + " (id TEXT PRIMARY KEY);\n")
	}
	return ddl.String()
}

func noopRegisterFn(context.Context, string, string, fs.FS) error { return nil }

func TestRegister_RejectsMissingDownCounterpart(t *testing.T) {
	partial := fstest.MapFS{
		"0001_inbox_core.up.sql": {Data: []byte(coreDDLWithout(""))},
	}
	_, err := Register(context.Background(), noopRegisterFn,
		WithValidationTargets(DialectSQLite),
		WithFilesystems(FilesystemSpec{Dialect: DialectSQLite, Path: "mem", FS: partial}),
	)
	if err == nil || !strings.Contains(err.Error(), "down counterpart") {
		t.Fatalf("expected missing down script to be rejected; got %v", err)
	}
}

func TestRegister_RejectsDialectDrift(t *testing.T) {
	ddl := coreDDLWithout("")
	postgres := fstest.MapFS{
		"0001_inbox_core.up.sql":   {Data: []byte(ddl)},
		"0001_inbox_core.down.sql": {Data: []byte("DROP TABLE inbox_items;")},
	}
	sqlite := fstest.MapFS{
		"0002_inbox_core.up.sql":   {Data: []byte(ddl)},
		"0002_inbox_core.down.sql": {Data: []byte("DROP TABLE inbox_items;")},
	}
	_, err := Register(context.Background(), noopRegisterFn,
		WithValidationTargets(DialectPostgres, DialectSQLite),
		WithFilesystems(
			FilesystemSpec{Dialect: DialectPostgres, Path: "mem/pg", FS: postgres},
			FilesystemSpec{Dialect: DialectSQLite, Path: "mem/sqlite", FS: sqlite},
		),
	)
	if err == nil || !strings.Contains(err.Error(), "different migration sets") {
		t.Fatalf("expected mismatched dialect sets to be rejected; got %v", err)
	}
}

func TestRegister_RejectsDDLMissingCoreTable(t *testing.T) {
	incomplete := fstest.MapFS{
		"0001_inbox_core.up.sql":   {Data: []byte(coreDDLWithout("inbox_lock_leases"))},
		"0001_inbox_core.down.sql": {Data: []byte("DROP TABLE inbox_items;")},
	}
	calls := 0
	_, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error {
		calls++
		return nil
	},
		WithValidationTargets(DialectSQLite),
		WithFilesystems(FilesystemSpec{Dialect: DialectSQLite, Path: "mem", FS: incomplete}),
	)
	if err == nil || !strings.Contains(err.Error(), "inbox_lock_leases") {
		t.Fatalf("expected the missing table to be named; got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no registration before validation passes; got %d", calls)
	}
}

func TestInboxCoreMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := inbox.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/20260301000000_inbox_core.up.sql",
		"data/sql/migrations/20260301000000_inbox_core.down.sql",
		"data/sql/migrations/sqlite/20260301000000_inbox_core.up.sql",
		"data/sql/migrations/sqlite/20260301000000_inbox_core.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-inbox-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := inbox.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "20260301000000_inbox_core.up.sql"); err != nil {
		t.Fatalf("apply core migration up: %v", err)
	}

	requiredTables := []string{
		"inbox_connections",
		"inbox_credentials",
		"inbox_subscriptions",
		"inbox_creators",
		"inbox_items",
		"inbox_user_items",
		"inbox_seen_entries",
		"inbox_quota_usage",
		"inbox_dead_letters",
		"inbox_lock_leases",
	}
	for _, tableName := range requiredTables {
		var count int
		if err := db.QueryRowContext(
			context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			tableName,
		).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master for %s: %v", tableName, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertItem := `
		INSERT INTO inbox_items
			(id, provider_id, provider_item_id, url_key, kind, title, canonical_url, creator_id, duration_seconds, media_ref, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertItem,
		"item_1", "youtube", "vid_1", "", "video", "First", "", "", 0, "", "{}",
		"2026-03-01T00:00:00Z", "2026-03-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertItem,
		"item_2", "youtube", "vid_1", "", "video", "Duplicate", "", "", 0, "", "{}",
		"2026-03-01T00:01:00Z", "2026-03-01T00:01:00Z",
	); err == nil {
		t.Fatalf("expected unique provider item violation")
	}

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "20260301000000_inbox_core.down.sql"); err != nil {
		t.Fatalf("apply core migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"inbox_items",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected inbox_items to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
