package bootstrap_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gitter-badger/gnomato/internal/bootstrap"
	"github.com/gitter-badger/gnomato/internal/persistence"
	_ "github.com/mattn/go-sqlite3"
)

func userTables(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name;`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		names = append(names, n)
	}
	return names
}

func TestEnsureReady_FreshInstall(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested", ".gnomato")
	dbPath := filepath.Join(home, "gnomato.db")

	db, err := bootstrap.EnsureReady(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	defer db.Close()

	info, err := os.Stat(home)
	if err != nil {
		t.Fatalf("stat home: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("home dir perm = %o, want 700", perm)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("db file missing: %v", err)
	}

	tables := userTables(t, db)
	if len(tables) != 1 || tables[0] != "Task" {
		t.Fatalf("tables = %v, want [Task]", tables)
	}
}

func TestEnsureReady_IdempotentKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gnomato.db")
	ctx := context.Background()

	db, err := bootstrap.EnsureReady(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("first ensure ready: %v", err)
	}
	store := persistence.NewStore(db, nil)
	id, err := store.Insert(ctx, "Write spec", 0, false)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = bootstrap.EnsureReady(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("second ensure ready: %v", err)
	}
	store = persistence.NewStore(db, nil)
	defer store.Close()

	got, found, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got.Name != "Write spec" {
		t.Fatalf("row lost after second bootstrap: found=%v task=%+v", found, got)
	}
	if tables := userTables(t, db); len(tables) != 1 {
		t.Fatalf("tables = %v, want exactly one", tables)
	}
}

func TestEnsureReady_ExistingFileIsNotAltered(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gnomato.db")

	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(persistence.SchemaTask); err != nil {
		t.Fatalf("create Task table: %v", err)
	}
	if _, err := raw.Exec(`CREATE TABLE Other (x INTEGER);`); err != nil {
		t.Fatalf("create other table: %v", err)
	}
	_ = raw.Close()

	db, err := bootstrap.EnsureReady(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("ensure ready on existing file: %v", err)
	}
	defer db.Close()

	tables := userTables(t, db)
	if len(tables) != 2 || tables[0] != "Other" || tables[1] != "Task" {
		t.Fatalf("existing store was altered, tables = %v", tables)
	}
}

func TestEnsureReady_ExistingFileWithoutTaskTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gnomato.db")

	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(`CREATE TABLE Other (x INTEGER);`); err != nil {
		t.Fatalf("create other table: %v", err)
	}
	_ = raw.Close()

	_, err = bootstrap.EnsureReady(context.Background(), dbPath, nil)
	if !errors.Is(err, persistence.ErrConnection) {
		t.Fatalf("expected ErrConnection for file without Task table, got %v", err)
	}

	raw, err = sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("reopen raw db: %v", err)
	}
	defer raw.Close()
	if tables := userTables(t, raw); len(tables) != 1 || tables[0] != "Other" {
		t.Fatalf("schema added to an existing file, tables = %v", tables)
	}
}

func TestEnsureReady_ExistingEmptyFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gnomato.db")
	if err := os.WriteFile(dbPath, nil, 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	_, err := bootstrap.EnsureReady(context.Background(), dbPath, nil)
	if !errors.Is(err, persistence.ErrConnection) {
		t.Fatalf("expected ErrConnection for 0-byte file, got %v", err)
	}
	if errors.Is(err, bootstrap.ErrBootstrap) {
		t.Fatalf("existing file must not be reported as a bootstrap failure: %v", err)
	}
}

func TestEnsureReady_DirectoryFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := bootstrap.EnsureReady(context.Background(), filepath.Join(blocker, "gnomato.db"), nil)
	if err == nil {
		t.Fatal("expected directory error")
	}
	if !errors.Is(err, bootstrap.ErrBootstrap) {
		t.Fatalf("expected ErrBootstrap, got %v", err)
	}
	var bErr *bootstrap.Error
	if !errors.As(err, &bErr) || bErr.Cause != bootstrap.CauseDirectory {
		t.Fatalf("expected directory cause, got %#v", err)
	}
}

func TestEnsureReady_CorruptExistingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gnomato.db")
	if err := os.WriteFile(dbPath, bytes.Repeat([]byte("not sqlite "), 64), 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	_, err := bootstrap.EnsureReady(context.Background(), dbPath, nil)
	if err == nil {
		t.Fatal("expected connection error for corrupt file")
	}
	if !errors.Is(err, persistence.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestEnsureReady_EmptyPath(t *testing.T) {
	_, err := bootstrap.EnsureReady(context.Background(), "", nil)
	var bErr *bootstrap.Error
	if !errors.As(err, &bErr) || bErr.Cause != bootstrap.CauseFile {
		t.Fatalf("expected file cause, got %v", err)
	}
}
