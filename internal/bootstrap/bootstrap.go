// Package bootstrap prepares the storage location on first run: the
// owner-only home directory, the database file and the Task schema.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gitter-badger/gnomato/internal/persistence"
)

// Cause tags which bootstrap step failed.
type Cause string

const (
	CauseDirectory Cause = "directory"
	CauseFile      Cause = "file"
	CauseSchema    Cause = "schema"
)

// ErrBootstrap matches every *Error with errors.Is.
var ErrBootstrap = errors.New("bootstrap failed")

// Error reports a failed bootstrap step. None are retried.
type Error struct {
	Cause Cause
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bootstrap %s %s: %v", e.Cause, e.Path, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrBootstrap, e.Err} }

// schemaStatement is the first-run DDL.
var schemaStatement = persistence.SchemaTask

// dirPerm keeps the installation directory private: tasks are personal data.
const dirPerm fs.FileMode = 0o700

// EnsureReady makes path usable as a task store and returns the process's
// single connection to it. An existing file is left untouched: the schema
// is created only when the file did not exist before the call, and an
// existing file without it fails with persistence.ErrConnection.
func EnsureReady(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, &Error{Cause: CauseFile, Path: path, Err: errors.New("store path is empty")}
	}

	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return nil, &Error{Cause: CauseDirectory, Path: dir, Err: err}
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		// Never repaired: a file without the Task table is not a store.
		return persistence.ConnectExisting(ctx, path)
	case !errors.Is(statErr, fs.ErrNotExist):
		return nil, &Error{Cause: CauseFile, Path: path, Err: statErr}
	}

	logger.Info("creating database", "path", path)
	db, err := persistence.Connect(ctx, path, true)
	if err != nil {
		return nil, &Error{Cause: CauseFile, Path: path, Err: err}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("restrict database file mode", "path", path, "error", err)
	}
	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		// Leave no half-initialized file behind so the next start retries.
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			_ = os.Remove(p)
		}
		return nil, &Error{Cause: CauseSchema, Path: path, Err: err}
	}
	logger.Info("database successfully created", "path", path)
	return db, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	// MkdirAll is subject to the umask; pin the leaf explicitly.
	return os.Chmod(dir, dirPerm)
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaStatement); err != nil {
		return fmt.Errorf("create Task table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
