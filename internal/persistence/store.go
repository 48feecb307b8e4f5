// Package persistence owns the on-disk task database: connection setup, the
// Task schema and parameterized CRUD over it.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gitter-badger/gnomato/internal/bus"
	gotel "github.com/gitter-badger/gnomato/internal/otel"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	driverName    = "sqlite3"
	busyTimeoutMS = 5000
)

// SchemaTask creates the single Task table. AUTOINCREMENT keeps ids
// monotonic even after the highest row is deleted.
const SchemaTask = `CREATE TABLE Task (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(200),
	pomodoros INTEGER,
	done INTEGER
);`

type Store struct {
	db      *sql.DB
	bus     *bus.Bus // may be nil in tests
	tracer  trace.Tracer
	metrics *gotel.Metrics // may be nil
}

// Option configures a Store.
type Option func(*Store)

// WithTracer records an internal span per store operation.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics counts operations and failures.
func WithMetrics(m *gotel.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Connect opens the database file at path and verifies it is readable as
// SQLite. With create false a missing file is a connection error.
func Connect(ctx context.Context, path string, create bool) (*sql.DB, error) {
	if path == "" {
		return nil, connectionError("open", errors.New("path is empty"))
	}
	mode := "rw"
	if create {
		mode = "rwc"
	}
	dsn, err := fileDSN(path, mode)
	if err != nil {
		return nil, connectionError("open", err)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, connectionError("open", err)
	}
	// One connection: every operation serializes on the same file handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connectionError("open", fmt.Errorf("ping %s: %w", path, err))
	}
	if err := configurePragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, connectionError("open", err)
	}
	return db, nil
}

// fileDSN builds an SQLite URI for path. The path is made absolute and
// escaped so '?', '#' and '%' in directory names survive.
func fileDSN(path, mode string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("_busy_timeout", strconv.Itoa(busyTimeoutMS))
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// HasSchema reports whether the Task table exists.
func HasSchema(ctx context.Context, db *sql.DB) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?;`, "Task",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return n == 1, nil
}

// ConnectExisting connects to a file that must already carry the Task
// table. A missing, locked or corrupt file, or one without the table,
// fails with ErrConnection. No table is ever created here.
func ConnectExisting(ctx context.Context, path string) (*sql.DB, error) {
	db, err := Connect(ctx, path, false)
	if err != nil {
		return nil, err
	}
	ok, err := HasSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, connectionError("open", err)
	}
	if !ok {
		_ = db.Close()
		return nil, connectionError("open", fmt.Errorf("%s has no Task table", path))
	}
	return db, nil
}

// Open connects to an existing, bootstrapped store.
func Open(ctx context.Context, path string, eventBus *bus.Bus, opts ...Option) (*Store, error) {
	db, err := ConnectExisting(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewStore(db, eventBus, opts...), nil
}

// NewStore wraps a connection that already carries the schema, typically
// the one returned by bootstrap.EnsureReady.
func NewStore(db *sql.DB, eventBus *bus.Bus, opts ...Option) *Store {
	s := &Store{
		db:     db,
		bus:    eventBus,
		tracer: nooptrace.NewTracerProvider().Tracer(gotel.ScopeName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// observe starts a span for op and returns a finisher recording the outcome.
func (s *Store) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, gotel.AttrStoreOp.String(op))
	ctx, span := gotel.StartSpan(ctx, s.tracer, "store."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		if s.metrics != nil {
			set := metric.WithAttributes(gotel.AttrStoreOp.String(op))
			s.metrics.StoreOps.Add(ctx, 1, set)
			if err != nil {
				s.metrics.StoreErrors.Add(ctx, 1, set)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int64("gnomato.store.duration_us", time.Since(start).Microseconds()))
		span.End()
	}
}
