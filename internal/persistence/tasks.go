package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gitter-badger/gnomato/internal/bus"
	gotel "github.com/gitter-badger/gnomato/internal/otel"
)

// MaxNameLength is the longest task name accepted, in characters.
const MaxNameLength = 200

const (
	selectTaskSQL    = `SELECT id, name, pomodoros, done FROM Task WHERE id = ?;`
	selectPendingSQL = `SELECT id, name, pomodoros, done FROM Task WHERE done = 0 ORDER BY id;`
	insertTaskSQL    = `INSERT INTO Task (name, pomodoros, done) VALUES (?, ?, ?);`
	updateTaskSQL    = `UPDATE Task SET name = ?, pomodoros = ?, done = ? WHERE id = ?;`
	deleteTaskSQL    = `DELETE FROM Task WHERE id = ?;`
)

// Task is a persisted work unit.
type Task struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Pomodoros int    `json:"pomodoros"`
	Done      bool   `json:"done"`
}

// ParseID converts caller-supplied text into a task id. Anything that is
// not a positive base-10 integer fails with ErrValidation.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, validationError("parse id", "task id %q is not an integer", raw)
	}
	if id <= 0 {
		return 0, validationError("parse id", "task id %d must be positive", id)
	}
	return id, nil
}

func validateFields(op, name string, pomodoros int) error {
	if strings.TrimSpace(name) == "" {
		return validationError(op, "task name is required")
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return validationError(op, "task name is %d characters, limit is %d", n, MaxNameLength)
	}
	if pomodoros < 0 {
		return validationError(op, "pomodoros must be non-negative, got %d", pomodoros)
	}
	return nil
}

// Insert stores a new task and returns its freshly assigned id.
func (s *Store) Insert(ctx context.Context, name string, pomodoros int, done bool) (id int64, err error) {
	if err := validateFields("insert", name, pomodoros); err != nil {
		return 0, err
	}
	ctx, finish := s.observe(ctx, "insert")
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, insertTaskSQL, name, pomodoros, boolToInt(done))
	if err != nil {
		return 0, queryError("insert", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, queryError("insert", err)
	}
	s.bus.Publish(bus.TopicTaskCreated, bus.TaskEvent{
		TaskID: id, Name: name, Pomodoros: pomodoros, Done: done, RowsAffected: 1,
	})
	return id, nil
}

// Update replaces every field of task id. A missing id is not an error; the
// returned row count is zero and the caller decides what that means.
func (s *Store) Update(ctx context.Context, id int64, name string, pomodoros int, done bool) (affected int64, err error) {
	if err := validateFields("update", name, pomodoros); err != nil {
		return 0, err
	}
	ctx, finish := s.observe(ctx, "update", gotel.AttrTaskID.Int64(id))
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, updateTaskSQL, name, pomodoros, boolToInt(done), id)
	if err != nil {
		return 0, queryError("update", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, queryError("update", err)
	}
	s.bus.Publish(bus.TopicTaskUpdated, bus.TaskEvent{
		TaskID: id, Name: name, Pomodoros: pomodoros, Done: done, RowsAffected: affected,
	})
	return affected, nil
}

// Delete removes task id, returning the number of rows removed (0 or 1).
func (s *Store) Delete(ctx context.Context, id int64) (affected int64, err error) {
	ctx, finish := s.observe(ctx, "delete", gotel.AttrTaskID.Int64(id))
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, deleteTaskSQL, id)
	if err != nil {
		return 0, queryError("delete", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, queryError("delete", err)
	}
	s.bus.Publish(bus.TopicTaskDeleted, bus.TaskEvent{TaskID: id, RowsAffected: affected})
	return affected, nil
}

// Get returns task id. The boolean is false when no row matches.
func (s *Store) Get(ctx context.Context, id int64) (task Task, found bool, err error) {
	ctx, finish := s.observe(ctx, "get", gotel.AttrTaskID.Int64(id))
	defer func() { finish(err) }()

	task, err = scanTask(s.db.QueryRowContext(ctx, selectTaskSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, queryError("get", err)
	}
	return task, true, nil
}

// ListPending returns every task not marked done, in insertion order.
func (s *Store) ListPending(ctx context.Context) (tasks []Task, err error) {
	ctx, finish := s.observe(ctx, "list_pending")
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, selectPendingSQL)
	if err != nil {
		return nil, queryError("list pending", err)
	}
	defer rows.Close()

	tasks = make([]Task, 0, 8)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, queryError("list pending", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list pending", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask tolerates NULL columns, which databases written by older
// releases may contain.
func scanTask(row rowScanner) (Task, error) {
	var (
		t         Task
		name      sql.NullString
		pomodoros sql.NullInt64
		done      sql.NullInt64
	)
	if err := row.Scan(&t.ID, &name, &pomodoros, &done); err != nil {
		return Task{}, err
	}
	t.Name = name.String
	t.Pomodoros = int(pomodoros.Int64)
	t.Done = done.Int64 != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
