// Package sqlitestore is the SQLite-backed document store. Besides CRUD it
// owns the connection lifecycle and reports every transition to an observer,
// which in production is the connectivity monitor.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/datastore/sqlitestore/migrations"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// StateObserver receives connection lifecycle events.
type StateObserver interface {
	Observe(connectivity.State)
}

// Store persists users, groups and tasks in SQLite.
type Store struct {
	path     string
	observer StateObserver

	mu sync.RWMutex
	db *sql.DB

	logger *slog.Logger
}

var (
	_ datastore.Store        = (*Store)(nil)
	_ connectivity.Connector = (*Store)(nil)
)

// New prepares a store for path. No connection is made until Connect.
func New(logger *slog.Logger, path string, observer StateObserver) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", datastore.ErrValidation)
	}
	return &Store{
		path:     filepath.Clean(path),
		observer: observer,
		logger:   logger.With(slog.String("component", "sqlite_store")),
	}, nil
}

func (s *Store) report(state connectivity.State) {
	if s.observer != nil {
		s.observer.Observe(state)
	}
}

// Connect opens the database, pings it and applies migrations. It reports
// Connecting, then Connected or Disconnected.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	s.report(connectivity.Connecting)
	dsn := "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.report(connectivity.Disconnected)
		return fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		s.report(connectivity.Disconnected)
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		s.report(connectivity.Disconnected)
		return fmt.Errorf("run migrations: %w", err)
	}

	s.db = db
	s.logger.Info("Datastore connected", slog.String("path", s.path))
	s.report(connectivity.Connected)
	return nil
}

// Disconnect closes the handle. Subsequent operations fail with ErrUnavailable.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.report(connectivity.Disconnecting)
	err := s.db.Close()
	s.db = nil
	s.report(connectivity.Disconnected)
	s.logger.Info("Datastore disconnected", slog.Any("error", err))
	return err
}

// Probe pings the live handle. A failed ping tears the connection down so the
// monitor sees the loss.
func (s *Store) Probe(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		s.logger.Warn("Datastore probe failed", slog.Any("error", err))
		_ = s.Disconnect(ctx)
		return fmt.Errorf("%w: %v", datastore.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, datastore.ErrUnavailable
	}
	return s.db, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, username string) (datastore.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return datastore.User{}, fmt.Errorf("%w: username is required", datastore.ErrValidation)
	}
	db, err := s.handle()
	if err != nil {
		return datastore.User{}, err
	}
	user := datastore.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
		user.ID, user.Username, toMillis(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return datastore.User{}, fmt.Errorf("%w: username %q is taken", datastore.ErrConflict, username)
		}
		return datastore.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (datastore.User, error) {
	db, err := s.handle()
	if err != nil {
		return datastore.User{}, err
	}
	var (
		user      datastore.User
		createdAt int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, username, current_group_id, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Username, &user.CurrentGroupID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return datastore.User{}, fmt.Errorf("user %q: %w", id, datastore.ErrNotFound)
	}
	if err != nil {
		return datastore.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

func (s *Store) SetCurrentGroup(ctx context.Context, userID, groupID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE users SET current_group_id = ? WHERE id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("set current group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", userID, datastore.ErrNotFound)
	}
	return nil
}

// --- Groups ---

func (s *Store) CreateGroup(ctx context.Context, name, joinCode string) (datastore.Group, error) {
	name = strings.TrimSpace(name)
	joinCode = strings.TrimSpace(joinCode)
	if name == "" {
		return datastore.Group{}, fmt.Errorf("%w: group name is required", datastore.ErrValidation)
	}
	if joinCode == "" {
		return datastore.Group{}, fmt.Errorf("%w: join code is required", datastore.ErrValidation)
	}
	db, err := s.handle()
	if err != nil {
		return datastore.Group{}, err
	}
	group := datastore.Group{
		ID:        uuid.NewString(),
		Name:      name,
		JoinCode:  joinCode,
		Members:   []string{},
		CreatedAt: time.Now().UTC(),
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO group_records (id, name, join_code, created_at) VALUES (?, ?, ?, ?)`,
		group.ID, group.Name, group.JoinCode, toMillis(group.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return datastore.Group{}, fmt.Errorf("%w: join code %q is taken", datastore.ErrConflict, joinCode)
		}
		return datastore.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return group, nil
}

func (s *Store) GetGroupByID(ctx context.Context, id string) (datastore.Group, error) {
	return s.getGroup(ctx, "id", id)
}

func (s *Store) GetGroupByJoinCode(ctx context.Context, joinCode string) (datastore.Group, error) {
	return s.getGroup(ctx, "join_code", joinCode)
}

func (s *Store) getGroup(ctx context.Context, column, value string) (datastore.Group, error) {
	db, err := s.handle()
	if err != nil {
		return datastore.Group{}, err
	}
	var (
		group     datastore.Group
		createdAt int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, name, join_code, created_at FROM group_records WHERE `+column+` = ?`, value,
	).Scan(&group.ID, &group.Name, &group.JoinCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return datastore.Group{}, fmt.Errorf("group %s=%q: %w", column, value, datastore.ErrNotFound)
	}
	if err != nil {
		return datastore.Group{}, fmt.Errorf("get group: %w", err)
	}
	group.CreatedAt = fromMillis(createdAt)

	members, err := s.listMembers(ctx, db, group.ID)
	if err != nil {
		return datastore.Group{}, err
	}
	group.Members = members
	return group, nil
}

func (s *Store) listMembers(ctx context.Context, db *sql.DB, groupID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// AddGroupMember is idempotent: re-adding an existing member is not an error.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) (datastore.Group, error) {
	if strings.TrimSpace(userID) == "" {
		return datastore.Group{}, fmt.Errorf("%w: user id is required", datastore.ErrValidation)
	}
	db, err := s.handle()
	if err != nil {
		return datastore.Group{}, err
	}
	if _, err := s.GetGroupByID(ctx, groupID); err != nil {
		return datastore.Group{}, err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
		groupID, userID, toMillis(time.Now()),
	); err != nil {
		return datastore.Group{}, fmt.Errorf("add member: %w", err)
	}
	return s.GetGroupByID(ctx, groupID)
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, groupID, title string) (datastore.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return datastore.Task{}, fmt.Errorf("%w: task title is required", datastore.ErrValidation)
	}
	db, err := s.handle()
	if err != nil {
		return datastore.Task{}, err
	}
	task := datastore.Task{ID: uuid.NewString(), GroupID: groupID, Title: title}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO tasks (id, group_id, title) VALUES (?, ?, ?)`,
		task.ID, task.GroupID, task.Title,
	); err != nil {
		return datastore.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *Store) SetTaskCompleted(ctx context.Context, taskID string, completed bool) (datastore.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return datastore.Task{}, fmt.Errorf("%w: task id is required", datastore.ErrValidation)
	}
	db, err := s.handle()
	if err != nil {
		return datastore.Task{}, err
	}

	var completedAt sql.NullInt64
	if completed {
		completedAt = sql.NullInt64{Int64: toMillis(time.Now()), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, completed_at = ? WHERE id = ?`,
		completed, completedAt, taskID,
	)
	if err != nil {
		return datastore.Task{}, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return datastore.Task{}, fmt.Errorf("task %q: %w", taskID, datastore.ErrNotFound)
	}

	var (
		task datastore.Task
		at   sql.NullInt64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, group_id, title, completed, completed_at FROM tasks WHERE id = ?`, taskID,
	).Scan(&task.ID, &task.GroupID, &task.Title, &task.Completed, &at)
	if err != nil {
		return datastore.Task{}, fmt.Errorf("reload task: %w", err)
	}
	if at.Valid {
		ts := fromMillis(at.Int64)
		task.CompletedAt = &ts
	}
	return task, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
