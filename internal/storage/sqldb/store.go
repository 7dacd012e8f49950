// Package sqldb implements ports.Store over database/sql with sqlx. Records
// are kept as JSON documents next to the columns the queries key on.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/storage/dialect"
)

// Store is a SQL implementation of ports.Store that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, or postgres when a pgx driver is linked in
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	if !slices.Contains(sql.Drivers(), d.DriverName()) {
		return nil, fmt.Errorf("database driver %q is not linked into this binary", d.DriverName())
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isPrivateMemory(d, cfg.DSN) {
		// Each pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// isPrivateMemory reports whether dsn names a SQLite in-memory database that
// is not shared between connections.
func isPrivateMemory(d dialect.Dialect, dsn string) bool {
	if d.Name() != "sqlite" {
		return false
	}
	if dsn == ":memory:" || dsn == "" {
		return true
	}
	return strings.Contains(dsn, "mode=memory") && !strings.Contains(dsn, "cache=shared")
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	bigint, text := s.dialect.BigIntType(), s.dialect.TextType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	parent_task_id TEXT NOT NULL,
	ts_ns ` + bigint + ` NOT NULL,
	record ` + text + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	started_ns ` + bigint + ` NOT NULL,
	record ` + text + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS interactions (
	interaction_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	started_ns ` + bigint + ` NOT NULL,
	record ` + text + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS tool_call_lifecycles (
	tool_call_id TEXT PRIMARY KEY,
	interaction_id TEXT,
	task_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	invocation_ns ` + bigint + `,
	record ` + text + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, ts_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, started_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, started_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycles_interaction ON tool_call_lifecycles(interaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycles_task ON tool_call_lifecycles(task_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	if ev == nil || ev.EventID == "" {
		return fmt.Errorf("event id is required: %w", domain.ErrMalformedEvent)
	}
	record, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.EventID, err)
	}

	query := s.dialect.Rebind(`INSERT INTO events (event_id, session_id, task_id, parent_task_id, ts_ns, record)
	          VALUES (?, ?, ?, ?, ?, ?) ` + s.dialect.UpsertClause("event_id", nil))
	_, err = s.db.ExecContext(ctx, query,
		ev.EventID, ev.SessionID, ev.TaskID, ev.ParentTaskID, ev.Timestamp.UnixNano(), string(record))
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.EventID, err)
	}
	return nil
}

func (s *Store) ScanEvents(ctx context.Context, filter ports.EventFilter) ([]*domain.Event, error) {
	var where []string
	var args []any

	switch {
	case len(filter.TaskIDs) > 0 && len(filter.ParentTaskIDs) > 0:
		where = append(where, "(task_id IN (?) OR parent_task_id IN (?))")
		args = append(args, filter.TaskIDs, filter.ParentTaskIDs)
	case len(filter.TaskIDs) > 0:
		where = append(where, "task_id IN (?)")
		args = append(args, filter.TaskIDs)
	case len(filter.ParentTaskIDs) > 0:
		where = append(where, "parent_task_id IN (?)")
		args = append(args, filter.ParentTaskIDs)
	}
	if len(filter.SessionIDs) > 0 {
		where = append(where, "session_id IN (?)")
		args = append(args, filter.SessionIDs)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts_ns >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts_ns <= ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := `SELECT record FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_ns ASC, event_id ASC"

	if len(args) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand event filter: %w", err)
		}
	}

	var records []string
	if err := s.db.SelectContext(ctx, &records, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}

	events := make([]*domain.Event, 0, len(records))
	for _, rec := range records {
		var ev domain.Event
		if err := json.Unmarshal([]byte(rec), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if filter.Match != nil && !filter.Match(&ev) {
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.TaskRef, error) {
	query := `SELECT task_id, COALESCE(MIN(NULLIF(NULLIF(parent_task_id, ''), task_id)), '') AS parent_task_id
	          FROM events WHERE task_id <> '' GROUP BY task_id ORDER BY task_id`

	var rows []struct {
		TaskID       string `db:"task_id"`
		ParentTaskID string `db:"parent_task_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	refs := make([]domain.TaskRef, len(rows))
	for i, r := range rows {
		refs[i] = domain.TaskRef{TaskID: r.TaskID, ParentTaskID: r.ParentTaskID}
	}
	return refs, nil
}

func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT session_id FROM events WHERE session_id <> '' ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// ReplaceScope swaps the scope's derived records in one transaction.
func (s *Store) ReplaceScope(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.RootTaskID == "" {
		return fmt.Errorf("snapshot has no root task: %w", domain.ErrInvalidScope)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del := `DELETE FROM tool_call_lifecycles WHERE interaction_id = ?`
	args := []any{snap.RootTaskID}
	if len(snap.TaskIDs) > 0 {
		del += ` OR task_id IN (?)`
		args = append(args, snap.TaskIDs)
		if del, args, err = sqlx.In(del, args...); err != nil {
			return fmt.Errorf("failed to expand scope: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(del), args...); err != nil {
		return fmt.Errorf("failed to clear lifecycles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM interactions WHERE interaction_id = ?`), snap.RootTaskID); err != nil {
		return fmt.Errorf("failed to clear interaction: %w", err)
	}

	if it := snap.Interaction; it != nil {
		record, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal interaction: %w", err)
		}
		query := s.dialect.Rebind(`INSERT INTO interactions (interaction_id, session_id, started_ns, record)
		          VALUES (?, ?, ?, ?) ` + s.dialect.UpsertClause("interaction_id", []string{"session_id", "started_ns", "record"}))
		if _, err := tx.ExecContext(ctx, query, it.InteractionID, it.SessionID, it.StartedAt.UnixNano(), string(record)); err != nil {
			return fmt.Errorf("failed to insert interaction: %w", err)
		}
	}

	insert := s.dialect.Rebind(`INSERT INTO tool_call_lifecycles (tool_call_id, interaction_id, task_id, session_id, invocation_ns, record)
	          VALUES (?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("tool_call_id", []string{"interaction_id", "task_id", "session_id", "invocation_ns", "record"}))
	for i := range snap.Lifecycles {
		lc := &snap.Lifecycles[i]
		record, err := json.Marshal(lc)
		if err != nil {
			return fmt.Errorf("failed to marshal lifecycle %s: %w", lc.ToolCallID, err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			lc.ToolCallID, nullString(lc.InteractionID), lc.TaskID, lc.SessionID, nullNanos(lc.InvocationTimestamp), string(record)); err != nil {
			return fmt.Errorf("failed to insert lifecycle %s: %w", lc.ToolCallID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scope %s: %w", snap.RootTaskID, err)
	}
	return nil
}

func (s *Store) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.SessionID == "" {
		return fmt.Errorf("conversation has no session id: %w", domain.ErrInvalidScope)
	}
	record, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	query := s.dialect.Rebind(`INSERT INTO conversations (session_id, user_id, started_ns, record)
	          VALUES (?, ?, ?, ?) ` + s.dialect.UpsertClause("session_id", []string{"user_id", "started_ns", "record"}))
	if _, err := s.db.ExecContext(ctx, query, conv.SessionID, conv.UserID, conv.StartedAt.UnixNano(), string(record)); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := s.getRecord(ctx, &conv, `SELECT record FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", sessionID, err)
	}
	return &conv, nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	return listRecords[domain.Conversation](ctx, s,
		`SELECT record FROM conversations WHERE user_id = ? ORDER BY started_ns ASC, session_id ASC`, userID)
}

func (s *Store) GetInteraction(ctx context.Context, interactionID string) (*domain.Interaction, error) {
	var it domain.Interaction
	if err := s.getRecord(ctx, &it, `SELECT record FROM interactions WHERE interaction_id = ?`, interactionID); err != nil {
		return nil, fmt.Errorf("interaction %s: %w", interactionID, err)
	}
	return &it, nil
}

func (s *Store) ListInteractionsBySession(ctx context.Context, sessionID string) ([]*domain.Interaction, error) {
	return listRecords[domain.Interaction](ctx, s,
		`SELECT record FROM interactions WHERE session_id = ? ORDER BY started_ns ASC, interaction_id ASC`, sessionID)
}

func (s *Store) GetLifecycle(ctx context.Context, toolCallID string) (*domain.ToolCallLifecycle, error) {
	var lc domain.ToolCallLifecycle
	if err := s.getRecord(ctx, &lc, `SELECT record FROM tool_call_lifecycles WHERE tool_call_id = ?`, toolCallID); err != nil {
		return nil, fmt.Errorf("tool call %s: %w", toolCallID, err)
	}
	return &lc, nil
}

func (s *Store) ListLifecyclesByInteraction(ctx context.Context, interactionID string) ([]*domain.ToolCallLifecycle, error) {
	return listRecords[domain.ToolCallLifecycle](ctx, s,
		`SELECT record FROM tool_call_lifecycles WHERE interaction_id = ?
		 ORDER BY CASE WHEN invocation_ns IS NULL THEN 1 ELSE 0 END, invocation_ns ASC, tool_call_id ASC`, interactionID)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getRecord(ctx context.Context, dest any, query string, args ...any) error {
	var record string
	err := s.db.GetContext(ctx, &record, s.dialect.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if err := json.Unmarshal([]byte(record), dest); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

func listRecords[T any](ctx context.Context, s *Store, query string, args ...any) ([]*T, error) {
	var records []string
	if err := s.db.SelectContext(ctx, &records, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	out := make([]*T, 0, len(records))
	for _, rec := range records {
		v := new(T)
		if err := json.Unmarshal([]byte(rec), v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
