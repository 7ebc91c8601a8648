// Package auditlog 是只追加的 SQLite 事件日志，记录被拒绝或失败的交易轮次。
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/store"

	_ "modernc.org/sqlite"
)

type Log struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

var _ store.Auditor = (*Log)(nil)

func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, now: time.Now}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			symbol TEXT,
			decision_id TEXT,
			reason TEXT,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_kind_ts ON audit_events(kind, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit log schema: %w", err)
		}
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func (l *Log) Append(ctx context.Context, ev store.Event) error {
	if ev.Kind == "" {
		return fmt.Errorf("audit event kind is required")
	}
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = l.now()
	}
	l.mu.Lock()
	db := l.db
	l.mu.Unlock()
	if db == nil {
		return fmt.Errorf("audit log closed")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_events (ts, kind, symbol, decision_id, reason, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), string(ev.Kind), ev.Symbol, ev.DecisionID, ev.Reason, ev.Detail)
	return err
}

// Recent 按时间倒序返回最近的事件，kind 为空时不过滤。
func (l *Log) Recent(ctx context.Context, kind store.EventKind, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	db := l.db
	l.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("audit log closed")
	}
	query := `SELECT id, ts, kind, symbol, decision_id, reason, detail FROM audit_events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Event
	for rows.Next() {
		var (
			ev                               store.Event
			ts                               int64
			kindStr                          string
			symbol, decisionID, reason, note sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ts, &kindStr, &symbol, &decisionID, &reason, &note); err != nil {
			return nil, err
		}
		ev.Kind = store.EventKind(kindStr)
		ev.CreatedAt = time.UnixMilli(ts)
		ev.Symbol = symbol.String
		ev.DecisionID = decisionID.String
		ev.Reason = reason.String
		ev.Detail = note.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
