package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/events"
)

// HistoryStore records player logins and session failures.
type HistoryStore struct {
	db *Database
}

// LoginRecord is one player session from login to leave.
type LoginRecord struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Username  string     `json:"username"`
	UUID      string     `json:"uuid"`
	EntityID  int32      `json:"entity_id"`
	Remote    string     `json:"remote"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	LastX     float64    `json:"last_x"`
	LastY     float64    `json:"last_y"`
	LastZ     float64    `json:"last_z"`
}

// SessionErrorRecord is a session that ended with a protocol or I/O error.
type SessionErrorRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Remote     string    `json:"remote"`
	Username   string    `json:"username,omitempty"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewHistoryStore opens the database at dbPath and migrates the schema.
// Sessions left open by a previous run are closed.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database}

	if _, err := database.Migrate(historySchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	n, err := hs.closeOpenSessions("server restart")
	if err != nil {
		database.Close()
		return nil, err
	}
	if n > 0 {
		log.Warn().Str("path", database.Path()).Int64("count", n).Msg("closed sessions left open by previous run")
	}

	return hs, nil
}

// historySchema holds one entry per schema version.
var historySchema = []string{
	`CREATE TABLE logins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		username TEXT NOT NULL,
		uuid TEXT NOT NULL DEFAULT '',
		entity_id INTEGER NOT NULL,
		remote TEXT NOT NULL DEFAULT '',
		joined_at INTEGER NOT NULL,
		left_at INTEGER,
		reason TEXT NOT NULL DEFAULT '',
		last_x REAL NOT NULL DEFAULT 0,
		last_y REAL NOT NULL DEFAULT 0,
		last_z REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_logins_username ON logins(username);
	CREATE INDEX idx_logins_joined_at ON logins(joined_at);`,

	`CREATE TABLE session_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		remote TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX idx_session_errors_occurred_at ON session_errors(occurred_at);`,
}

func (hs *HistoryStore) closeOpenSessions(reason string) (int64, error) {
	res, err := hs.db.Exec(
		"UPDATE logins SET left_at = ?, reason = ? WHERE left_at IS NULL",
		time.Now().UnixMilli(), reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close open sessions: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records join, leave and session error events from bus.
func (hs *HistoryStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventPlayerJoin, "history.join", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerJoinPayload)
		if !ok {
			return fmt.Errorf("invalid join payload")
		}
		_, err := hs.RecordJoin(p)
		return err
	})
	bus.Subscribe(events.EventPlayerLeave, "history.leave", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerLeavePayload)
		if !ok {
			return fmt.Errorf("invalid leave payload")
		}
		return hs.RecordLeave(p)
	})
	bus.Subscribe(events.EventSessionError, "history.sessionError", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionErrorPayload)
		if !ok {
			return fmt.Errorf("invalid session error payload")
		}
		return hs.RecordSessionError(p, time.Now())
	})
}

// RecordJoin inserts a login row and returns its id.
func (hs *HistoryStore) RecordJoin(p events.PlayerJoinPayload) (int64, error) {
	joined := p.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	res, err := hs.db.Exec(`
		INSERT INTO logins (session_id, username, uuid, entity_id, remote, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.SessionID, p.Username, p.UUID, p.EntityID, p.Remote, joined.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record join for %s: %w", p.Username, err)
	}
	return res.LastInsertId()
}

// RecordLeave closes the open login row of the session.
func (hs *HistoryStore) RecordLeave(p events.PlayerLeavePayload) error {
	left := p.LeftAt
	if left.IsZero() {
		left = time.Now()
	}
	res, err := hs.db.Exec(`
		UPDATE logins SET left_at = ?, reason = ?, last_x = ?, last_y = ?, last_z = ?
		WHERE session_id = ? AND username = ? AND left_at IS NULL
	`, left.UnixMilli(), p.Reason, p.X, p.Y, p.Z, p.SessionID, p.Username)
	if err != nil {
		return fmt.Errorf("failed to record leave for %s: %w", p.Username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().Str("username", p.Username).Str("session", p.SessionID).Msg("leave without open login row")
	}
	return nil
}

// RecordSessionError stores a failed session.
func (hs *HistoryStore) RecordSessionError(p events.SessionErrorPayload, at time.Time) error {
	_, err := hs.db.Exec(`
		INSERT INTO session_errors (session_id, remote, username, error, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.SessionID, p.Remote, p.Username, p.Error, at.UnixMilli())
	return err
}

const loginColumns = `id, session_id, username, uuid, entity_id, remote, joined_at, left_at, reason, last_x, last_y, last_z`

// RecentLogins returns up to limit logins, newest first.
func (hs *HistoryStore) RecentLogins(limit int) ([]LoginRecord, error) {
	rows, err := hs.db.Query(
		"SELECT "+loginColumns+" FROM logins ORDER BY joined_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogins(rows)
}

// PlayerLogins returns up to limit logins of one player, newest first.
func (hs *HistoryStore) PlayerLogins(username string, limit int) ([]LoginRecord, error) {
	rows, err := hs.db.Query(
		"SELECT "+loginColumns+" FROM logins WHERE username = ? ORDER BY joined_at DESC, id DESC LIMIT ?",
		username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogins(rows)
}

func scanLogins(rows *sql.Rows) ([]LoginRecord, error) {
	records := []LoginRecord{}
	for rows.Next() {
		var (
			r        LoginRecord
			joinedMs int64
			leftMs   sql.NullInt64
		)
		err := rows.Scan(&r.ID, &r.SessionID, &r.Username, &r.UUID, &r.EntityID, &r.Remote,
			&joinedMs, &leftMs, &r.Reason, &r.LastX, &r.LastY, &r.LastZ)
		if err != nil {
			return nil, err
		}
		r.JoinedAt = time.UnixMilli(joinedMs)
		if leftMs.Valid {
			left := time.UnixMilli(leftMs.Int64)
			r.LeftAt = &left
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentSessionErrors returns up to limit session errors, newest first.
func (hs *HistoryStore) RecentSessionErrors(limit int) ([]SessionErrorRecord, error) {
	rows, err := hs.db.Query(`
		SELECT id, session_id, remote, username, error, occurred_at
		FROM session_errors ORDER BY occurred_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []SessionErrorRecord{}
	for rows.Next() {
		var (
			r  SessionErrorRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Remote, &r.Username, &r.Error, &ms); err != nil {
			return nil, err
		}
		r.OccurredAt = time.UnixMilli(ms)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountLogins returns the number of stored login rows.
func (hs *HistoryStore) CountLogins() (int, error) {
	var n int
	err := hs.db.QueryRow("SELECT COUNT(*) FROM logins").Scan(&n)
	return n, err
}

// PruneHistory removes closed logins and session errors older than days.
// It returns the number of rows removed.
func (hs *HistoryStore) PruneHistory(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	var removed int64
	err := hs.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM logins WHERE left_at IS NOT NULL AND left_at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec("DELETE FROM session_errors WHERE occurred_at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("history prune failed: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}
