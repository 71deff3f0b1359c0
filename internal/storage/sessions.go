package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is a persisted execution session: a name bound to
// environment variables and a working directory.
type SessionRecord struct {
	Name       string
	Env        map[string]string
	Workdir    string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// CreateSession inserts a session record. Creating an existing name is an
// error; use TouchSession to update last-use.
func (db *DB) CreateSession(rec *SessionRecord) error {
	env, err := json.Marshal(rec.Env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUsedAt = now

	_, err = db.Exec(`
		INSERT INTO sessions (name, env, workdir, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Name, string(env), rec.Workdir, rec.CreatedAt, rec.LastUsedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by name.
func (db *DB) GetSession(name string) (*SessionRecord, error) {
	row := db.QueryRow(`
		SELECT name, env, workdir, created_at, last_used_at
		FROM sessions WHERE name = ?
	`, name)

	var rec SessionRecord
	var env string
	err := row.Scan(&rec.Name, &env, &rec.Workdir, &rec.CreatedAt, &rec.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &rec.Env); err != nil {
		return nil, fmt.Errorf("unmarshal env: %w", err)
	}
	return &rec, nil
}

// ListSessions returns all sessions ordered by last use, newest first.
func (db *DB) ListSessions() ([]*SessionRecord, error) {
	rows, err := db.Query(`
		SELECT name, env, workdir, created_at, last_used_at
		FROM sessions ORDER BY last_used_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var env string
		if err := rows.Scan(&rec.Name, &env, &rec.Workdir, &rec.CreatedAt, &rec.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(env), &rec.Env); err != nil {
			return nil, fmt.Errorf("unmarshal env: %w", err)
		}
		sessions = append(sessions, &rec)
	}
	return sessions, rows.Err()
}

// TouchSession updates a session's last-use timestamp.
func (db *DB) TouchSession(name string) error {
	res, err := db.Exec(`
		UPDATE sessions SET last_used_at = ? WHERE name = ?
	`, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session by name.
func (db *DB) DeleteSession(name string) error {
	res, err := db.Exec("DELETE FROM sessions WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
