// CLAUDE:SUMMARY SQLite history of export sessions, their ordered messages and asset manifests.
// Package store persists export history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/scrollback/dbopen"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Store is the export history database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the history database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SessionRow is a stored session with its outcome.
type SessionRow struct {
	record.Session
	Dir       string         `json:"dir"`
	Collected int            `json:"collected"`
	Summary   record.Summary `json:"summary"`
}

func millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// BeginSession records a running session.
func (s *Store) BeginSession(ctx context.Context, sess record.Session) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO sessions (id, scope, page_url, chat_title, profile, status, started_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
		sess.ID, sess.Scope, sess.PageURL, sess.ChatTitle, sess.Profile,
		string(sess.Status), sess.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: begin session: %w", err)
	}
	return nil
}

// UpdateProgress stores the running collected count.
func (s *Store) UpdateProgress(ctx context.Context, p record.Progress) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE sessions SET collected=?, status=? WHERE id=? AND collected<=?`,
		p.Collected, string(p.Status), p.SessionID, p.Collected)
	if err != nil {
		return fmt.Errorf("store: update progress: %w", err)
	}
	return nil
}

// SaveExport writes the final session row, messages and manifest in one
// transaction. Saving the same session twice replaces its rows.
func (s *Store) SaveExport(ctx context.Context, exp *record.Export, dir string) error {
	summary, err := json.Marshal(exp.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal summary: %w", err)
	}
	skipped, err := json.Marshal(exp.Summary.Skipped)
	if err != nil {
		return fmt.Errorf("store: marshal skipped: %w", err)
	}
	sess := exp.Session

	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, scope, page_url, chat_title, profile, status, dir,
			                      collected, skipped, summary, started_at, ended_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				scope=excluded.scope, page_url=excluded.page_url, chat_title=excluded.chat_title,
				profile=excluded.profile, status=excluded.status, dir=excluded.dir,
				collected=excluded.collected, skipped=excluded.skipped, summary=excluded.summary,
				ended_at=excluded.ended_at`,
			sess.ID, sess.Scope, sess.PageURL, sess.ChatTitle, sess.Profile, string(sess.Status), dir,
			exp.Summary.Collected, string(skipped), string(summary),
			sess.StartedAt.UnixMilli(), millis(sess.EndedAt),
		); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		for _, q := range []string{
			`DELETE FROM messages WHERE session_id=?`,
			`DELETE FROM assets WHERE session_id=?`,
		} {
			if _, err := tx.ExecContext(ctx, q, sess.ID); err != nil {
				return fmt.Errorf("clear session rows: %w", err)
			}
		}

		msgStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (session_id, id, position, author, timestamp, time_ms,
			                      body_html, body_text, thread_id, subject, reactions)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer msgStmt.Close()
		for i, m := range exp.Messages {
			reactions, err := json.Marshal(m.Reactions)
			if err != nil {
				return err
			}
			if _, err := msgStmt.ExecContext(ctx, sess.ID, m.ID, i, m.Author, m.Timestamp, millis(m.Time),
				m.BodyHTML, m.BodyText, m.ThreadID, m.Subject, string(reactions)); err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}

		assetStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO assets (session_id, id, message_id, ordinal, kind, source, state, path, error)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(session_id, id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer assetStmt.Close()
		for _, a := range exp.Manifest {
			if _, err := assetStmt.ExecContext(ctx, sess.ID, a.ID, a.MessageID, a.Ordinal,
				string(a.Kind), a.Source, string(a.State), a.Path, a.Err); err != nil {
				return fmt.Errorf("insert asset %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save export: %w", err)
	}
	return nil
}

// GetSession returns a session by ID, or nil if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	row := s.DB.QueryRowContext(ctx, sessionSelect+` WHERE id=?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// RecentSessions returns the latest sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]*SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, sessionSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const sessionSelect = `
	SELECT id, scope, page_url, chat_title, profile, status, dir, collected,
	       summary, started_at, ended_at
	FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*SessionRow, error) {
	r := &SessionRow{}
	var status, summary string
	var started int64
	var ended sql.NullInt64
	if err := sc.Scan(&r.ID, &r.Scope, &r.PageURL, &r.ChatTitle, &r.Profile, &status,
		&r.Dir, &r.Collected, &summary, &started, &ended); err != nil {
		return nil, err
	}
	r.Status = record.Status(status)
	r.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		r.EndedAt = time.UnixMilli(ended.Int64)
	}
	json.Unmarshal([]byte(summary), &r.Summary)
	return r, nil
}

// Messages returns the stored messages of a session in export order.
// Asset references are not joined back.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]record.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, author, timestamp, time_ms, body_html, body_text, thread_id, subject, reactions
		FROM messages WHERE session_id=? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Message
	for rows.Next() {
		var m record.Message
		var ms sql.NullInt64
		var reactions string
		if err := rows.Scan(&m.ID, &m.Author, &m.Timestamp, &ms, &m.BodyHTML, &m.BodyText,
			&m.ThreadID, &m.Subject, &reactions); err != nil {
			return nil, err
		}
		if ms.Valid {
			m.Time = time.UnixMilli(ms.Int64)
		}
		json.Unmarshal([]byte(reactions), &m.Reactions)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AssetCounts returns the number of manifest entries per state.
func (s *Store) AssetCounts(ctx context.Context, sessionID string) (map[record.AssetState]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM assets WHERE session_id=? GROUP BY state`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[record.AssetState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[record.AssetState(state)] = n
	}
	return out, rows.Err()
}
