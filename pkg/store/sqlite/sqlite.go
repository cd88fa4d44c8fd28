// Package sqlite provides an embedded-database [store.ProgressStore] backed by
// modernc.org/sqlite (pure Go, no CGO).
//
// Documents are stored as JSON in a single database file, which keeps the
// schema trivial and lets the shared types own their serialized shape. The
// revision column is duplicated out of the document so conditional writes can
// run as a single UPDATE ... WHERE revision = ? statement.
//
// Intended for single-host deployments; the postgres backend is the
// multi-instance option.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Compile-time interface check.
var _ store.ProgressStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id   TEXT     PRIMARY KEY,
    doc       TEXT     NOT NULL,
    revision  INTEGER  NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT  PRIMARY KEY,
    user_id     TEXT  NOT NULL,
    created_at  TEXT  NOT NULL,
    doc         TEXT  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_created
    ON sessions (user_id, created_at);
`

// Store is a SQLite-backed ProgressStore. Safe for concurrent use; writes are
// serialised by SQLite itself.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file at path and ensures the schema
// exists. The connection pool is capped at one writer, which is the reliable
// mode for SQLite under concurrent load.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadProgress implements [store.ProgressStore].
func (s *Store) LoadProgress(ctx context.Context, userID string) (*types.UserProgress, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return &types.UserProgress{
			UserID:         userID,
			WeeklyProgress: make(map[string]types.WeeklyAggregate),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load progress: %w", err)
	}

	var p types.UserProgress
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("sqlite store: decode progress: %w", err)
	}
	if p.WeeklyProgress == nil {
		p.WeeklyProgress = make(map[string]types.WeeklyAggregate)
	}
	return &p, nil
}

// SaveProgress implements [store.ProgressStore] with a conditional write on
// the revision column.
func (s *Store) SaveProgress(ctx context.Context, progress *types.UserProgress, expectedRevision int64) error {
	saved := *progress
	saved.Revision = expectedRevision + 1
	doc, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("sqlite store: encode progress: %w", err)
	}

	var res sql.Result
	if expectedRevision == 0 {
		// First write: the row must not exist yet. Stored revisions are
		// always >= 1, so an existing row means a concurrent first write won.
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO user_progress (user_id, doc, revision) VALUES (?, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			saved.UserID, string(doc), saved.Revision,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE user_progress SET doc = ?, revision = ?
			 WHERE user_id = ? AND revision = ?`,
			string(doc), saved.Revision, saved.UserID, expectedRevision,
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: save progress: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: save progress: %w", err)
	}
	if n == 0 {
		return store.ErrRevisionMismatch
	}
	return nil
}

// SaveSession implements [store.ProgressStore].
func (s *Store) SaveSession(ctx context.Context, rec *types.SessionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite store: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		     user_id    = excluded.user_id,
		     created_at = excluded.created_at,
		     doc        = excluded.doc`,
		rec.SessionID, rec.UserID, rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save session: %w", err)
	}
	return nil
}

// GetSession implements [store.ProgressStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get session: %w", err)
	}

	var rec types.SessionRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("sqlite store: decode session: %w", err)
	}
	return &rec, nil
}

// RecentSessions implements [store.ProgressStore].
func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]types.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sessions WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent sessions: %w", err)
	}
	defer rows.Close()

	out := []types.SessionRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite store: scan session: %w", err)
		}
		var rec types.SessionRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("sqlite store: decode session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: recent sessions: %w", err)
	}
	return out, nil
}

// Close implements [store.ProgressStore].
func (s *Store) Close() error {
	return s.db.Close()
}
