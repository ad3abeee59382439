package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"spectator-recorder/internal/recording"
)

const schema = `
CREATE TABLE IF NOT EXISTS media (
    platform_id TEXT    NOT NULL,
    session_id  TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    id          INTEGER NOT NULL,
    data        BLOB    NOT NULL,
    stored_at   TEXT    NOT NULL,
    PRIMARY KEY (platform_id, session_id, kind, id)
)`

const (
	mediaChunk    = string(recording.KindChunk)
	mediaKeyFrame = string(recording.KindKeyFrame)
)

// SQLite stores payloads as rows of a single media table. One database file
// can hold many sessions.
type SQLite struct {
	db         *sql.DB
	path       string
	platformID string
	sessionID  string
}

// OpenSQLite opens or creates the database at path and scopes it to one session.
func OpenSQLite(path, platformID, sessionID string) (*SQLite, error) {
	if path == "" || platformID == "" || sessionID == "" {
		return nil, errors.New("sqlite storage needs a path, platform id and session id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create media table: %w", err)
	}

	return &SQLite{db: db, path: path, platformID: platformID, sessionID: sessionID}, nil
}

func (s *SQLite) Describe() string {
	return fmt.Sprintf("SQLiteStorage: path: %s, session: %s/%s", s.path, s.platformID, s.sessionID)
}

func (s *SQLite) StoreChunk(ctx context.Context, id uint32, data []byte) error {
	return s.store(ctx, mediaChunk, id, data)
}

func (s *SQLite) StoreKeyFrame(ctx context.Context, id uint32, data []byte) error {
	return s.store(ctx, mediaKeyFrame, id, data)
}

func (s *SQLite) ChunkIDs(ctx context.Context) ([]uint32, error) {
	return s.list(ctx, mediaChunk)
}

func (s *SQLite) KeyFrameIDs(ctx context.Context) ([]uint32, error) {
	return s.list(ctx, mediaKeyFrame)
}

// Read returns a stored payload, or sql.ErrNoRows when it is absent.
func (s *SQLite) Read(ctx context.Context, kind recording.Kind, id uint32) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM media WHERE platform_id = ? AND session_id = ? AND kind = ? AND id = ?`,
		s.platformID, s.sessionID, string(kind), int64(id),
	).Scan(&data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) store(ctx context.Context, kind string, id uint32, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (platform_id, session_id, kind, id, data, stored_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (platform_id, session_id, kind, id)
        DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at`,
		s.platformID,
		s.sessionID,
		kind,
		int64(id),
		data,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert %s %d: %w", kind, id, err)
	}
	return nil
}

func (s *SQLite) list(ctx context.Context, kind string) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM media WHERE platform_id = ? AND session_id = ? AND kind = ? ORDER BY id`,
		s.platformID, s.sessionID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer rows.Close()

	ids := []uint32{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", kind, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, rows.Err()
}
