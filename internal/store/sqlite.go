package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"whiteboard-backend/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS board_snapshots (
	board_id TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL,
	object_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite stores one row per board in a local database file.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; readers share the same connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", path).Msg("Database initialized")
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Load(ctx context.Context, id model.BoardID) (model.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM board_snapshots WHERE board_id = ?`, string(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load board %s: %w", id, err)
	}
	return model.DecodeSnapshot([]byte(data))
}

func (s *SQLite) Save(ctx context.Context, id model.BoardID, snap model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO board_snapshots(board_id, snapshot, object_count, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(board_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			object_count = excluded.object_count,
			updated_at = excluded.updated_at`,
		string(id), string(data), snap.Len(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save board %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
