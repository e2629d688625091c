// Package roomstore persists room and direct-message stream mappings in a
// SQLite file so restarts can skip repeat directory lookups. Entries are
// write-through from the in-memory cache; stale mappings are accepted and
// simply overwritten on the next successful resolution.
package roomstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed mapping store. Safe for concurrent use; the
// single-connection pool serializes writes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the store at path, creating parent directories and
// running the schema migration.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create room cache directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open room cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("room cache migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		name        TEXT PRIMARY KEY,
		stream_id   TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_stream ON rooms(stream_id);

	CREATE TABLE IF NOT EXISTS ims (
		user        TEXT PRIMARY KEY,
		stream_id   TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutRoom upserts a room name to stream id mapping.
func (s *Store) PutRoom(name, id string) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms (name, stream_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET stream_id = excluded.stream_id, updated_at = CURRENT_TIMESTAMP`,
		name, id,
	)
	if err != nil {
		s.logger.Warn("room cache write failed", "room", name, "error", err)
	}
	return err
}

// PutIM upserts a user to direct-message stream mapping.
func (s *Store) PutIM(user, streamID string) error {
	_, err := s.db.Exec(
		`INSERT INTO ims (user, stream_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user) DO UPDATE SET stream_id = excluded.stream_id, updated_at = CURRENT_TIMESTAMP`,
		user, streamID,
	)
	if err != nil {
		s.logger.Warn("im cache write failed", "user", user, "error", err)
	}
	return err
}

// Load returns all persisted mappings.
func (s *Store) Load() (map[string]string, map[string]string, error) {
	rooms := make(map[string]string)
	rows, err := s.db.Query(`SELECT name, stream_id FROM rooms`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, nil, err
		}
		rooms[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	ims := make(map[string]string)
	imRows, err := s.db.Query(`SELECT user, stream_id FROM ims`)
	if err != nil {
		return nil, nil, err
	}
	defer imRows.Close()
	for imRows.Next() {
		var user, id string
		if err := imRows.Scan(&user, &id); err != nil {
			return nil, nil, err
		}
		ims[user] = id
	}
	return rooms, ims, imRows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
