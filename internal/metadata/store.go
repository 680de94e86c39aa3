// Package metadata keeps a queryable history of packet manifests and
// lockfiles in a SQLite catalog alongside the packet's JSON artifacts. Every
// successful build appends one row per packet/version; manifest.json and
// cpm-lock.json remain the authoritative artifacts a fetch/query consumes,
// but the catalog lets a caller answer "what versions of this packet have I
// built, and when" without re-reading every artifact directory on disk.
//
// Grounded on the teacher's internal/store/sqlite_bm25.go: pure-Go driver,
// WAL mode for concurrent multi-process access, a single-writer connection
// pool, and a schema_version table for future migrations.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver, no cgo

	"github.com/Aman-CERP/cpe/internal/packet"
)

// Record is one catalog row: a single build's manifest and lockfile, keyed
// by packet ID and version.
type Record struct {
	PacketID  string
	Version   string
	CreatedAt time.Time
	Manifest  packet.Manifest
	Lockfile  packet.Lockfile
}

// Store is a SQLite-backed catalog of packet build history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path, applying
// the teacher's WAL/busy-timeout pragmas for safe concurrent access from a
// watch session rebuilding while another process reads history.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("metadata: empty catalog path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metadata: create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("metadata: open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("metadata: set pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS builds (
		packet_id      TEXT NOT NULL,
		version        TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		manifest_json  TEXT NOT NULL,
		lockfile_json  TEXT NOT NULL,
		PRIMARY KEY (packet_id, version)
	);

	CREATE INDEX IF NOT EXISTS builds_by_packet_created
		ON builds (packet_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("metadata: init schema: %w", err)
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`)
	if err != nil {
		return fmt.Errorf("metadata: record schema version: %w", err)
	}
	return nil
}

// RecordBuild upserts a catalog row for one completed build.
func (s *Store) RecordBuild(ctx context.Context, m packet.Manifest, lock packet.Lockfile) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("metadata: marshal manifest: %w", err)
	}
	lockJSON, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("metadata: marshal lockfile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO builds (packet_id, version, created_at, manifest_json, lockfile_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (packet_id, version) DO UPDATE SET
			created_at = excluded.created_at,
			manifest_json = excluded.manifest_json,
			lockfile_json = excluded.lockfile_json
	`, m.PacketID, m.Version, m.CreatedAt.Unix(), string(manifestJSON), string(lockJSON))
	if err != nil {
		return fmt.Errorf("metadata: record build: %w", err)
	}
	return nil
}

// History returns every recorded build of packetID, oldest first.
func (s *Store) History(ctx context.Context, packetID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT packet_id, version, created_at, manifest_json, lockfile_json
		FROM builds WHERE packet_id = ? ORDER BY created_at ASC
	`, packetID)
	if err != nil {
		return nil, fmt.Errorf("metadata: query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Latest returns the most recently recorded build of packetID.
func (s *Store) Latest(ctx context.Context, packetID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT packet_id, version, created_at, manifest_json, lockfile_json
		FROM builds WHERE packet_id = ? ORDER BY created_at DESC LIMIT 1
	`, packetID)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("metadata: no builds recorded for packet %q", packetID)
		}
		return nil, err
	}
	return &rec, nil
}

// Packets returns the distinct packet IDs with at least one recorded build.
func (s *Store) Packets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT packet_id FROM builds ORDER BY packet_id`)
	if err != nil {
		return nil, fmt.Errorf("metadata: query packets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadata: scan packet id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var (
		packetID, version           string
		createdAt                   int64
		manifestJSON, lockfileJSON  string
	)
	if err := r.Scan(&packetID, &version, &createdAt, &manifestJSON, &lockfileJSON); err != nil {
		return Record{}, err
	}

	var m packet.Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return Record{}, fmt.Errorf("metadata: unmarshal manifest: %w", err)
	}
	var lock packet.Lockfile
	if err := json.Unmarshal([]byte(lockfileJSON), &lock); err != nil {
		return Record{}, fmt.Errorf("metadata: unmarshal lockfile: %w", err)
	}

	return Record{
		PacketID:  packetID,
		Version:   version,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		Manifest:  m,
		Lockfile:  lock,
	}, nil
}
