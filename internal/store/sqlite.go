package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftlab/edgesync/internal/record"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is a durable Store backed by embedded SQLite.
//
// The database runs in embedded mode with WAL so readers are not blocked
// during writes. Records and the pending set live in two tables; every
// mutation that touches both runs in one transaction so a crash never leaves
// a pending id without a record.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite creates a new SQLite-backed store at the specified path.
//
// If the database doesn't exist it is created along with the schema.
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.OpenSQLite(".edgesync/records.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{conn: conn, path: path}

	// WAL for concurrent reads during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the records and pending tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS pending (
		id TEXT PRIMARY KEY REFERENCES records(id)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// FetchPending implements Store.FetchPending.
func (s *SQLiteStore) FetchPending(limit int) ([]record.Record, error) {
	query := `
		SELECT r.id, r.version, r.updated_at, r.payload
		FROM records r JOIN pending p ON r.id = p.id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FetchAll implements Store.FetchAll.
func (s *SQLiteStore) FetchAll() ([]record.Record, error) {
	rows, err := s.conn.Query(`SELECT id, version, updated_at, payload FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(id string) (record.Record, bool, error) {
	row := s.conn.QueryRow(`SELECT id, version, updated_at, payload FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, true, nil
}

// Save implements Store.Save.
func (s *SQLiteStore) Save(rec record.Record, markPending bool) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", rec.ID, err)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO records (id, version, updated_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version    = excluded.version,
			updated_at = excluded.updated_at,
			payload    = excluded.payload`,
		rec.ID, rec.Version, rec.UpdatedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}

	if markPending {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO pending (id) VALUES (?)`, rec.ID); err != nil {
			return fmt.Errorf("failed to mark record %s pending: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return nil
}

// MarkSynced implements Store.MarkSynced.
func (s *SQLiteStore) MarkSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM pending WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear pending id %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark synced: %w", err)
	}
	return nil
}

// Pending implements Store.Pending.
func (s *SQLiteStore) Pending() ([]string, error) {
	rows, err := s.conn.Query(`SELECT id FROM pending`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Watermark implements WatermarkStore.Watermark.
func (s *SQLiteStore) Watermark() (time.Time, bool, error) {
	row := s.conn.QueryRow(`SELECT value FROM meta WHERE key = 'watermark'`)

	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse watermark %q: %w", raw, err)
	}
	return ts, true, nil
}

// SetWatermark implements WatermarkStore.SetWatermark.
func (s *SQLiteStore) SetWatermark(ts time.Time) error {
	_, err := s.conn.Exec(`
		INSERT INTO meta (key, value) VALUES ('watermark', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for record scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (record.Record, error) {
	var (
		rec       record.Record
		updatedAt string
		payload   string
	)
	if err := row.Scan(&rec.ID, &rec.Version, &updatedAt, &payload); err != nil {
		return record.Record{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return record.Record{}, fmt.Errorf("failed to parse updated_at %q: %w", updatedAt, err)
	}
	rec.UpdatedAt = ts

	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return record.Record{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	var out []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
