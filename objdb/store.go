package objdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS object_databases (
		name TEXT PRIMARY KEY,
		entry_count INTEGER NOT NULL,
		created_at_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS object_entries (
		db_name TEXT NOT NULL,
		idx INTEGER NOT NULL,
		label TEXT NOT NULL,
		color INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		corners_json TEXT NOT NULL,
		keypoints_json TEXT NOT NULL,
		desc_rows INTEGER NOT NULL,
		desc_cols INTEGER NOT NULL,
		desc_type INTEGER NOT NULL,
		descriptors BLOB,
		PRIMARY KEY (db_name, idx),
		FOREIGN KEY (db_name) REFERENCES object_databases(name) ON DELETE CASCADE
	);
`

// ErrNotFound is wrapped by LoadError when no database of that name is stored
var ErrNotFound = errors.New("database not found")

// Store persists descriptor databases in a SQLite file
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite store at path
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("objdb: open %s: %w", path, err)
	}
	// a single connection keeps writes serialised on the file
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("objdb: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("objdb: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether a database called name is stored
func (s *Store) Exists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM object_databases WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("objdb: lookup %q: %w", name, err)
	}
	return n > 0, nil
}

// Names lists the stored databases
func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM object_databases ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("objdb: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("objdb: list: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Save stores d, replacing any database with the same name
func (s *Store) Save(d *Database) error {
	if d == nil || d.Name == "" {
		return &SaveError{Err: errors.New("database has no name")}
	}
	if err := s.save(d); err != nil {
		return &SaveError{Name: d.Name, Err: err}
	}
	debugMsg("OBJDB", fmt.Sprintf("Saved %d entries", len(d.Entries)), d.Name)
	return nil
}

func (s *Store) save(d *Database) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM object_entries WHERE db_name = ?`, d.Name); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO object_databases (name, entry_count, created_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET entry_count = excluded.entry_count, created_at_ns = excluded.created_at_ns
	`, d.Name, len(d.Entries), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("upsert database: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO object_entries (
			db_name, idx, label, color, width, height,
			corners_json, keypoints_json, desc_rows, desc_cols, desc_type, descriptors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range d.Entries {
		corners, err := json.Marshal(e.Corners)
		if err != nil {
			return fmt.Errorf("encode corners of %s: %w", e.Label, err)
		}
		keypoints, err := json.Marshal(e.Keypoints)
		if err != nil {
			return fmt.Errorf("encode keypoints of %s: %w", e.Label, err)
		}
		_, err = stmt.Exec(d.Name, i, e.Label, packColor(e.Color), e.Width, e.Height,
			string(corners), string(keypoints),
			e.Descriptors.Rows, e.Descriptors.Cols, e.Descriptors.Type, e.Descriptors.Data)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Label, err)
		}
	}

	return tx.Commit()
}

// Load reads back the database called name
func (s *Store) Load(name string) (*Database, error) {
	var count int
	err := s.db.QueryRow(`SELECT entry_count FROM object_databases WHERE name = ?`, name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &LoadError{Name: name, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	entries, err := s.loadEntries(name)
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	if len(entries) != count {
		return nil, &LoadError{Name: name, Err: fmt.Errorf("expected %d entries, found %d", count, len(entries))}
	}

	debugMsg("OBJDB", fmt.Sprintf("Loaded %d entries", len(entries)), name)
	return &Database{Name: name, Entries: entries}, nil
}

func (s *Store) loadEntries(name string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT label, color, width, height, corners_json, keypoints_json,
		       desc_rows, desc_cols, desc_type, descriptors
		FROM object_entries
		WHERE db_name = ?
		ORDER BY idx
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			packed    int64
			corners   string
			keypoints string
		)
		if err := rows.Scan(&e.Label, &packed, &e.Width, &e.Height, &corners, &keypoints,
			&e.Descriptors.Rows, &e.Descriptors.Cols, &e.Descriptors.Type, &e.Descriptors.Data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Color = unpackColor(packed)
		if err := json.Unmarshal([]byte(corners), &e.Corners); err != nil {
			return nil, fmt.Errorf("decode corners of %s: %w", e.Label, err)
		}
		if err := json.Unmarshal([]byte(keypoints), &e.Keypoints); err != nil {
			return nil, fmt.Errorf("decode keypoints of %s: %w", e.Label, err)
		}
		if e.Descriptors.Rows*e.Descriptors.Cols > 0 && len(e.Descriptors.Data) == 0 {
			return nil, fmt.Errorf("entry %s has no descriptor data", e.Label)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the database called name, if stored
func (s *Store) Delete(name string) error {
	if _, err := s.db.Exec(`DELETE FROM object_entries WHERE db_name = ?`, name); err != nil {
		return fmt.Errorf("objdb: delete %q: %w", name, err)
	}
	if _, err := s.db.Exec(`DELETE FROM object_databases WHERE name = ?`, name); err != nil {
		return fmt.Errorf("objdb: delete %q: %w", name, err)
	}
	return nil
}

func packColor(c color.RGBA) int64 {
	return int64(c.R)<<24 | int64(c.G)<<16 | int64(c.B)<<8 | int64(c.A)
}

func unpackColor(v int64) color.RGBA {
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
