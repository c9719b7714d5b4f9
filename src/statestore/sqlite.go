package statestore

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore is the engine's reference Callbacks implementation, a
// sqlite-backed key/value table, modeled on the teacher's db.DbConfig
// (src/db/dbConfig/dbconfig.go): one blob column keyed by a rendered
// ObjectID path, opened once at startup with a schema migration.
type SqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS state_objects (
	path  TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// OpenSqliteStore opens (creating if necessary) a sqlite database at uri
// and ensures the state_objects table exists.
func OpenSqliteStore(uri string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Callbacks returns the Callbacks pair backed by this sqlite store, ready
// to pass to statestore.New or directly into the node core.
func (s *SqliteStore) Callbacks() Callbacks {
	return Callbacks{Put: s.put, Get: s.get}
}

func (s *SqliteStore) put(id ObjectID, data []byte) error {
	if data == nil {
		_, err := s.db.Exec(`DELETE FROM state_objects WHERE path = ?`, id.path())
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO state_objects (path, value) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET value = excluded.value`,
		id.path(), data,
	)
	return err
}

func (s *SqliteStore) get(id ObjectID) ([]byte, bool) {
	var data []byte
	err := s.db.QueryRow(`SELECT value FROM state_objects WHERE path = ?`, id.path()).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false
		}
		return nil, false
	}
	return data, true
}
