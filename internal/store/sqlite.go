package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// Store is the sqlite ledger of correction batches, per-reach runs and
// validation metrics.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens a sqlite database at path with the pragmas the batch driver
// relies on and applies pending migrations.
func Open(path string) (*Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	// a single connection serialises writers from the worker pool
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}
