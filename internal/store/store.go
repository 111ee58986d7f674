// Package store provides SQLite storage for stationeye: persisted detection
// settings and a local log of the detections each session produced.
package store

import (
	"database/sql"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// busyTimeoutMs bounds how long a writer waits on a locked database.
const busyTimeoutMs = 5000

// Store is the local SQLite database. The detection goroutine writes while
// operator requests read, so every statement goes through one connection.
type Store struct {
	db   *sql.DB
	path string
}

// New opens the database at dbPath, creating it when missing, and brings
// its schema up to date.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "open database %s", dbPath)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return s, nil
}

// dsn enables foreign keys and a busy timeout on every connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(busyTimeoutMs)+")")
	return path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}
