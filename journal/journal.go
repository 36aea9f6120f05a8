// Package journal optionally persists a record of every request a
// Connection completes, for offline latency and error-rate analysis. It is
// entirely optional: a Connection dialed without WithRequestJournal never
// touches this package.
package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDatabasePath is a conventional path to pass to Open. Open always
// takes its path explicitly; nothing in this package reads this variable.
var DefaultDatabasePath = ".mcpclient/journal.db"

// Entry is one completed request as recorded in the journal.
type Entry struct {
	ConnectionID string
	Method       string
	StartedAt    time.Time
	ElapsedMS    int64
	ErrorMessage string
}

// Journal is a SQLite-backed append-only log of completed requests.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dataSourceName
// and ensures its schema exists.
func Open(dataSourceName string) (*Journal, error) {
	dir := filepath.Dir(dataSourceName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id TEXT NOT NULL,
		method TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Record inserts one completed request. Insert failures are swallowed —
// neither returned nor logged — since a journal write must never be allowed
// to fail a live request.
func (j *Journal) Record(connID, method string, startedAt time.Time, elapsed time.Duration, err error) {
	var errMsg sql.NullString
	if err != nil {
		errMsg = sql.NullString{String: err.Error(), Valid: true}
	}
	_, _ = j.db.Exec(
		`INSERT INTO requests (connection_id, method, started_at, elapsed_ms, error_message) VALUES (?, ?, ?, ?, ?)`,
		connID, method, startedAt, elapsed.Milliseconds(), errMsg,
	)
}

// Recent returns the most recent n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT connection_id, method, started_at, elapsed_ms, error_message FROM requests ORDER BY id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errMsg sql.NullString
		if err := rows.Scan(&e.ConnectionID, &e.Method, &e.StartedAt, &e.ElapsedMS, &errMsg); err != nil {
			return nil, err
		}
		e.ErrorMessage = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ErrorRate returns the fraction of the last n entries that recorded an
// error, for a quick at-a-glance health signal.
func (j *Journal) ErrorRate(n int) (float64, error) {
	entries, err := j.Recent(n)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	failed := 0
	for _, e := range entries {
		if e.ErrorMessage != "" {
			failed++
		}
	}
	return float64(failed) / float64(len(entries)), nil
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
