package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jnesss/proc-enforcer/types"
)

// UsernameResolver maps a uid to a display name.
type UsernameResolver interface {
	Username(uid uint32) string
}

// DB stores every emitted event for later inspection.
type DB struct {
	Db    *sql.DB
	runID string
	users UsernameResolver
}

// EventRow is a stored event.
type EventRow struct {
	ID       int64    `json:"id"`
	RunID    string   `json:"runId"`
	TS       uint64   `json:"ts"`
	Kind     string   `json:"kind"`
	PID      *uint32  `json:"pid"`
	UID      *uint32  `json:"uid"`
	Username *string  `json:"username"`
	PPID     *uint32  `json:"ppid"`
	Name     *string  `json:"name"`
	Path     *string  `json:"path"`
	CPU      *float64 `json:"cpu"`
	RAM      *float64 `json:"ram"`
	Reason   *string  `json:"reason"`
}

// Open opens (or creates) the database file at path, creating its parent
// directory if needed. runID tags every row written by this process. users
// may be nil.
func Open(path, runID string, users UsernameResolver) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// the agent loop and the web server share one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initEventSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}

	return &DB{Db: db, runID: runID, users: users}, nil
}

func initEventSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		ts         INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		pid        INTEGER,
		uid        INTEGER,
		username   TEXT,
		ppid       INTEGER,
		name       TEXT,
		path       TEXT,
		cpu        REAL,
		ram        REAL,
		reason     TEXT,
		created_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);",
		"CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);",
		"CREATE INDEX IF NOT EXISTS idx_events_pid ON events(pid);",
		"CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (db *DB) Name() string { return "sqlite" }

// RunID returns the identifier stamped on rows from this process.
func (db *DB) RunID() string { return db.runID }

// Write inserts ev.
func (db *DB) Write(ev *types.Event) error {
	var username *string
	if ev.UID != nil && db.users != nil {
		name := db.users.Username(*ev.UID)
		username = &name
	}

	query := `
        INSERT INTO events (
            run_id, ts, kind, pid, uid, username, ppid,
            name, path, cpu, ram, reason, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Db.Exec(query,
		db.runID,
		int64(ev.TS),
		ev.Kind,
		uintArg(ev.PID),
		uintArg(ev.UID),
		stringArg(username),
		uintArg(ev.PPID),
		stringArg(ev.Name),
		stringArg(ev.Path),
		floatArg(ev.CPU),
		floatArg(ev.RAM),
		stringArg(ev.Reason),
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty kind matches all.
func (db *DB) Recent(kind string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
        SELECT id, run_id, ts, kind, pid, uid, username, ppid,
               name, path, cpu, ram, reason
        FROM events
        WHERE (? = '' OR kind = ?)
        ORDER BY id DESC
        LIMIT ?`

	rows, err := db.Db.Query(query, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			row                      EventRow
			ts                       int64
			pid, uid, ppid           sql.NullInt64
			username, name, path, rs sql.NullString
			cpu, ram                 sql.NullFloat64
		)
		if err := rows.Scan(&row.ID, &row.RunID, &ts, &row.Kind, &pid, &uid, &username, &ppid,
			&name, &path, &cpu, &ram, &rs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		row.TS = uint64(ts)
		row.PID = nullUint(pid)
		row.UID = nullUint(uid)
		row.PPID = nullUint(ppid)
		row.Username = nullString(username)
		row.Name = nullString(name)
		row.Path = nullString(path)
		row.Reason = nullString(rs)
		row.CPU = nullFloat(cpu)
		row.RAM = nullFloat(ram)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountByKind returns the number of stored events per kind.
func (db *DB) CountByKind() (map[string]int64, error) {
	rows, err := db.Db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (db *DB) Close() error {
	return db.Db.Close()
}

func uintArg(v *uint32) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func stringArg(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatArg(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullUint(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	u := uint32(v.Int64)
	return &u
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
