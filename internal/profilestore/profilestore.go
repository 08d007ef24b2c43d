// Package profilestore persists a jit.Profiler's hotness counters to a
// SQLite database so repeat runs of the same program start warm instead
// of re-learning which loops are hot from scratch. Grounded on the
// connect/query shape of the teacher's internal/database/db_manager.go,
// adapted from ad hoc SQL execution to a fixed two-statement schema for
// one counter table.
package profilestore

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"sunscript/internal/jit"
)

const schema = `
CREATE TABLE IF NOT EXISTS loop_counts (
	func_id    INTEGER NOT NULL,
	pc         INTEGER NOT NULL,
	count      INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (func_id, pc)
);
`

// Store wraps a single SQLite connection holding one process's (or one
// long-lived host's) accumulated loop hotness counts.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures its
// schema exists. Passing ":memory:" is valid for tests and short-lived
// hosts that only want Warm/Save within a single process.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "profilestore: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "profilestore: ping")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite connections are not safe to share concurrently without serialization
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "profilestore: create schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes every (funcID, pc) counter the profiler has observed for
// the given function IDs. Counts below the trace threshold are worth
// persisting too, since a host that restarts frequently should still
// accumulate toward that threshold across runs rather than resetting it.
func (s *Store) Save(prof *jit.Profiler, funcIDs []uint32, pcs map[uint32][]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "profilestore: begin")
	}
	stmt, err := tx.Prepare(`
		INSERT INTO loop_counts (func_id, pc, count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(func_id, pc) DO UPDATE SET count = excluded.count, updated_at = excluded.updated_at
	`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "profilestore: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, fid := range funcIDs {
		for _, pc := range pcs[fid] {
			count := prof.Count(fid, pc)
			if count == 0 {
				continue
			}
			if _, err := stmt.Exec(fid, pc, count, now); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "profilestore: upsert func=%d pc=%d", fid, pc)
			}
		}
	}
	return errors.Wrap(tx.Commit(), "profilestore: commit")
}

// Warm loads every persisted counter into a fresh jit.Profiler by
// replaying RecordLoop calls, so the returned profiler's Count matches
// what was last Saved. A loop header whose saved count already passed a
// threshold is not promoted to that tier again by the warmed profiler;
// its next promotion comes when its count reaches the next threshold.
func (s *Store) Warm() (*jit.Profiler, error) {
	prof := jit.NewProfiler()
	rows, err := s.db.Query(`SELECT func_id, pc, count FROM loop_counts`)
	if err != nil {
		return nil, errors.Wrap(err, "profilestore: query")
	}
	defer rows.Close()

	for rows.Next() {
		var funcID uint32
		var pc, count int
		if err := rows.Scan(&funcID, &pc, &count); err != nil {
			return nil, errors.Wrap(err, "profilestore: scan")
		}
		for i := 0; i < count; i++ {
			prof.RecordLoop(funcID, pc)
		}
	}
	return prof, errors.Wrap(rows.Err(), "profilestore: iterate rows")
}
