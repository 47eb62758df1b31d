// Package store persists resolved syscall records in a SQLite database.
//
// Tables:
//
//	paths(idx, path, tracked)           the interned path table
//	syscalls(seq, pid, tid, name, ...)  one row per record
//	arguments(seq, arg, path_idx)       resolved path arguments
//
// A database holds one analysis. Records are written inside one transaction
// that first clears the previous analysis and is committed by Close, together
// with the final path table. Abort rolls it back and leaves the previous
// analysis in place.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/record"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS paths (
	idx     INTEGER PRIMARY KEY,
	path    TEXT NOT NULL,
	tracked INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS syscalls (
	seq        INTEGER PRIMARY KEY,
	pid        INTEGER NOT NULL,
	tid        INTEGER NOT NULL,
	name       TEXT NOT NULL,
	entry_ns   INTEGER NOT NULL,
	exit_ns    INTEGER NOT NULL,
	has_exit   INTEGER NOT NULL,
	ret        INTEGER NOT NULL,
	resolved   INTEGER NOT NULL,
	tracked    INTEGER NOT NULL,
	truncated  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS arguments (
	seq      INTEGER NOT NULL REFERENCES syscalls(seq),
	arg      INTEGER NOT NULL,
	path_idx INTEGER NOT NULL REFERENCES paths(idx),
	PRIMARY KEY (seq, arg)
);
CREATE INDEX IF NOT EXISTS syscalls_tracked ON syscalls(tracked, name);
`

const reset = `
DELETE FROM arguments;
DELETE FROM syscalls;
DELETE FROM paths;
`

// Store writes records of one analysis.
type Store struct {
	db         *sql.DB
	tx         *sql.Tx
	insertCall *sql.Stmt
	insertArg  *sql.Stmt
	paths      *pathtable.Table
	written    int
}

// Open opens (or creates) the database at dsn. Paths of records are looked
// up in paths when the store is closed.
func Open(ctx context.Context, dsn string, paths *pathtable.Table) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, reset); err != nil {
		_ = tx.Rollback() //nolint:errcheck // already failing
		_ = db.Close()    //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to clear previous analysis: %w", err)
	}

	s := &Store{db: db, tx: tx, paths: paths}
	s.insertCall, err = tx.PrepareContext(ctx, `INSERT INTO syscalls
		(seq, pid, tid, name, entry_ns, exit_ns, has_exit, ret, resolved, tracked, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err == nil {
		s.insertArg, err = tx.PrepareContext(ctx, `INSERT INTO arguments (seq, arg, path_idx) VALUES (?, ?, ?)`)
	}
	if err != nil {
		_ = tx.Rollback() //nolint:errcheck // already failing
		_ = db.Close()    //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// HandleRecord inserts rec.
func (s *Store) HandleRecord(rec *record.Record) error {
	//nolint:gosec // sequence numbers and timestamps fit in int64
	_, err := s.insertCall.Exec(
		int64(rec.Seq), rec.PID(), rec.TID(), rec.Name(),
		int64(rec.EntryTime), int64(rec.ExitTime), rec.HasExit(), rec.Ret,
		rec.Resolved, rec.Tracked, rec.Truncated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s record %d: %w", rec.Name(), rec.Seq, err)
	}

	for n, slot := range rec.Slots {
		if slot.Kind != record.SlotPath {
			continue
		}
		//nolint:gosec // sequence numbers fit in int64
		if _, err := s.insertArg.Exec(int64(rec.Seq), n, int(slot.Path)); err != nil {
			return fmt.Errorf("failed to insert argument %d of record %d: %w", n, rec.Seq, err)
		}
	}
	s.written++
	return nil
}

// Written returns the number of records inserted so far.
func (s *Store) Written() int {
	return s.written
}

func (s *Store) writePaths() error {
	stmt, err := s.tx.Prepare(`INSERT INTO paths (idx, path, tracked) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare path insert: %w", err)
	}
	defer func() {
		_ = stmt.Close() //nolint:errcheck // closed with the transaction
	}()

	for i := 0; i < s.paths.Len(); i++ {
		idx := pathtable.Index(i)
		if _, err := stmt.Exec(i, s.paths.Path(idx), s.paths.IsTracked(idx)); err != nil {
			return fmt.Errorf("failed to insert path %d: %w", i, err)
		}
	}
	return nil
}

// Close writes the path table, commits, and closes the database.
func (s *Store) Close() error {
	if err := s.writePaths(); err != nil {
		return errors.Join(err, s.tx.Rollback(), s.db.Close())
	}
	if err := s.tx.Commit(); err != nil {
		return errors.Join(fmt.Errorf("failed to commit: %w", err), s.db.Close())
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Abort discards every record written since Open and closes the database.
func (s *Store) Abort() error {
	if err := s.tx.Rollback(); err != nil {
		return errors.Join(fmt.Errorf("failed to roll back: %w", err), s.db.Close())
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
