package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openat(t *testing.T, seq uint64, paths *pathtable.Table, p string, ret int64) *record.Record {
	t.Helper()
	desc, ok := syscalls.DefaultTable().ByName("openat")
	require.True(t, ok)

	pidTid := uint64(7)<<32 | 9
	entry := &record.Packet{
		PidTid:    pidTid,
		ID:        desc.ID,
		Content:   record.ContentArgs,
		Timestamp: seq * 100,
		Payload:   record.EncodeEntry([6]uint64{}, map[int]string{1: p}, desc.StringArgs()),
	}
	rec := record.New(entry, desc, seq, 0)
	require.NoError(t, rec.Apply(entry))
	exit := &record.Packet{
		PidTid:    pidTid,
		ID:        desc.ID,
		Content:   record.ContentExit,
		Timestamp: seq*100 + 50,
		Payload:   record.EncodeExit(ret),
	}
	require.NoError(t, rec.Apply(exit))

	idx := paths.Intern(p)
	rec.Slots = []record.Slot{record.UnknownSlot(0), record.PathSlot(idx)}
	rec.Tracked = paths.IsTracked(idx)
	rec.Resolved = true
	return rec
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "analysis.db")
	paths := pathtable.New([]string{"/mnt/pmem"})

	s, err := Open(ctx, dsn, paths)
	require.NoError(t, err)

	require.NoError(t, s.HandleRecord(openat(t, 1, paths, "/mnt/pmem/a", 3)))
	require.NoError(t, s.HandleRecord(openat(t, 2, paths, "/etc/passwd", -2)))
	assert.Equal(t, 2, s.Written())
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths`).Scan(&count))
	assert.Equal(t, paths.Len(), count)

	var name string
	var pid, tid int
	var entry, exit int64
	var ret int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT name, pid, tid, entry_ns, exit_ns, ret FROM syscalls WHERE seq = 1`).
		Scan(&name, &pid, &tid, &entry, &exit, &ret))
	assert.Equal(t, "openat", name)
	assert.Equal(t, 7, pid)
	assert.Equal(t, 9, tid)
	assert.Equal(t, int64(100), entry)
	assert.Equal(t, int64(150), exit)
	assert.Equal(t, int64(3), ret)

	rows, err := db.QueryContext(ctx, `
		SELECT s.seq, p.path
		FROM syscalls s
		JOIN arguments a ON a.seq = s.seq
		JOIN paths p ON p.idx = a.path_idx
		WHERE s.tracked = 1`)
	require.NoError(t, err)
	defer rows.Close()

	var tracked []string
	for rows.Next() {
		var seq int
		var p string
		require.NoError(t, rows.Scan(&seq, &p))
		assert.Equal(t, 1, seq)
		tracked = append(tracked, p)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"/mnt/pmem/a"}, tracked)
}

func countRows(t *testing.T, dsn, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestStoreReopenReplaces(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "analysis.db")

	first := pathtable.New(nil)
	s, err := Open(ctx, dsn, first)
	require.NoError(t, err)
	require.NoError(t, s.HandleRecord(openat(t, 1, first, "/tmp/a", 3)))
	require.NoError(t, s.HandleRecord(openat(t, 2, first, "/tmp/b", 4)))
	require.NoError(t, s.Close())

	// A second analysis restarts sequence numbers and the path table.
	second := pathtable.New(nil)
	s, err = Open(ctx, dsn, second)
	require.NoError(t, err)
	require.NoError(t, s.HandleRecord(openat(t, 1, second, "/tmp/c", 3)))
	require.NoError(t, s.Close())

	assert.Equal(t, 1, countRows(t, dsn, "syscalls"))
	assert.Equal(t, 1, countRows(t, dsn, "arguments"))
	assert.Equal(t, second.Len(), countRows(t, dsn, "paths"))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	var p string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT p.path FROM arguments a JOIN paths p ON p.idx = a.path_idx WHERE a.seq = 1`).Scan(&p))
	assert.Equal(t, "/tmp/c", p)
}

func TestStoreAbortKeepsPreviousAnalysis(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "analysis.db")

	paths := pathtable.New(nil)
	s, err := Open(ctx, dsn, paths)
	require.NoError(t, err)
	require.NoError(t, s.HandleRecord(openat(t, 1, paths, "/tmp/a", 3)))
	require.NoError(t, s.Close())

	paths = pathtable.New(nil)
	s, err = Open(ctx, dsn, paths)
	require.NoError(t, err)
	require.NoError(t, s.HandleRecord(openat(t, 1, paths, "/tmp/x", 3)))
	require.NoError(t, s.HandleRecord(openat(t, 2, paths, "/tmp/y", 3)))
	assert.Error(t, s.HandleRecord(openat(t, 2, paths, "/tmp/y", 3)), "duplicate sequence number")
	require.NoError(t, s.Abort())

	assert.Equal(t, 1, countRows(t, dsn, "syscalls"))
	assert.Equal(t, 1, countRows(t, dsn, "arguments"))
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing", "x.db"), pathtable.New(nil))
	assert.Error(t, err)
}
