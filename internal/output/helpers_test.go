package output

import (
	"testing"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/procstate"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/resolver"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const atFDCWD = uint64(0xFFFFFFFFFFFFFF9C)

// builder produces records as the analysis would hand them to a formatter.
type builder struct {
	t     *testing.T
	table *syscalls.Table
	res   *resolver.Resolver
	seq   uint64
}

func newBuilder(t *testing.T) *builder {
	t.Helper()
	log, _ := test.NewNullLogger()
	return &builder{
		t:     t,
		table: syscalls.DefaultTable(),
		res: resolver.New(
			pathtable.New([]string{"/mnt/pmem"}),
			procstate.NewRegistry("/mnt/pmem", procstate.WithLogger(log)),
			log,
		),
	}
}

func (b *builder) paths() *pathtable.Table {
	return b.res.Paths()
}

// packets builds the record of one call; exit is skipped when withExit is false.
func (b *builder) packets(pid uint32, name string, args [6]uint64, strs map[int]string, ret int64, withExit bool) *record.Record {
	b.t.Helper()
	desc, ok := b.table.ByName(name)
	require.True(b.t, ok, name)

	b.seq++
	pidTid := uint64(pid)<<32 | uint64(pid)
	entry := &record.Packet{
		PidTid:    pidTid,
		ID:        desc.ID,
		Content:   record.ContentArgs,
		Timestamp: b.seq * 1000,
		Payload:   record.EncodeEntry(args, strs, desc.StringArgs()),
	}
	rec := record.New(entry, desc, b.seq, 0)
	require.NoError(b.t, rec.Apply(entry))
	if withExit && !desc.NoReturn {
		exit := &record.Packet{
			PidTid:    pidTid,
			ID:        desc.ID,
			Content:   record.ContentExit,
			Timestamp: b.seq*1000 + 500,
			Payload:   record.EncodeExit(ret),
		}
		require.NoError(b.t, rec.Apply(exit))
	}
	return rec
}

// call builds and resolves a completed record.
func (b *builder) call(pid uint32, name string, args [6]uint64, strs map[int]string, ret int64) *record.Record {
	b.t.Helper()
	rec := b.packets(pid, name, args, strs, ret, true)
	require.NoError(b.t, b.res.Resolve(rec))
	return rec
}

func (b *builder) openat(pid uint32, p string, ret int64) *record.Record {
	return b.call(pid, "openat", [6]uint64{atFDCWD}, map[int]string{1: p}, ret)
}
