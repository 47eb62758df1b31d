package output

import (
	"testing"
	"time"

	"github.com/mrzor/syscall-analyzer/internal/config"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/rules"
	"github.com/mrzor/syscall-analyzer/internal/timesync"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var bootTime = time.Unix(1000, 0)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func byName(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func TestOTELFormatterSpans(t *testing.T) {
	b := newBuilder(t)
	sr, tracer := newRecorder(t)
	log, _ := test.NewNullLogger()
	f := NewOTELFormatter(tracer, b.paths(), timesync.NewConverter(bootTime), log)

	recs := []*record.Record{
		b.openat(10, "a", 3),
		b.call(10, "clone", [6]uint64{}, nil, 11),
		b.openat(11, "/etc/shadow", -13),
	}
	for _, rec := range recs {
		require.NoError(t, f.HandleRecord(rec))
	}

	// Process spans stay open until Close.
	assert.Equal(t, 2, f.SpanCount())
	require.Len(t, sr.Ended(), 3)
	f.Close()
	assert.Zero(t, f.SpanCount())

	spans := sr.Ended()
	require.Len(t, spans, 5)

	procs := byName(spans, "process")
	require.Len(t, procs, 2)
	var parent, child sdktrace.ReadOnlySpan
	for _, p := range procs {
		switch attrs(p)["process.pid"].AsInt64() {
		case 10:
			parent = p
		case 11:
			child = p
		}
	}
	require.NotNil(t, parent)
	require.NotNil(t, child)
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
	assert.Equal(t, int64(10), attrs(child)["process.parent_pid"].AsInt64())
	assert.Equal(t, int64(2), attrs(parent)["process.syscalls"].AsInt64())

	opens := byName(spans, "syscall.openat")
	require.Len(t, opens, 2)

	ok := opens[0]
	a := attrs(ok)
	assert.Equal(t, parent.SpanContext().SpanID(), ok.Parent().SpanID())
	assert.True(t, a["syscall.tracked"].AsBool())
	assert.Equal(t, []string{"/mnt/pmem/a"}, a["syscall.paths"].AsStringSlice())
	assert.Equal(t, int64(3), a["syscall.ret"].AsInt64())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Equal(t, bootTime.Add(1000*time.Nanosecond), ok.StartTime())
	assert.Equal(t, bootTime.Add(1500*time.Nanosecond), ok.EndTime())

	failed := opens[1]
	assert.Equal(t, child.SpanContext().SpanID(), failed.Parent().SpanID())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "-13 EACCES", failed.Status().Description)
	assert.False(t, attrs(failed)["syscall.tracked"].AsBool())

	// The parent process span ends with its last syscall.
	assert.Equal(t, bootTime.Add(2500*time.Nanosecond), parent.EndTime())
}

func TestOTELFormatterTraceIDAndRules(t *testing.T) {
	b := newBuilder(t)
	sr, tracer := newRecorder(t)
	log, _ := test.NewNullLogger()

	evaluator, err := rules.NewEvaluator([]config.Rule{{Name: "pmem", Expression: "tracked"}}, b.paths(), log)
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	warning := attribute.String("_trace_id_expr_result", "x")

	f := NewOTELFormatter(tracer, b.paths(), timesync.NewConverter(bootTime), log,
		WithTraceID(traceID, []attribute.KeyValue{warning}),
		WithRules(evaluator),
	)
	require.NoError(t, f.HandleRecord(b.openat(10, "a", 3)))
	f.Close()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, traceID, s.SpanContext().TraceID())
	}

	call := byName(spans, "syscall.openat")[0]
	assert.Equal(t, "true", attrs(call)["pmem"].AsString())

	proc := byName(spans, "process")[0]
	assert.Equal(t, "x", attrs(proc)["_trace_id_expr_result"].AsString())
}

func TestOTELFormatterChildBeforeFork(t *testing.T) {
	b := newBuilder(t)
	sr, tracer := newRecorder(t)
	log, _ := test.NewNullLogger()
	f := NewOTELFormatter(tracer, b.paths(), timesync.NewConverter(bootTime), log)

	// The child's first record precedes the fork's exit.
	require.NoError(t, f.HandleRecord(b.openat(10, "a", 3)))
	require.NoError(t, f.HandleRecord(b.openat(11, "b", 3)))
	require.NoError(t, f.HandleRecord(b.call(10, "clone", [6]uint64{}, nil, 11)))
	f.Close()

	for _, p := range byName(sr.Ended(), "process") {
		if attrs(p)["process.pid"].AsInt64() == 11 {
			assert.Equal(t, int64(10), attrs(p)["process.parent_pid"].AsInt64())
		}
	}
}
