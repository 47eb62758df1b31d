package output

import (
	"context"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/rules"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"
	"github.com/mrzor/syscall-analyzer/internal/timesync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// processSpan is the span grouping the syscalls of one process.
type processSpan struct {
	span    trace.Span
	ctx     context.Context
	lastEnd uint64 // monotonic timestamp in nanoseconds
	calls   int
}

// OTELFormatter formats resolved records as OpenTelemetry spans.
//
// Each process gets a "process" span; each record becomes a
// "syscall.<name>" span below it. A process forked by a traced process is
// parented to its parent's span.
type OTELFormatter struct {
	tracer    trace.Tracer
	paths     *pathtable.Table
	converter *timesync.Converter
	rules     *rules.Evaluator
	log       logrus.FieldLogger

	root      context.Context
	rootAttrs []attribute.KeyValue
	processes map[uint32]*processSpan
	parents   map[uint32]uint32 // child PID -> parent PID
}

// OTELOption configures an OTELFormatter.
type OTELOption func(*OTELFormatter)

// WithTraceID places every span in the given trace. warnings are attached
// to the process spans.
func WithTraceID(traceID trace.TraceID, warnings []attribute.KeyValue) OTELOption {
	return func(f *OTELFormatter) {
		if !traceID.IsValid() {
			return
		}
		// The remote parent only carries the trace ID; its span ID is never exported.
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     trace.SpanID{0x01},
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		f.root = trace.ContextWithRemoteSpanContext(f.root, sc)
		f.rootAttrs = append(f.rootAttrs, warnings...)
	}
}

// WithRules attaches the rule results of each record to its span.
func WithRules(e *rules.Evaluator) OTELOption {
	return func(f *OTELFormatter) {
		f.rules = e
	}
}

// NewOTELFormatter creates a new OTELFormatter.
func NewOTELFormatter(tracer trace.Tracer, paths *pathtable.Table, converter *timesync.Converter, log logrus.FieldLogger, opts ...OTELOption) *OTELFormatter {
	f := &OTELFormatter{
		tracer:    tracer,
		paths:     paths,
		converter: converter,
		log:       log,
		root:      context.Background(),
		processes: make(map[uint32]*processSpan),
		parents:   make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// process returns the span of pid, starting it at ts if needed.
func (f *OTELFormatter) process(pid uint32, ts uint64) *processSpan {
	if ps, ok := f.processes[pid]; ok {
		return ps
	}

	parentCtx := f.root
	attrs := []attribute.KeyValue{attribute.Int64("process.pid", int64(pid))}
	if ppid, ok := f.parents[pid]; ok {
		attrs = append(attrs, attribute.Int64("process.parent_pid", int64(ppid)))
		if parent, ok := f.processes[ppid]; ok {
			parentCtx = parent.ctx
		}
	}
	attrs = append(attrs, f.rootAttrs...)

	ctx, span := f.tracer.Start(parentCtx, "process",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(f.converter.MonotonicToWallClock(ts)),
		trace.WithAttributes(attrs...),
	)
	ps := &processSpan{span: span, ctx: ctx, lastEnd: ts}
	f.processes[pid] = ps
	return ps
}

// HandleRecord creates the span of rec.
func (f *OTELFormatter) HandleRecord(rec *record.Record) error {
	start := rec.Timestamp()
	end := start
	if rec.HasExit() && rec.ExitTime > start {
		end = rec.ExitTime
	}

	ps := f.process(rec.PID(), start)
	ps.calls++
	if end > ps.lastEnd {
		ps.lastEnd = end
	}

	attrs := []attribute.KeyValue{
		attribute.String("syscall.name", rec.Name()),
		attribute.Int64("process.pid", int64(rec.PID())),
		attribute.Int64("thread.id", int64(rec.TID())),
		attribute.Bool("syscall.resolved", rec.Resolved),
		attribute.Bool("syscall.tracked", rec.Tracked),
	}
	if rec.HasExit() {
		attrs = append(attrs, attribute.Int64("syscall.ret", rec.Ret))
	}
	if paths := f.resolvedPaths(rec); len(paths) > 0 {
		attrs = append(attrs, attribute.StringSlice("syscall.paths", paths))
	}
	if rec.Truncated {
		attrs = append(attrs, attribute.Int("syscall.truncated_arg", rec.TruncatedArg))
	}
	if f.rules != nil {
		ruleAttrs, err := f.rules.Attributes(rec)
		if err != nil {
			attrs = append(attrs, attribute.String("rules.error", err.Error()))
		}
		attrs = append(attrs, ruleAttrs...)
	}

	_, span := f.tracer.Start(ps.ctx, "syscall."+rec.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(f.converter.MonotonicToWallClock(start)),
		trace.WithAttributes(attrs...),
	)

	switch {
	case !rec.HasExit():
	case rec.Ret < 0:
		span.SetStatus(codes.Error, FormatReturn(rec.Ret))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(f.converter.MonotonicToWallClock(end)))

	// Children forked from here are parented to this process.
	if rec.HasExit() && rec.Ret > 0 && syscalls.IsSpawn(rec.Name()) {
		child := uint32(rec.Ret) //nolint:gosec // ret is a positive pid
		f.parents[child] = rec.PID()
		// The child may have run before its parent returned.
		if cs, ok := f.processes[child]; ok {
			cs.span.SetAttributes(attribute.Int64("process.parent_pid", int64(rec.PID())))
		}
	}
	return nil
}

func (f *OTELFormatter) resolvedPaths(rec *record.Record) []string {
	var paths []string
	for _, slot := range rec.Slots {
		if slot.Kind == record.SlotPath {
			paths = append(paths, f.paths.Path(slot.Path))
		}
	}
	return paths
}

// Close ends every process span at the end of its last syscall.
func (f *OTELFormatter) Close() {
	for pid, ps := range f.processes {
		ps.span.SetAttributes(attribute.Int("process.syscalls", ps.calls))
		ps.span.End(trace.WithTimestamp(f.converter.MonotonicToWallClock(ps.lastEnd)))
		f.log.WithFields(logrus.Fields{
			"pid":   pid,
			"calls": ps.calls,
		}).Debug("process span ended")
	}
	f.processes = make(map[uint32]*processSpan)
}

// SpanCount returns the number of open process spans.
func (f *OTELFormatter) SpanCount() int {
	return len(f.processes)
}

var _ RecordHandler = (*OTELFormatter)(nil)
