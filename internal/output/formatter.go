package output

import (
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/record"

	"golang.org/x/sys/unix"
)

// RecordHandler receives every record the analysis produces, in order.
type RecordHandler interface {
	HandleRecord(rec *record.Record) error
}

// TrackedMarker follows every path on a tracked mount.
const TrackedMarker = "[PMEM]"

// TextFormatter prints records one per line.
// Resolved records show their resolved paths; other records show the raw
// strings captured by the tracer.
type TextFormatter struct {
	w     io.Writer
	paths *pathtable.Table
}

// NewTextFormatter creates a formatter writing to w. paths may be nil when
// records are never resolved.
func NewTextFormatter(w io.Writer, paths *pathtable.Table) *TextFormatter {
	return &TextFormatter{w: w, paths: paths}
}

// HandleRecord writes one line for rec.
func (f *TextFormatter) HandleRecord(rec *record.Record) error {
	if _, err := io.WriteString(f.w, f.Format(rec)+"\n"); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Format returns the line of rec, without newline.
func (f *TextFormatter) Format(rec *record.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %6d   %-20s\t\t", rec.PID(), rec.TID(), rec.Name())

	if rec.Resolved && f.paths != nil {
		for _, slot := range rec.Slots {
			if slot.Kind != record.SlotPath {
				continue
			}
			fmt.Fprintf(&b, " %q", f.paths.Path(slot.Path))
			if f.paths.IsTracked(slot.Path) {
				b.WriteString(" " + TrackedMarker + " ")
			}
		}
	} else {
		for _, n := range rec.Desc.StringArgs() {
			if s, ok := rec.ArgString(n); ok {
				fmt.Fprintf(&b, " %q", s)
			}
		}
	}

	switch {
	case rec.HasExit():
		b.WriteString(" = " + FormatReturn(rec.Ret))
	case rec.Desc.NoReturn:
	default:
		b.WriteString(" = ?")
	}
	if rec.Truncated {
		b.WriteString(" (truncated)")
	}
	return b.String()
}

// FormatReturn prints a return value, naming the errno of failures.
func FormatReturn(ret int64) string {
	if ret < 0 && ret >= -4095 {
		if name := unix.ErrnoName(syscall.Errno(-ret)); name != "" {
			return fmt.Sprintf("%d %s", ret, name)
		}
	}
	return fmt.Sprintf("%d", ret)
}
