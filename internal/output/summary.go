package output

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/mrzor/syscall-analyzer/internal/assembler"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/rules"

	"github.com/dustin/go-humanize"
)

// Summary counts records for the report printed at the end of an analysis.
type Summary struct {
	Records    int
	Resolved   int
	Failed     int
	Truncated  int
	Tracked    int
	PerSyscall map[string]int // tracked records by syscall name
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{PerSyscall: make(map[string]int)}
}

// HandleRecord counts rec.
func (s *Summary) HandleRecord(rec *record.Record) error {
	s.Records++
	if rec.Resolved {
		s.Resolved++
	}
	if rec.HasExit() && rec.Ret < 0 {
		s.Failed++
	}
	if rec.Truncated {
		s.Truncated++
	}
	if rec.Tracked {
		s.Tracked++
		s.PerSyscall[rec.Name()]++
	}
	return nil
}

// Report holds what the summary is printed with.
type Report struct {
	Stats   assembler.Stats
	Matches []rules.Match
	// Script limits the report to the syscalls on tracked mounts.
	Script bool
}

// Write prints the summary to w.
func (s *Summary) Write(w io.Writer, r Report) error {
	var b strings.Builder

	if !r.Script {
		fmt.Fprintf(&b, "Records:    %s (%s resolved, %s failed, %s truncated)\n",
			humanize.Comma(int64(s.Records)), humanize.Comma(int64(s.Resolved)),
			humanize.Comma(int64(s.Failed)), humanize.Comma(int64(s.Truncated)))
		if r.Stats.Discarded > 0 {
			fmt.Fprintf(&b, "Discarded:  %s packets\n", humanize.Comma(int64(r.Stats.Discarded)))
		}
		if r.Stats.Leftovers > 0 {
			fmt.Fprintf(&b, "Unmatched:  %s records\n", humanize.Comma(int64(r.Stats.Leftovers)))
		}
		var checks []string
		for c, n := range r.Stats.Checks {
			if c != int(assembler.CheckOK) && n > 0 {
				checks = append(checks, fmt.Sprintf("%s %s", assembler.Check(c), humanize.Comma(int64(n))))
			}
		}
		if len(checks) > 0 {
			fmt.Fprintf(&b, "Reordering: %s\n", strings.Join(checks, ", "))
		}
	}

	if s.Tracked == 0 {
		b.WriteString("No syscalls on tracked filesystems.\n")
	} else {
		fmt.Fprintf(&b, "Syscalls on tracked filesystems (%s):\n", humanize.Comma(int64(s.Tracked)))
		names := slices.SortedFunc(maps.Keys(s.PerSyscall), func(a, b string) int {
			if c := cmp.Compare(s.PerSyscall[b], s.PerSyscall[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		for _, name := range names {
			fmt.Fprintf(&b, "   %-20s %s\n", name, humanize.Comma(int64(s.PerSyscall[name])))
		}
	}

	if len(r.Matches) > 0 && !r.Script {
		b.WriteString("Rules:\n")
		for _, m := range r.Matches {
			fmt.Fprintf(&b, "   %-20s %s\n", m.Rule.Name, humanize.Comma(int64(m.Count)))
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
