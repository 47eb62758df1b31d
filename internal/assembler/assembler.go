package assembler

import (
	"fmt"
	"slices"

	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"github.com/sirupsen/logrus"
)

// Check is the outcome of comparing a packet with the current record.
type Check uint8

const (
	CheckOK Check = iota
	CheckNoExit
	CheckNoEntry
	CheckWrongExit
	CheckSaveInEntry
	CheckNotFirstPacket
	CheckWrongID
	numChecks
)

func (c Check) String() string {
	switch c {
	case CheckOK:
		return "OK"
	case CheckNoExit:
		return "NO_EXIT"
	case CheckNoEntry:
		return "NO_ENTRY"
	case CheckWrongExit:
		return "WRONG_EXIT"
	case CheckSaveInEntry:
		return "SAVE_IN_ENTRY"
	case CheckNotFirstPacket:
		return "NOT_FIRST_PACKET"
	case CheckWrongID:
		return "WRONG_ID"
	default:
		return fmt.Sprintf("CHECK(%d)", uint8(c))
	}
}

// Pending reports the size of each pool.
type Pending struct {
	AwaitingExit int
	Misordered   int
	Completed    int
}

// Stats counts the checks seen and the packets that could not be used.
type Stats struct {
	Checks    [numChecks]int
	Discarded int
	Leftovers int
}

// Assembler builds syscall records from a packet stream.
// It is not safe for concurrent use.
type Assembler struct {
	table   *syscalls.Table
	bufSize int
	log     logrus.FieldLogger

	cur          *record.Record
	awaitingExit []*record.Record
	misordered   []*record.Record
	completed    []*record.Record

	seq   uint64
	stats Stats
}

// New creates an assembler. bufSize is the capture buffer size declared in
// the log header.
func New(table *syscalls.Table, bufSize int, log logrus.FieldLogger) *Assembler {
	return &Assembler{
		table:   table,
		bufSize: bufSize,
		log:     log,
	}
}

// check classifies p against the current record.
func (a *Assembler) check(p *record.Packet) Check {
	cur := a.cur
	if cur == nil {
		switch {
		case p.Continued():
			return CheckNotFirstPacket
		case p.IsExit():
			return CheckNoEntry
		default:
			return CheckOK
		}
	}

	switch {
	case p.IsExit():
		if cur.Accepts(p) {
			return CheckOK
		}
		return CheckWrongExit
	case p.Continued():
		if cur.Accepts(p) {
			return CheckOK
		}
		return CheckNotFirstPacket
	case p.PidTid != cur.PidTid:
		return CheckNoExit
	case p.ID == cur.ID:
		return CheckSaveInEntry
	default:
		return CheckWrongID
	}
}

// Push consumes one packet and returns the record it completed, if any.
func (a *Assembler) Push(p *record.Packet) *record.Record {
	c := a.check(p)
	a.stats.Checks[c]++
	if c != CheckOK {
		a.log.WithFields(logrus.Fields{
			"check":  c,
			"packet": p,
		}).Debug("packet does not continue the current record")
	}

	switch c {
	case CheckOK:
		if a.cur == nil {
			return a.start(p)
		}
		return a.apply(a.cur, p)

	case CheckNoExit:
		a.awaitingExit = append(a.awaitingExit, a.cur)
		a.cur = nil
		return a.start(p)

	case CheckWrongExit:
		a.awaitingExit = append(a.awaitingExit, a.cur)
		a.cur = nil
		return a.noEntry(p)

	case CheckNoEntry:
		return a.noEntry(p)

	case CheckSaveInEntry, CheckWrongID:
		a.misordered = append(a.misordered, a.cur)
		a.cur = nil
		return a.start(p)

	case CheckNotFirstPacket:
		if a.cur != nil {
			a.awaitingExit = append(a.awaitingExit, a.cur)
			a.cur = nil
		}
		if rec, ok := a.take(&a.misordered, p); ok {
			return a.apply(rec, p)
		}
		if rec, ok := a.take(&a.awaitingExit, p); ok {
			return a.apply(rec, p)
		}
		a.discard(p, "continuation packet without a matching record")
	}
	return nil
}

// start begins a new record from the first packet of an invocation.
func (a *Assembler) start(p *record.Packet) *record.Record {
	a.seq++
	rec := record.New(p, a.table.Lookup(p.ID), a.seq, a.bufSize)
	return a.apply(rec, p)
}

// apply adds p to rec. A completed record goes to the completed pool,
// otherwise rec becomes the current record.
func (a *Assembler) apply(rec *record.Record, p *record.Packet) *record.Record {
	if err := rec.Apply(p); err != nil {
		a.log.WithError(err).WithField("packet", p).Error("malformed packet payload")
	}
	if !p.IsExit() && !rec.EntryPending() {
		a.checkStrings(rec)
	}
	if rec.State != record.StateCompleted {
		a.cur = rec
		return nil
	}
	if a.cur == rec {
		a.cur = nil
	}
	a.completed = append(a.completed, rec)
	return rec
}

// checkStrings reports string arguments the capture could not read in full.
func (a *Assembler) checkStrings(rec *record.Record) {
	if rec.ReadError {
		a.log.WithFields(logrus.Fields{
			"pid":     rec.PID(),
			"syscall": rec.Name(),
		}).Warn("the probe failed to read a string argument")
	}
	if rec.Truncated {
		s, _ := rec.ArgString(rec.TruncatedArg)
		a.log.WithFields(logrus.Fields{
			"pid":     rec.PID(),
			"syscall": rec.Name(),
			"arg":     rec.TruncatedArg,
			"string":  s,
		}).Error("string argument truncated")
	}
}

// noEntry handles an exit packet that does not continue the current record.
func (a *Assembler) noEntry(p *record.Packet) *record.Record {
	desc := a.table.Lookup(p.ID)
	if desc.SpawnsProcess {
		if ret, _ := p.ReturnValue(); ret == 0 {
			return a.start(p)
		}
	}

	if rec, ok := a.take(&a.awaitingExit, p); ok {
		return a.apply(rec, p)
	}
	if rec, ok := a.take(&a.misordered, p); ok {
		return a.apply(rec, p)
	}

	// Without the parent's half the child would never be registered.
	if desc.SpawnsProcess {
		a.log.WithField("packet", p).Warn("exit of a process-spawning call without entry")
		return a.start(p)
	}
	a.discard(p, "exit packet without a matching entry")
	return nil
}

// take removes and returns the oldest record of pool accepting p.
func (a *Assembler) take(pool *[]*record.Record, p *record.Packet) (*record.Record, bool) {
	i := slices.IndexFunc(*pool, func(rec *record.Record) bool { return rec.Accepts(p) })
	if i < 0 {
		return nil, false
	}
	rec := (*pool)[i]
	*pool = slices.Delete(*pool, i, i+1)
	return rec, true
}

func (a *Assembler) discard(p *record.Packet, reason string) {
	a.stats.Discarded++
	a.log.WithField("packet", p).Warn(reason)
}

// Flush moves the current record and every pooled leftover to the completed
// pool and returns the leftovers in chronological order. One diagnostic is
// logged per leftover.
func (a *Assembler) Flush() []*record.Record {
	var leftovers []*record.Record
	if a.cur != nil {
		leftovers = append(leftovers, a.cur)
		a.cur = nil
	}
	leftovers = append(leftovers, a.awaitingExit...)
	leftovers = append(leftovers, a.misordered...)
	a.awaitingExit = nil
	a.misordered = nil

	record.SortChronological(leftovers)
	for _, rec := range leftovers {
		a.log.WithFields(logrus.Fields{
			"pid":     rec.PID(),
			"tid":     rec.TID(),
			"syscall": rec.Name(),
			"entry":   rec.HasEntry(),
			"exit":    rec.HasExit(),
		}).Warn("unmatched record at end of log")
	}
	a.stats.Leftovers += len(leftovers)
	a.completed = append(a.completed, leftovers...)
	return leftovers
}

// Finish flushes leftovers and returns every record in chronological order.
func (a *Assembler) Finish() []*record.Record {
	a.Flush()
	record.SortChronological(a.completed)
	return a.completed
}

// Pending reports the current pool sizes.
func (a *Assembler) Pending() Pending {
	return Pending{
		AwaitingExit: len(a.awaitingExit),
		Misordered:   len(a.misordered),
		Completed:    len(a.completed),
	}
}

// Stats returns the counters collected so far.
func (a *Assembler) Stats() Stats {
	return a.stats
}
