package record

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"golang.org/x/sys/unix"
)

// ErrShortPayload is returned when a packet payload ends inside a field.
var ErrShortPayload = errors.New("short packet payload")

// State is the assembly state of a record.
type State uint8

const (
	StateInit State = iota
	StateAccumulating
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAccumulating:
		return "accumulating"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// SlotKind tells how an argument slot was resolved.
type SlotKind uint8

const (
	// SlotRaw holds the raw integer argument.
	SlotRaw SlotKind = iota
	// SlotPath holds an interned path index.
	SlotPath
	// SlotUnknown marks a descriptor that could not be resolved.
	SlotUnknown
)

// Slot is one resolved argument.
type Slot struct {
	Kind SlotKind
	Raw  uint64
	Path pathtable.Index
}

// PathSlot returns a slot holding an interned path.
func PathSlot(idx pathtable.Index) Slot { return Slot{Kind: SlotPath, Path: idx} }

// UnknownSlot returns a slot for an unresolved descriptor.
func UnknownSlot(raw uint64) Slot { return Slot{Kind: SlotUnknown, Raw: raw} }

// Record is one syscall invocation assembled from its entry and exit packets.
// It is mutable while assembling. Once completed only the resolver writes to
// it, exactly once.
type Record struct {
	PidTid uint64
	ID     uint64
	Desc   *syscalls.Descriptor
	Seq    uint64
	State  State

	// Content is the union of the content bits of all applied packets.
	Content   uint32
	EntryTime uint64
	ExitTime  uint64

	Args    [syscalls.MaxArgs]uint64
	Strings map[int]string
	Ret     int64

	Truncated    bool
	TruncatedArg int
	ReadError    bool

	Slots    []Slot
	Tracked  bool
	Resolved bool

	hasEntry  bool
	entryMore bool
	hasExit   bool
	bufSize   int
	firstTime uint64
}

// New starts a record for the first packet of an invocation.
// bufSize is the capture buffer size of the log, used to detect truncated strings.
func New(p *Packet, desc *syscalls.Descriptor, seq uint64, bufSize int) *Record {
	return &Record{
		PidTid:    p.PidTid,
		ID:        p.ID,
		Desc:      desc,
		Seq:       seq,
		State:     StateInit,
		Strings:   make(map[int]string),
		bufSize:   bufSize,
		firstTime: p.Timestamp,
	}
}

// Key returns the record's key.
func (r *Record) Key() Key { return Key{PidTid: r.PidTid, ID: r.ID} }

// PID returns the process id.
func (r *Record) PID() uint32 { return uint32(r.PidTid >> 32) }

// TID returns the thread id.
func (r *Record) TID() uint32 { return uint32(r.PidTid) }

// Name returns the syscall name.
func (r *Record) Name() string { return r.Desc.Name }

// HasEntry reports whether entry data (arguments) has been applied.
func (r *Record) HasEntry() bool { return r.hasEntry }

// HasExit reports whether the exit packet has been applied.
func (r *Record) HasExit() bool { return r.hasExit }

// EntryPending reports whether more entry packets are expected.
func (r *Record) EntryPending() bool { return r.entryMore }

// Timestamp returns the timestamp of the first packet applied.
func (r *Record) Timestamp() uint64 { return r.firstTime }

// Succeeded reports whether the call returned a non-error value.
// Kernel errors are returned as -errno.
func (r *Record) Succeeded() bool { return r.hasExit && r.Ret >= 0 }

// FD returns argument n interpreted as a file descriptor.
func (r *Record) FD(n int) int32 {
	//nolint:gosec // descriptors are the low 32 bits of the register
	return int32(uint32(r.Args[n]))
}

// ArgString returns the captured string of argument n.
func (r *Record) ArgString(n int) (string, bool) {
	s, ok := r.Strings[n]
	return s, ok
}

// Accepts reports whether p is the next packet this record expects.
func (r *Record) Accepts(p *Packet) bool {
	if r.State == StateCompleted || p.Key() != r.Key() {
		return false
	}
	if p.IsExit() {
		return !r.hasExit
	}
	if p.Continued() {
		return r.entryMore
	}
	return !r.hasEntry
}

// Apply adds the data of p to the record and advances its state.
// A payload error leaves the record usable; the caller decides how to report it.
func (r *Record) Apply(p *Packet) error {
	r.Content |= p.Content
	if p.ReadError() {
		r.ReadError = true
	}

	var err error
	switch {
	case p.IsExit():
		r.ExitTime = p.Timestamp
		r.hasExit = true
		r.entryMore = false
		if ret, ok := p.ReturnValue(); ok {
			r.Ret = ret
		} else {
			err = fmt.Errorf("exit of %s: %w", r.Desc.Name, ErrShortPayload)
		}
	case p.Continued():
		r.entryMore = p.More()
		err = r.applyContinuation(p)
	default:
		r.EntryTime = p.Timestamp
		r.hasEntry = p.HasArgs() || r.Desc.NArgs == 0
		r.entryMore = p.More()
		if p.HasArgs() {
			err = r.applyEntry(p)
		}
	}

	switch {
	case r.hasExit:
		r.State = StateCompleted
	case r.Desc.NoReturn && !r.entryMore:
		r.State = StateCompleted
	default:
		r.State = StateAccumulating
	}

	return err
}

func (r *Record) applyEntry(p *Packet) error {
	data := p.Payload
	for n := range r.Args {
		if len(data) < 8 {
			return fmt.Errorf("arguments of %s: %w", r.Desc.Name, ErrShortPayload)
		}
		r.Args[n] = binary.LittleEndian.Uint64(data)
		data = data[8:]
	}

	positions := r.Desc.StringArgs()
	for i, n := range positions {
		s, rest, err := readString(data)
		if err != nil {
			return fmt.Errorf("string argument %d of %s: %w", n, r.Desc.Name, err)
		}
		data = rest
		r.Strings[n] = s
		// Only the last string of a packet can continue in the next one.
		more := p.More() && i == len(positions)-1
		r.checkTruncated(n, len(s), more)
	}
	return nil
}

func (r *Record) applyContinuation(p *Packet) error {
	data := p.Payload
	for len(data) > 0 {
		if len(data) < 4 {
			return fmt.Errorf("continuation of %s: %w", r.Desc.Name, ErrShortPayload)
		}
		n := int(binary.LittleEndian.Uint32(data))
		s, rest, err := readString(data[4:])
		if err != nil {
			return fmt.Errorf("continuation of %s: %w", r.Desc.Name, err)
		}
		data = rest
		if n < 0 || n >= syscalls.MaxArgs {
			return fmt.Errorf("continuation of %s: argument %d out of range", r.Desc.Name, n)
		}
		r.Strings[n] += s
		r.checkTruncated(n, len(s), p.More() && len(data) == 0)
	}
	return nil
}

// checkTruncated marks the record truncated when a chunk filled the capture
// buffer and no continuation follows.
func (r *Record) checkTruncated(n, chunk int, more bool) {
	if r.bufSize <= 1 || more || r.Truncated {
		return
	}
	if chunk >= r.bufSize-1 {
		r.Truncated = true
		r.TruncatedArg = n
	}
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, ErrShortPayload
	}
	size := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if size > len(data) {
		return "", nil, ErrShortPayload
	}
	return unix.ByteSliceToString(data[:size]), data[size:], nil
}

// SortChronological orders records by the timestamp of their first packet,
// keeping encounter order for equal timestamps.
func SortChronological(records []*Record) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := cmp.Compare(a.firstTime, b.firstTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}
