// Package record defines the packets read from a trace log and the syscall
// records assembled from them.
package record

import (
	"encoding/binary"
	"fmt"
)

// Content bits of a packet.
const (
	ContentExit      = 1 << 0 // exit phase; entry phase when clear
	ContentArgs      = 1 << 1 // packet carries argument data
	ContentMore      = 1 << 2 // more packets of the same phase follow
	ContentContinued = 1 << 3 // not the first packet of its phase
	ContentReadError = 1 << 4 // the probe failed to read a string argument
)

// Packet is one event of the log. It is never modified after decoding.
type Packet struct {
	PidTid    uint64
	ID        uint64
	Content   uint32
	Timestamp uint64
	Payload   []byte
}

// PID returns the process id (high 32 bits of PidTid).
func (p *Packet) PID() uint32 { return uint32(p.PidTid >> 32) }

// TID returns the thread id (low 32 bits of PidTid).
func (p *Packet) TID() uint32 { return uint32(p.PidTid) }

// IsExit reports whether the packet belongs to the exit phase.
func (p *Packet) IsExit() bool { return p.Content&ContentExit != 0 }

// HasArgs reports whether the packet carries argument data.
func (p *Packet) HasArgs() bool { return p.Content&ContentArgs != 0 }

// More reports whether further packets of the same phase follow.
func (p *Packet) More() bool { return p.Content&ContentMore != 0 }

// Continued reports whether the packet continues an earlier one.
func (p *Packet) Continued() bool { return p.Content&ContentContinued != 0 }

// ReadError reports whether the probe failed to read a string argument.
func (p *Packet) ReadError() bool { return p.Content&ContentReadError != 0 }

// ReturnValue decodes the return value of an exit packet.
func (p *Packet) ReturnValue() (int64, bool) {
	if !p.IsExit() || len(p.Payload) < 8 {
		return 0, false
	}
	//nolint:gosec // return values are signed on the wire
	return int64(binary.LittleEndian.Uint64(p.Payload)), true
}

func (p *Packet) String() string {
	phase := "entry"
	if p.IsExit() {
		phase = "exit"
	}
	return fmt.Sprintf("%016X id=%d %s", p.PidTid, p.ID, phase)
}

// Key identifies the syscall invocation a packet or record belongs to.
type Key struct {
	PidTid uint64
	ID     uint64
}

// Key returns the packet's key.
func (p *Packet) Key() Key {
	return Key{PidTid: p.PidTid, ID: p.ID}
}

// EncodeEntry builds the payload of a first entry packet: the raw arguments
// followed by the strings of the given argument positions.
func EncodeEntry(args [6]uint64, strs map[int]string, positions []int) []byte {
	buf := make([]byte, 0, 48)
	for _, a := range args {
		buf = binary.LittleEndian.AppendUint64(buf, a)
	}
	for _, n := range positions {
		s := strs[n]
		//nolint:gosec // strings are bounded by the capture buffer
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// EncodeContinuation builds the payload of a continuation entry packet.
func EncodeContinuation(arg int, s string) []byte {
	buf := make([]byte, 0, 8+len(s))
	//nolint:gosec // argument positions are < 6
	buf = binary.LittleEndian.AppendUint32(buf, uint32(arg))
	//nolint:gosec // strings are bounded by the capture buffer
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// EncodeExit builds the payload of an exit packet.
func EncodeExit(ret int64) []byte {
	//nolint:gosec // return values are signed on the wire
	return binary.LittleEndian.AppendUint64(nil, uint64(ret))
}
