// Package tracelog reads and writes vltrace binary logs.
//
// A log starts with a header:
//
//	"VLTRACE_TAB"          12 bytes, NUL padded
//	version                3 x u32 (major, minor, patch)
//	architecture           u32
//	syscall table          i32 count, then per entry:
//	                       u32 id, u32 nargs, u32 mask, u32 name length, name
//	"VLTRACE_LOG"          12 bytes, NUL padded
//	capture buffer size    i32
//	working directory      i32 length, bytes
//	command line           i32 size (including argc), i32 argc, NUL separated argv
//
// followed by events:
//
//	u32 size (of the rest of the event), u32 content, u64 pid/tid, u64 syscall id,
//	u64 timestamp, payload
//
// All integers are little endian.
package tracelog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mrzor/syscall-analyzer/internal/syscalls"
)

const (
	TableSignature = "VLTRACE_TAB"
	LogSignature   = "VLTRACE_LOG"

	signatureLen = 12

	// ArchX86_64 is the only architecture logs are accepted for.
	ArchX86_64 = 1

	// eventHeaderSize is the part of an event counted by its size field
	// before the payload.
	eventHeaderSize = 4 + 3*8

	maxTableEntries = 4096
	maxNameLen      = 256
	maxStringLen    = 1 << 20
)

var (
	ErrSignature    = errors.New("wrong signature of vltrace log")
	ErrVersion      = errors.New("wrong version of vltrace log")
	ErrArchitecture = errors.New("wrong architecture of vltrace log")
	// ErrTruncated is returned when the log ends inside a header or an event.
	ErrTruncated = errors.New("log file is truncated")
	// ErrCorrupt is returned for sizes no valid log contains.
	ErrCorrupt = errors.New("corrupt vltrace log")
)

// Version is the format version of a log.
type Version struct {
	Major, Minor, Patch uint32
}

// MinVersion is the oldest log version that can be read.
var MinVersion = Version{Major: 0, Minor: 1}

// CurrentVersion is the version written by Writer.
var CurrentVersion = Version{Major: 0, Minor: 1, Patch: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Older reports whether v predates o. Patch levels are compatible.
func (v Version) Older(o Version) bool {
	return v.Major < o.Major || (v.Major == o.Major && v.Minor < o.Minor)
}

// Header is the decoded header of a log.
type Header struct {
	Version Version
	Arch    uint32
	Table   *syscalls.Table
	BufSize int
	Cwd     string
	Argv    []string

	// Raw holds the header bytes exactly as read.
	Raw []byte
}

// CommandLine returns the traced command line.
func (h *Header) CommandLine() string {
	return strings.Join(h.Argv, " ")
}
