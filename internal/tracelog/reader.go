package tracelog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"golang.org/x/sys/unix"
)

// Reader decodes a log.
type Reader struct {
	br     *bufio.Reader
	tee    *bytes.Buffer
	offset int64
}

// NewReader returns a reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// read fills buf. Any EOF is reported as ErrTruncated.
func (r *Reader) read(buf []byte) error {
	n, err := io.ReadFull(r.br, buf)
	r.offset += int64(n)
	if r.tee != nil {
		r.tee.Write(buf[:n])
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

func (r *Reader) u32() (uint32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) i32() (int32, error) {
	v, err := r.u32()
	//nolint:gosec // signed on the wire
	return int32(v), err
}

func (r *Reader) bytes(n int32) ([]byte, error) {
	if n < 0 || n > maxStringLen {
		return nil, fmt.Errorf("%w: string length %d", ErrCorrupt, n)
	}
	buf := make([]byte, n)
	return buf, r.read(buf)
}

func (r *Reader) signature(want string) error {
	var b [signatureLen]byte
	if err := r.read(b[:]); err != nil {
		return err
	}
	if got := unix.ByteSliceToString(b[:]); got != want {
		return fmt.Errorf("%w: %q (expected: %q)", ErrSignature, got, want)
	}
	return nil
}

// readTablePart reads the signature, version, architecture and syscall table.
func (r *Reader) readTablePart(h *Header) error {
	if err := r.signature(TableSignature); err != nil {
		return err
	}

	var v [3]uint32
	for i := range v {
		var err error
		if v[i], err = r.u32(); err != nil {
			return err
		}
	}
	h.Version = Version{Major: v[0], Minor: v[1], Patch: v[2]}
	if h.Version.Older(MinVersion) {
		return fmt.Errorf("%w: %s (required: %d.%d.0 or later)",
			ErrVersion, h.Version, MinVersion.Major, MinVersion.Minor)
	}

	arch, err := r.u32()
	if err != nil {
		return err
	}
	h.Arch = arch
	if arch != ArchX86_64 {
		return fmt.Errorf("%w: %d (required: x86_64)", ErrArchitecture, arch)
	}

	h.Table, err = r.table()
	return err
}

func (r *Reader) table() (*syscalls.Table, error) {
	count, err := r.i32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > maxTableEntries {
		return nil, fmt.Errorf("%w: syscall table size %d", ErrCorrupt, count)
	}

	descs := make([]*syscalls.Descriptor, 0, count)
	for range count {
		var f [4]uint32
		for i := range f {
			if f[i], err = r.u32(); err != nil {
				return nil, err
			}
		}
		if f[3] > maxNameLen {
			return nil, fmt.Errorf("%w: syscall name length %d", ErrCorrupt, f[3])
		}
		name, err := r.bytes(int32(f[3]))
		if err != nil {
			return nil, err
		}
		descs = append(descs, syscalls.NewDescriptor(uint64(f[0]), unix.ByteSliceToString(name), int(f[1]), f[2]))
	}
	return syscalls.NewTable(descs...), nil
}

// ReadHeader decodes the log header. Errors wrapping ErrSignature, ErrVersion,
// ErrArchitecture or ErrTruncated mean the log cannot be analysed.
func (r *Reader) ReadHeader() (*Header, error) {
	r.tee = &bytes.Buffer{}
	defer func() { r.tee = nil }()

	h := &Header{}
	if err := r.readTablePart(h); err != nil {
		return nil, err
	}
	if err := r.signature(LogSignature); err != nil {
		return nil, err
	}

	bufSize, err := r.i32()
	if err != nil {
		return nil, err
	}
	h.BufSize = int(bufSize)

	cwdLen, err := r.i32()
	if err != nil {
		return nil, err
	}
	cwd, err := r.bytes(cwdLen)
	if err != nil {
		return nil, err
	}
	h.Cwd = unix.ByteSliceToString(cwd)

	size, err := r.i32()
	if err != nil {
		return nil, err
	}
	argc, err := r.i32()
	if err != nil {
		return nil, err
	}
	argv, err := r.bytes(size - 4)
	if err != nil {
		return nil, err
	}
	h.Argv = splitArgv(argv, int(argc))

	h.Raw = bytes.Clone(r.tee.Bytes())
	return h, nil
}

func splitArgv(b []byte, argc int) []string {
	s := strings.TrimRight(string(b), "\x00")
	if s == "" {
		return nil
	}
	args := strings.Split(s, "\x00")
	if argc >= 0 && argc < len(args) {
		args = args[:argc]
	}
	return args
}

// NextRaw returns the next event exactly as stored, size field included.
// It returns io.EOF at a clean end of log and ErrTruncated when the log ends
// inside an event.
func (r *Reader) NextRaw() ([]byte, error) {
	var sz [4]byte
	n, err := io.ReadFull(r.br, sz[:])
	r.offset += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, ErrTruncated
	case err != nil:
		return nil, err
	}

	size := binary.LittleEndian.Uint32(sz[:])
	if size < eventHeaderSize || size > maxStringLen {
		return nil, fmt.Errorf("%w: event size %d", ErrCorrupt, size)
	}
	buf := make([]byte, 4+size)
	copy(buf, sz[:])
	if err := r.read(buf[4:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// Next decodes the next event.
func (r *Reader) Next() (*record.Packet, error) {
	raw, err := r.NextRaw()
	if err != nil {
		return nil, err
	}
	return DecodePacket(raw)
}

// DecodePacket decodes one raw event as returned by NextRaw.
func DecodePacket(raw []byte) (*record.Packet, error) {
	if len(raw) < 4+eventHeaderSize {
		return nil, fmt.Errorf("%w: event of %d bytes", ErrCorrupt, len(raw))
	}
	le := binary.LittleEndian
	return &record.Packet{
		Content:   le.Uint32(raw[4:]),
		PidTid:    le.Uint64(raw[8:]),
		ID:        le.Uint64(raw[16:]),
		Timestamp: le.Uint64(raw[24:]),
		Payload:   raw[4+eventHeaderSize:],
	}, nil
}

// ReadTable decodes a standalone syscall table file: the signature, version
// and architecture fields of a log header followed by the table.
func ReadTable(r io.Reader) (*syscalls.Table, error) {
	h := &Header{}
	if err := NewReader(r).readTablePart(h); err != nil {
		return nil, fmt.Errorf("reading syscall table: %w", err)
	}
	return h.Table, nil
}
