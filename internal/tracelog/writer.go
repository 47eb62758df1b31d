package tracelog

import (
	"encoding/binary"
	"io"

	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"
)

// Writer encodes a log.
type Writer struct {
	w io.Writer
}

// NewWriter returns a writer to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw writes bytes as they are, typically a header's Raw field or an
// event returned by Reader.NextRaw.
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

// WriteHeader encodes h. Raw is ignored.
func (w *Writer) WriteHeader(h *Header) error {
	buf := appendTablePart(nil, h.Version, h.Arch, h.Table)
	buf = appendSignature(buf, LogSignature)
	buf = appendI32(buf, h.BufSize)

	cwd := append([]byte(h.Cwd), 0)
	buf = appendI32(buf, len(cwd))
	buf = append(buf, cwd...)

	var argv []byte
	for _, a := range h.Argv {
		argv = append(argv, a...)
		argv = append(argv, 0)
	}
	buf = appendI32(buf, len(argv)+4)
	buf = appendI32(buf, len(h.Argv))
	buf = append(buf, argv...)

	return w.WriteRaw(buf)
}

// WritePacket encodes one event.
func (w *Writer) WritePacket(p *record.Packet) error {
	return w.WriteRaw(EncodePacket(p))
}

// EncodePacket returns the raw event bytes of p.
func EncodePacket(p *record.Packet) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 0, 4+eventHeaderSize+len(p.Payload))
	//nolint:gosec // events are bounded by the capture buffer
	buf = le.AppendUint32(buf, uint32(eventHeaderSize+len(p.Payload)))
	buf = le.AppendUint32(buf, p.Content)
	buf = le.AppendUint64(buf, p.PidTid)
	buf = le.AppendUint64(buf, p.ID)
	buf = le.AppendUint64(buf, p.Timestamp)
	return append(buf, p.Payload...)
}

// EncodeTable returns a standalone syscall table file as read by ReadTable.
func EncodeTable(t *syscalls.Table) []byte {
	return appendTablePart(nil, CurrentVersion, ArchX86_64, t)
}

func appendTablePart(buf []byte, v Version, arch uint32, t *syscalls.Table) []byte {
	le := binary.LittleEndian
	buf = appendSignature(buf, TableSignature)
	buf = le.AppendUint32(buf, v.Major)
	buf = le.AppendUint32(buf, v.Minor)
	buf = le.AppendUint32(buf, v.Patch)
	buf = le.AppendUint32(buf, arch)

	descs := t.All()
	buf = appendI32(buf, len(descs))
	for _, d := range descs {
		//nolint:gosec // table ids and argument counts are small
		buf = le.AppendUint32(buf, uint32(d.ID))
		//nolint:gosec // at most six arguments
		buf = le.AppendUint32(buf, uint32(d.NArgs))
		buf = le.AppendUint32(buf, d.Mask)
		//nolint:gosec // names are short
		buf = le.AppendUint32(buf, uint32(len(d.Name)))
		buf = append(buf, d.Name...)
	}
	return buf
}

func appendSignature(buf []byte, sig string) []byte {
	var b [signatureLen]byte
	copy(b[:], sig)
	return append(buf, b[:]...)
}

func appendI32(buf []byte, v int) []byte {
	//nolint:gosec // header sizes fit in 32 bits
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(v)))
}
