package tracelog

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *Header {
	return &Header{
		Version: CurrentVersion,
		Arch:    ArchX86_64,
		Table:   syscalls.DefaultTable(),
		BufSize: 256,
		Cwd:     "/home/x",
		Argv:    []string{"cp", "a", "/mnt/pmem/b"},
	}
}

func encodeLog(t *testing.T, h *Header, packets ...*record.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader(h))
	for _, p := range packets {
		require.NoError(t, w.WritePacket(p))
	}
	return buf.Bytes()
}

func TestReadHeader(t *testing.T) {
	data := encodeLog(t, testHeader())

	r := NewReader(bytes.NewReader(data))
	h, err := r.ReadHeader()
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, h.Version)
	assert.Equal(t, 256, h.BufSize)
	assert.Equal(t, "/home/x", h.Cwd)
	assert.Equal(t, []string{"cp", "a", "/mnt/pmem/b"}, h.Argv)
	assert.Equal(t, "cp a /mnt/pmem/b", h.CommandLine())
	assert.Equal(t, data, h.Raw)
	assert.Equal(t, int64(len(data)), r.Offset())

	openat, ok := h.Table.ByName("openat")
	require.True(t, ok)
	assert.Equal(t, syscalls.KindAt, openat.Kind)
	assert.Equal(t, syscalls.DefaultTable().Len(), h.Table.Len())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadHeader_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *Header, data []byte) []byte
		wantErr error
	}{
		{
			name: "signature",
			mutate: func(_ *Header, data []byte) []byte {
				copy(data, "VLTRACE_XXX")
				return data
			},
			wantErr: ErrSignature,
		},
		{
			name: "log signature",
			mutate: func(h *Header, data []byte) []byte {
				off := len(appendTablePart(nil, h.Version, h.Arch, h.Table))
				data[off] = 'X'
				return data
			},
			wantErr: ErrSignature,
		},
		{
			name: "version",
			mutate: func(_ *Header, data []byte) []byte {
				binary.LittleEndian.PutUint32(data[12:], 0)
				binary.LittleEndian.PutUint32(data[16:], 0)
				binary.LittleEndian.PutUint32(data[20:], 9)
				return data
			},
			wantErr: ErrVersion,
		},
		{
			name: "architecture",
			mutate: func(_ *Header, data []byte) []byte {
				binary.LittleEndian.PutUint32(data[24:], 2)
				return data
			},
			wantErr: ErrArchitecture,
		},
		{
			name: "truncated",
			mutate: func(_ *Header, data []byte) []byte {
				return data[:len(data)-3]
			},
			wantErr: ErrTruncated,
		},
		{
			name: "table size",
			mutate: func(_ *Header, data []byte) []byte {
				binary.LittleEndian.PutUint32(data[28:], 0xFFFFFFFF)
				return data
			},
			wantErr: ErrCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader()
			data := tt.mutate(h, encodeLog(t, h))

			_, err := NewReader(bytes.NewReader(data)).ReadHeader()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVersion_Older(t *testing.T) {
	assert.True(t, Version{0, 0, 9}.Older(MinVersion))
	assert.False(t, Version{0, 1, 0}.Older(MinVersion))
	assert.False(t, Version{1, 0, 0}.Older(MinVersion))
	assert.Equal(t, "0.1.3", Version{0, 1, 3}.String())
}

func TestReader_Packets(t *testing.T) {
	packets := []*record.Packet{
		{PidTid: 0x100000001, ID: 2, Content: record.ContentArgs, Timestamp: 10, Payload: record.EncodeEntry([6]uint64{7}, map[int]string{0: "/a"}, []int{0})},
		{PidTid: 0x100000001, ID: 2, Content: record.ContentExit, Timestamp: 11, Payload: record.EncodeExit(3)},
	}
	r := NewReader(bytes.NewReader(encodeLog(t, testHeader(), packets...)))
	_, err := r.ReadHeader()
	require.NoError(t, err)

	for _, want := range packets {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedEvent(t *testing.T) {
	p := &record.Packet{PidTid: 1, ID: 3, Content: record.ContentExit, Payload: record.EncodeExit(0)}
	data := encodeLog(t, testHeader(), p, p)

	for _, cut := range []int{1, 4, 10} {
		r := NewReader(bytes.NewReader(data[:len(data)-cut]))
		_, err := r.ReadHeader()
		require.NoError(t, err)

		_, err = r.Next()
		require.NoError(t, err)
		_, err = r.Next()
		assert.ErrorIs(t, err, ErrTruncated, "cut %d", cut)
	}
}

func TestReader_CorruptEventSize(t *testing.T) {
	data := encodeLog(t, testHeader())
	data = binary.LittleEndian.AppendUint32(data, 3)

	r := NewReader(bytes.NewReader(data))
	_, err := r.ReadHeader()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestNextRaw_RoundTrip(t *testing.T) {
	p := &record.Packet{PidTid: 5, ID: 6, Content: record.ContentArgs, Timestamp: 7, Payload: []byte{1, 2, 3}}
	data := encodeLog(t, testHeader(), p)

	r := NewReader(bytes.NewReader(data))
	h, err := r.ReadHeader()
	require.NoError(t, err)
	raw, err := r.NextRaw()
	require.NoError(t, err)

	assert.Equal(t, EncodePacket(p), raw)
	assert.Equal(t, data, append(bytes.Clone(h.Raw), raw...))
}

func TestReadTable(t *testing.T) {
	custom := syscalls.NewTable(
		syscalls.NewDescriptor(1000, "pmem_open", 2, syscalls.ArgPath(0)|syscalls.MaskFDFromPath),
	)

	got, err := ReadTable(bytes.NewReader(EncodeTable(custom)))
	require.NoError(t, err)

	d, ok := got.Get(1000)
	require.True(t, ok)
	assert.Equal(t, "pmem_open", d.Name)
	assert.Equal(t, syscalls.KindOpen, d.Kind)

	_, err = ReadTable(bytes.NewReader([]byte("VLTRACE_LOG\x00")))
	assert.ErrorIs(t, err, ErrSignature)
}
