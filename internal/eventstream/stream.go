// Package eventstream replays the packets of a log, in file order, to a
// handler.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/tracelog"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// progressEvery is the number of packets between progress updates.
const progressEvery = 1000

// PacketHandler receives every packet of the log.
type PacketHandler interface {
	HandlePacket(p *record.Packet) error
}

// Result describes how a replay ended.
type Result struct {
	Packets   int
	Truncated bool // the log ended inside a packet
	Limited   bool // stopped at the packet limit
}

// Stream reads packets from a log reader and dispatches them to a handler.
type Stream struct {
	reader     *tracelog.Reader
	handler    PacketHandler
	log        logrus.FieldLogger
	maxPackets int

	progress io.Writer
	size     int64
}

// Option configures a Stream.
type Option func(*Stream)

// WithMaxPackets stops the replay after n packets. Zero means no limit.
func WithMaxPackets(n int) Option {
	return func(s *Stream) {
		s.maxPackets = n
	}
}

// WithProgress reports progress to w. size is the length of the log in
// bytes, used for the percentage.
func WithProgress(w io.Writer, size int64) Option {
	return func(s *Stream) {
		s.progress = w
		s.size = size
	}
}

// New creates a new Stream. The reader must be positioned after the header.
func New(reader *tracelog.Reader, handler PacketHandler, log logrus.FieldLogger, opts ...Option) *Stream {
	s := &Stream{
		reader:  reader,
		handler: handler,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run replays packets until the end of the log, the packet limit, or the
// cancellation of ctx. A truncated log ends the replay without error.
func (s *Stream) Run(ctx context.Context) (Result, error) {
	var res Result
	if s.progress != nil {
		fmt.Fprintln(s.progress, "Reading packets:")
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.maxPackets > 0 && res.Packets >= s.maxPackets {
			res.Limited = true
			break
		}

		p, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tracelog.ErrTruncated) {
			s.log.WithFields(logrus.Fields{
				"packets": res.Packets,
				"offset":  s.reader.Offset(),
			}).Warn("log file is truncated")
			res.Truncated = true
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		if err := s.handler.HandlePacket(p); err != nil {
			return res, fmt.Errorf("handling packet %d: %w", res.Packets, err)
		}

		if s.progress != nil && res.Packets%progressEvery == 0 {
			s.report(res.Packets)
		}
	}

	if s.progress != nil {
		if res.Limited {
			fmt.Fprintf(s.progress, "\rDone (read maximum number of packets: %s).\n", humanize.Comma(int64(res.Packets)))
		} else {
			fmt.Fprintf(s.progress, "\rDone (read %s packets).\n", humanize.Comma(int64(res.Packets)))
		}
	}
	return res, nil
}

func (s *Stream) report(n int) {
	if s.size <= 0 {
		fmt.Fprintf(s.progress, "\r%s ", humanize.Comma(int64(n)))
		return
	}
	fmt.Fprintf(s.progress, "\r%s (%d%%, %s of %s) ", humanize.Comma(int64(n)),
		100*s.reader.Offset()/s.size,
		humanize.Bytes(uint64(s.reader.Offset())), //nolint:gosec // offsets are non-negative
		humanize.Bytes(uint64(s.size)))            //nolint:gosec // size is positive
}
