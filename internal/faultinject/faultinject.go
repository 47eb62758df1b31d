// Package faultinject rewrites a vltrace log with records dropped, delayed or
// corrupted, to exercise the analyzer against damaged input.
package faultinject

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/mrzor/syscall-analyzer/internal/tracelog"

	"github.com/sirupsen/logrus"
)

// Code is a decoded fault-injection percentage code
// N = FaultType*10000 + Save*100 + Skip.
type Code struct {
	// FaultType is the percentage of records with one corrupted payload byte.
	FaultType int
	// Save is the percentage of records flagged for delaying.
	Save int
	// Skip is the percentage of flagged records dropped instead of delayed.
	Skip int
}

// ParseCode decodes n. Values of a million or more wrap around.
func ParseCode(n int) (Code, error) {
	if n < 0 {
		return Code{}, fmt.Errorf("invalid fault injection code %d", n)
	}
	n %= 1000000
	return Code{
		FaultType: n / 10000,
		Save:      n % 10000 / 100,
		Skip:      n % 100,
	}, nil
}

func (c Code) String() string {
	return fmt.Sprintf("fault=%d%% save=%d%% skip=%d%%", c.FaultType, c.Save, c.Skip)
}

// Stats counts what happened to the records of a log.
type Stats struct {
	Read      int
	Written   int
	Skipped   int
	Delayed   int
	Corrupted int
}

// Injector copies logs applying a Code.
type Injector struct {
	code Code
	rng  *rand.Rand
	log  logrus.FieldLogger
}

// Option configures an Injector.
type Option func(*Injector)

// WithSeed makes the injected faults reproducible.
func WithSeed(seed uint64) Option {
	return func(i *Injector) { i.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// New creates an injector.
func New(code Code, log logrus.FieldLogger, opts ...Option) *Injector {
	i := &Injector{
		code: code,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // not security sensitive
		log:  log,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Injector) roll(percent int) bool {
	return percent > 0 && i.rng.IntN(100) < percent
}

// Run copies the log from r to w. The header is copied unchanged. A flagged
// record is dropped or written after the record that follows it.
func (i *Injector) Run(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats

	tr := tracelog.NewReader(r)
	tw := tracelog.NewWriter(w)

	h, err := tr.ReadHeader()
	if err != nil {
		return stats, fmt.Errorf("reading header: %w", err)
	}
	if err := tw.WriteRaw(h.Raw); err != nil {
		return stats, fmt.Errorf("writing header: %w", err)
	}

	var held []byte
	write := func(raw []byte) error {
		if err := tw.WriteRaw(raw); err != nil {
			return fmt.Errorf("writing record %d: %w", stats.Read, err)
		}
		stats.Written++
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		raw, err := tr.NextRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tracelog.ErrTruncated) {
			i.log.WithField("records", stats.Read).Warn("input log is truncated")
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading record %d: %w", stats.Read+1, err)
		}
		stats.Read++

		if i.roll(i.code.FaultType) && i.corrupt(raw) {
			stats.Corrupted++
		}

		if i.roll(i.code.Save) {
			if i.roll(i.code.Skip) {
				stats.Skipped++
				continue
			}
			if held != nil {
				if err := write(held); err != nil {
					return stats, err
				}
			}
			held = raw
			stats.Delayed++
			continue
		}

		if err := write(raw); err != nil {
			return stats, err
		}
		if held != nil {
			if err := write(held); err != nil {
				return stats, err
			}
			held = nil
		}
	}

	if held != nil {
		if err := write(held); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// corrupt flips the bits of one payload byte.
func (i *Injector) corrupt(raw []byte) bool {
	const payloadOffset = 4 + 4 + 3*8
	if len(raw) <= payloadOffset {
		return false
	}
	n := payloadOffset + i.rng.IntN(len(raw)-payloadOffset)
	raw[n] ^= 0xFF
	return true
}
