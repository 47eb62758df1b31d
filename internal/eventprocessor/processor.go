package eventprocessor

import (
	"errors"
	"fmt"

	"github.com/mrzor/syscall-analyzer/internal/assembler"
	"github.com/mrzor/syscall-analyzer/internal/config"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/resolver"

	"github.com/sirupsen/logrus"
)

// RecordHandler handles records after analysis.
type RecordHandler interface {
	HandleRecord(rec *record.Record) error
}

// Processor coordinates packet assembly, path resolution and record handling.
type Processor struct {
	mode      config.Mode
	assembler *assembler.Assembler
	resolver  *resolver.Resolver
	handlers  []RecordHandler
	log       logrus.FieldLogger

	records int
}

// NewProcessor creates a new processor. The resolver may be nil in convert mode.
func NewProcessor(
	mode config.Mode,
	asm *assembler.Assembler,
	res *resolver.Resolver,
	log logrus.FieldLogger,
	handlers ...RecordHandler,
) (*Processor, error) {
	if mode != config.ModeConvert && res == nil {
		return nil, fmt.Errorf("%s mode needs a resolver", mode)
	}
	return &Processor{
		mode:      mode,
		assembler: asm,
		resolver:  res,
		handlers:  handlers,
		log:       log,
	}, nil
}

// HandlePacket feeds one packet to the assembler.
func (p *Processor) HandlePacket(pkt *record.Packet) error {
	rec := p.assembler.Push(pkt)
	if rec == nil {
		return nil
	}

	switch p.mode {
	case config.ModeConvert:
		return p.dispatch(rec)
	case config.ModeIncremental:
		return p.analyze(rec)
	default:
		// Offline mode waits for Finish.
		return nil
	}
}

// Finish hands on every record not handled yet. It must be called once,
// after the last packet.
func (p *Processor) Finish() error {
	pending := p.assembler.Pending()
	p.log.WithFields(logrus.Fields{
		"awaiting_exit": pending.AwaitingExit,
		"misordered":    pending.Misordered,
		"completed":     pending.Completed,
	}).Debug("end of log")

	var records []*record.Record
	if p.mode == config.ModeOffline {
		records = p.assembler.Finish()
		p.log.WithField("records", len(records)).Info("analyzing records")
	} else {
		records = p.assembler.Flush()
	}

	for _, rec := range records {
		var err error
		if p.mode == config.ModeConvert {
			err = p.dispatch(rec)
		} else {
			err = p.analyze(rec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Records returns the number of records handed to the handlers.
func (p *Processor) Records() int {
	return p.records
}

// Stats returns the assembler counters.
func (p *Processor) Stats() assembler.Stats {
	return p.assembler.Stats()
}

func (p *Processor) analyze(rec *record.Record) error {
	if err := p.resolver.Resolve(rec); err != nil && !errors.Is(err, resolver.ErrAlreadyResolved) {
		return fmt.Errorf("resolving %s record %d: %w", rec.Name(), rec.Seq, err)
	}
	return p.dispatch(rec)
}

func (p *Processor) dispatch(rec *record.Record) error {
	p.records++
	var errs []error
	for _, h := range p.handlers {
		if err := h.HandleRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
