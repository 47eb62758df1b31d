package procstate

import (
	"github.com/sirupsen/logrus"
)

// Process is the resolution state of one process. Threads of a process share it.
type Process struct {
	PID uint32
	FDs *FDTable
	Cwd string
}

// Registry holds the state of every process seen in a log.
// It is used by a single replay loop and is not safe for concurrent use.
type Registry struct {
	procs      map[uint32]*Process
	last       *Process
	initialCwd string
	shareFDs   bool
	log        logrus.FieldLogger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSharedFDTables makes a forked child share its parent's descriptor table
// instead of receiving a copy. A close in one process is then visible in the other.
func WithSharedFDTables() Option {
	return func(r *Registry) { r.shareFDs = true }
}

// WithLogger sets the logger used for missing-parent warnings.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty registry. initialCwd is the working directory
// of the traced command, recorded in the log header.
func NewRegistry(initialCwd string, opts ...Option) *Registry {
	r := &Registry{
		procs:      make(map[uint32]*Process),
		initialCwd: initialCwd,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the process owning pidTid, creating it on first sight.
// A new process starts with the standard streams and the working directory of
// the most recently seen process.
func (r *Registry) Lookup(pidTid uint64) *Process {
	pid := uint32(pidTid >> 32)
	if p, ok := r.procs[pid]; ok {
		r.last = p
		return p
	}

	cwd := r.initialCwd
	if r.last != nil {
		cwd = r.last.Cwd
		r.log.WithFields(logrus.Fields{
			"pid": pid,
			"cwd": cwd,
		}).Warn("missing info about parent process, inheriting working directory of last seen process")
	}

	p := &Process{PID: pid, FDs: NewFDTable(), Cwd: cwd}
	r.procs[pid] = p
	r.last = p
	return p
}

// Fork registers child with the state parent has right now.
// An existing child entry is replaced.
func (r *Registry) Fork(parent *Process, child uint32) *Process {
	fds := parent.FDs
	if !r.shareFDs {
		fds = fds.Clone()
	}
	p := &Process{PID: child, FDs: fds, Cwd: parent.Cwd}
	r.procs[child] = p
	return p
}

// SetCwd replaces the working directory of p.
func (r *Registry) SetCwd(p *Process, cwd string) {
	p.Cwd = cwd
	r.last = p
}

// Get returns the process with the given pid.
func (r *Registry) Get(pid uint32) (*Process, bool) {
	p, ok := r.procs[pid]
	return p, ok
}

// Len returns the number of processes seen.
func (r *Registry) Len() int {
	return len(r.procs)
}
