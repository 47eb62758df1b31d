// Package resolver turns the raw path and descriptor arguments of completed
// syscall records into interned absolute paths.
//
// Records must be resolved in the order their effects happened: a record
// sees the descriptor bindings and working directory left by every earlier
// record of the same process.
package resolver

import (
	"errors"
	"path"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/procstate"
	"github.com/mrzor/syscall-analyzer/internal/record"
	"github.com/mrzor/syscall-analyzer/internal/syscalls"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrAlreadyResolved is returned when a record is resolved twice.
var ErrAlreadyResolved = errors.New("record already resolved")

// Resolver holds the resolution context of one log.
type Resolver struct {
	paths *pathtable.Table
	procs *procstate.Registry
	log   logrus.FieldLogger
}

// New creates a resolver over the given path table and process registry.
func New(paths *pathtable.Table, procs *procstate.Registry, log logrus.FieldLogger) *Resolver {
	return &Resolver{paths: paths, procs: procs, log: log}
}

// Paths returns the path table records are resolved into.
func (r *Resolver) Paths() *pathtable.Table { return r.paths }

// Processes returns the process registry.
func (r *Resolver) Processes() *procstate.Registry { return r.procs }

// resolution is the per-record scratch state.
type resolution struct {
	rec  *record.Record
	proc *procstate.Process
	log  logrus.FieldLogger
}

// Resolve fills the argument slots and the tracked flag of rec and applies its
// side effects to the process registry.
func (r *Resolver) Resolve(rec *record.Record) error {
	if rec.Resolved {
		return ErrAlreadyResolved
	}

	// The child half of a fork only carries a zero return value. The child
	// is registered by the parent's half.
	if !rec.HasEntry() && rec.Desc.SpawnsProcess && rec.Ret == 0 {
		return nil
	}

	res := &resolution{
		rec:  rec,
		proc: r.procs.Lookup(rec.PidTid),
		log: r.log.WithFields(logrus.Fields{
			"pid":     rec.PID(),
			"tid":     rec.TID(),
			"syscall": rec.Name(),
		}),
	}

	if !rec.HasEntry() {
		if !rec.Desc.SpawnsProcess {
			res.log.Warn("missing info about arguments, skipping resolution")
		}
		r.spawn(res)
		return nil
	}

	rec.Slots = make([]record.Slot, rec.Desc.NArgs)
	for n := range rec.Slots {
		rec.Slots[n] = record.Slot{Kind: record.SlotRaw, Raw: rec.Args[n]}
	}

	switch rec.Desc.Kind {
	case syscalls.KindOpen:
		r.resolveOpen(res)
	case syscalls.KindAt:
		r.resolveAt(res)
	case syscalls.KindDup:
		r.resolveDup(res)
	case syscalls.KindClose:
		r.resolveClose(res)
	case syscalls.KindGeneric:
		r.resolveGeneric(res)
	case syscalls.KindPlain:
	}

	r.chdir(res)
	r.spawn(res)

	rec.Resolved = true
	return nil
}

// setPath stores a resolved path in slot n and folds its tracked flag into the record.
func (r *Resolver) setPath(res *resolution, n int, idx pathtable.Index) {
	res.rec.Slots[n] = record.PathSlot(idx)
	if r.paths.IsTracked(idx) {
		res.rec.Tracked = true
	}
}

// absolute joins p onto base unless p is already absolute.
func absolute(base, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(base, p)
}

// resolvePath resolves the path string of argument n against the working
// directory. An unreadable empty string cannot be resolved.
func (r *Resolver) resolvePath(res *resolution, n int) (pathtable.Index, bool) {
	s, _ := res.rec.ArgString(n)
	if s == "" && res.rec.ReadError {
		res.rec.Slots[n] = record.UnknownSlot(res.rec.Args[n])
		return 0, false
	}
	idx := r.paths.Intern(absolute(res.proc.Cwd, s))
	r.setPath(res, n, idx)
	return idx, true
}

// bindReturn binds the returned descriptor of a successful call to idx.
func (r *Resolver) bindReturn(res *resolution, idx pathtable.Index) {
	if !res.rec.Desc.ReturnsFD || !res.rec.Succeeded() {
		return
	}
	fd := int32(res.rec.Ret) //nolint:gosec // descriptors fit in 32 bits
	res.proc.FDs.Bind(fd, idx)
	res.log.WithFields(logrus.Fields{
		"fd":   fd,
		"path": r.paths.Path(idx),
	}).Debug("descriptor opened")
}

func (r *Resolver) resolveOpen(res *resolution) {
	idx, ok := r.resolvePath(res, 0)
	if ok {
		r.bindReturn(res, idx)
	}
}

func (r *Resolver) resolveAt(res *resolution) {
	var (
		first    pathtable.Index
		hasFirst bool
	)
	desc := res.rec.Desc
	for n := 0; n < desc.NArgs; n++ {
		switch desc.Role(n) {
		case syscalls.RolePath:
			r.resolvePath(res, n)
		case syscalls.RoleDirFD:
			idx, ok := r.resolvePair(res, n)
			if ok && !hasFirst {
				first, hasFirst = idx, true
			}
			n++
		case syscalls.RoleFD:
			r.resolveFD(res, n)
		case syscalls.RoleString:
			r.internString(res, n)
		case syscalls.RoleRaw, syscalls.RoleRelPath:
		}
	}
	if hasFirst {
		r.bindReturn(res, first)
	}
}

// resolvePair resolves the directory-relative pair starting at argument n.
func (r *Resolver) resolvePair(res *resolution, n int) (pathtable.Index, bool) {
	rec := res.rec
	dirfd := rec.FD(n)
	s, _ := rec.ArgString(n + 1)

	var (
		base  string
		known bool
	)
	if dirfd == unix.AT_FDCWD {
		base, known = res.proc.Cwd, true
	} else if idx, ok := res.proc.FDs.Lookup(dirfd); ok {
		base, known = r.paths.Path(idx), true
		rec.Slots[n] = record.PathSlot(idx)
	} else {
		rec.Slots[n] = record.UnknownSlot(rec.Args[n])
		if rec.Succeeded() && !path.IsAbs(s) {
			res.log.WithField("dirfd", dirfd).Warn("directory descriptor not found")
		}
	}

	var p string
	switch {
	case n == 0 && r.emptyPath(rec):
		p = base
	case path.IsAbs(s):
		p, known = path.Clean(s), true
	case s == "" && rec.ReadError:
		known = false
	default:
		p = path.Join(base, s)
	}
	if !known {
		rec.Slots[n+1] = record.UnknownSlot(rec.Args[n+1])
		return 0, false
	}

	idx := r.paths.Intern(p)
	r.setPath(res, n+1, idx)
	return idx, true
}

// emptyPath reports whether the flags argument asks for the descriptor itself.
// The flag only applies to the first pair (linkat's oldpath).
func (r *Resolver) emptyPath(rec *record.Record) bool {
	n, ok := rec.Desc.EmptyPathFlagArg()
	return ok && rec.Args[n]&unix.AT_EMPTY_PATH != 0
}

func (r *Resolver) resolveFD(res *resolution, n int) {
	fd := res.rec.FD(n)
	if idx, ok := res.proc.FDs.Lookup(fd); ok {
		r.setPath(res, n, idx)
		return
	}
	res.rec.Slots[n] = record.UnknownSlot(res.rec.Args[n])
}

func (r *Resolver) internString(res *resolution, n int) {
	s, ok := res.rec.ArgString(n)
	if !ok {
		return
	}
	res.rec.Slots[n] = record.PathSlot(r.paths.InternAs(s, false))
}

func (r *Resolver) resolveDup(res *resolution) {
	rec := res.rec
	src := rec.FD(0)
	idx, ok := res.proc.FDs.Lookup(src)
	if !ok {
		rec.Slots[0] = record.UnknownSlot(rec.Args[0])
		if rec.Succeeded() {
			// The destination now refers to an unknown file.
			dst := int32(rec.Ret) //nolint:gosec // descriptors fit in 32 bits
			res.proc.FDs.Close(dst)
			res.log.WithFields(logrus.Fields{
				"fd":  src,
				"dst": dst,
			}).Warn("duplicated descriptor not found")
		}
		return
	}
	r.setPath(res, 0, idx)
	if rec.Succeeded() {
		fd := int32(rec.Ret) //nolint:gosec // descriptors fit in 32 bits
		res.proc.FDs.Bind(fd, idx)
	}
}

func (r *Resolver) resolveClose(res *resolution) {
	rec := res.rec
	fd := rec.FD(0)
	idx, ok := res.proc.FDs.Close(fd)
	if !ok {
		rec.Slots[0] = record.UnknownSlot(rec.Args[0])
		res.log.WithFields(logrus.Fields{
			"fd":   fd,
			"open": res.proc.FDs.Open(),
		}).Debug("close of unknown descriptor")
		return
	}
	r.setPath(res, 0, idx)
	res.log.WithFields(logrus.Fields{
		"fd":   fd,
		"path": r.paths.Path(idx),
	}).Debug("descriptor closed")
}

func (r *Resolver) resolveGeneric(res *resolution) {
	desc := res.rec.Desc
	for n := 0; n < desc.NArgs; n++ {
		switch desc.Role(n) {
		case syscalls.RolePath:
			if s, ok := res.rec.ArgString(n); ok && s != "" && !path.IsAbs(s) {
				r.paths.InternAs(s, false)
			}
			r.resolvePath(res, n)
		case syscalls.RoleFD:
			r.resolveFD(res, n)
		case syscalls.RoleString:
			r.internString(res, n)
		case syscalls.RoleRaw, syscalls.RoleDirFD, syscalls.RoleRelPath:
		}
	}
}

// chdir applies a successful working directory change.
func (r *Resolver) chdir(res *resolution) {
	rec := res.rec
	if !rec.Desc.ChangesCwd || !rec.Succeeded() || len(rec.Slots) == 0 {
		return
	}
	slot := rec.Slots[0]
	if slot.Kind != record.SlotPath {
		res.log.Warn("working directory changed to an unknown path")
		return
	}
	cwd := r.paths.Path(slot.Path)
	r.procs.SetCwd(res.proc, cwd)
	res.log.WithField("cwd", cwd).Debug("working directory changed")
}

// spawn registers the child of a successful fork in the parent's process.
func (r *Resolver) spawn(res *resolution) {
	rec := res.rec
	if !rec.Desc.SpawnsProcess || !rec.HasExit() || rec.Ret <= 0 {
		return
	}
	child := uint32(rec.Ret) //nolint:gosec // pids fit in 32 bits
	r.procs.Fork(res.proc, child)
	res.log.WithField("child", child).Debug("process registered")
}
