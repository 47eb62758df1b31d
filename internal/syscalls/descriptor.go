package syscalls

import (
	"fmt"
)

// MaxArgs is the number of raw arguments captured per syscall.
const MaxArgs = 6

// Mask bits of the on-disk descriptor table.
//
// Bits 0-17 hold three per-argument groups of MaxArgs bits each.
const (
	maskStringShift = 0
	maskPathShift   = MaxArgs
	maskFDShift     = 2 * MaxArgs

	MaskFDFromPath = 1 << 18 // returns a descriptor for the path in argument 0
	MaskFDFromFD   = 1 << 19 // duplicates the descriptor in argument 0
	MaskFileAt     = 1 << 20 // arguments 0 and 1 form a directory-relative pair
	MaskFileAt2    = 1 << 21 // arguments 2 and 3 form a second pair
	MaskReturnsFD  = 1 << 22 // successful return value is a new descriptor
	MaskEmptyPath4 = 1 << 23 // argument 3 is a flags word that may carry AT_EMPTY_PATH
	MaskEmptyPath5 = 1 << 24 // argument 4 is a flags word that may carry AT_EMPTY_PATH
	MaskNoReturn   = 1 << 25 // the call never returns to the caller
)

// ArgString marks argument n as a string.
func ArgString(n int) uint32 { return 1 << (maskStringShift + n) }

// ArgPath marks argument n as a path.
func ArgPath(n int) uint32 { return 1 << (maskPathShift + n) }

// ArgFD marks argument n as a file descriptor.
func ArgFD(n int) uint32 { return 1 << (maskFDShift + n) }

// Role is the meaning of one syscall argument.
type Role uint8

const (
	RoleRaw Role = iota
	RoleString
	RolePath
	RoleFD
	RoleDirFD
	RoleRelPath
)

func (r Role) String() string {
	switch r {
	case RoleRaw:
		return "raw"
	case RoleString:
		return "string"
	case RolePath:
		return "path"
	case RoleFD:
		return "fd"
	case RoleDirFD:
		return "dirfd"
	case RoleRelPath:
		return "relpath"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// HasString reports whether the probe captures a string for this role.
func (r Role) HasString() bool {
	return r == RoleString || r == RolePath || r == RoleRelPath
}

// Kind selects how the resolver treats a syscall as a whole.
type Kind uint8

const (
	// KindPlain has no path or descriptor arguments.
	KindPlain Kind = iota
	// KindOpen returns a descriptor bound to its path argument (open, creat).
	KindOpen
	// KindAt has at least one directory-relative pair.
	KindAt
	// KindDup aliases a new descriptor to an existing one.
	KindDup
	// KindClose vacates a descriptor.
	KindClose
	// KindGeneric has path, string or descriptor arguments resolved one by one.
	KindGeneric
)

// Descriptor is the static description of one syscall.
type Descriptor struct {
	ID    uint64
	Name  string
	NArgs int
	Args  []Role
	Kind  Kind
	Mask  uint32

	// ReturnsFD is set when a successful return value is a new descriptor.
	ReturnsFD bool
	// NoReturn calls (exit, exit_group) never produce an exit packet.
	NoReturn bool
	// ChangesCwd is set for chdir and fchdir.
	ChangesCwd bool
	// SpawnsProcess is set for fork, vfork and clone.
	SpawnsProcess bool

	emptyPathArg int
	hasEmptyPath bool
}

// NewDescriptor decodes an on-disk mask into a typed descriptor.
func NewDescriptor(id uint64, name string, nargs int, mask uint32) *Descriptor {
	if nargs > MaxArgs {
		nargs = MaxArgs
	}
	if nargs < 0 {
		nargs = 0
	}

	d := &Descriptor{
		ID:            id,
		Name:          name,
		NArgs:         nargs,
		Args:          make([]Role, nargs),
		Mask:          mask,
		ReturnsFD:     mask&(MaskReturnsFD|MaskFDFromPath|MaskFDFromFD) != 0,
		NoReturn:      mask&MaskNoReturn != 0,
		ChangesCwd:    name == "chdir" || name == "fchdir",
		SpawnsProcess: IsSpawn(name),
	}

	for n := 0; n < nargs; n++ {
		switch {
		case mask&ArgPath(n) != 0:
			d.Args[n] = RolePath
		case mask&ArgFD(n) != 0:
			d.Args[n] = RoleFD
		case mask&ArgString(n) != 0:
			d.Args[n] = RoleString
		}
	}

	pairs := 0
	if mask&MaskFileAt != 0 {
		pairs += d.setPair(0)
	}
	if mask&MaskFileAt2 != 0 {
		pairs += d.setPair(2)
	}
	// symlinkat(target, newdirfd, linkpath) carries its pair after a plain path.
	if name == "symlinkat" {
		pairs += d.setPair(1)
	}

	switch {
	case mask&MaskEmptyPath4 != 0 && nargs > 3:
		d.emptyPathArg, d.hasEmptyPath = 3, true
	case mask&MaskEmptyPath5 != 0 && nargs > 4:
		d.emptyPathArg, d.hasEmptyPath = 4, true
	}

	switch {
	case name == "close":
		d.Kind = KindClose
	case mask&MaskFDFromPath != 0:
		d.Kind = KindOpen
	case pairs > 0:
		d.Kind = KindAt
	case mask&MaskFDFromFD != 0:
		d.Kind = KindDup
	case d.hasResolvableArgs():
		d.Kind = KindGeneric
	default:
		d.Kind = KindPlain
	}

	return d
}

// setPair marks arguments n and n+1 as a directory-relative pair.
func (d *Descriptor) setPair(n int) int {
	if n+1 >= d.NArgs {
		return 0
	}
	d.Args[n] = RoleDirFD
	d.Args[n+1] = RoleRelPath
	return 1
}

func (d *Descriptor) hasResolvableArgs() bool {
	for _, r := range d.Args {
		if r != RoleRaw {
			return true
		}
	}
	return false
}

// EmptyPathFlagArg returns the argument holding AT_EMPTY_PATH-style flags.
func (d *Descriptor) EmptyPathFlagArg() (int, bool) {
	return d.emptyPathArg, d.hasEmptyPath
}

// Role returns the role of argument n, RoleRaw when out of range.
func (d *Descriptor) Role(n int) Role {
	if n < 0 || n >= len(d.Args) {
		return RoleRaw
	}
	return d.Args[n]
}

// StringArgs returns the argument positions whose strings are captured, in order.
func (d *Descriptor) StringArgs() []int {
	var out []int
	for n, r := range d.Args {
		if r.HasString() {
			out = append(out, n)
		}
	}
	return out
}

// IsSpawn reports whether a syscall name creates a new process.
func IsSpawn(name string) bool {
	switch name {
	case "fork", "vfork", "clone":
		return true
	}
	return false
}
