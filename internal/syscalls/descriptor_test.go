package syscalls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor_Roles(t *testing.T) {
	tests := []struct {
		name     string
		nargs    int
		mask     uint32
		wantArgs []Role
		wantKind Kind
	}{
		{
			name:     "open",
			nargs:    3,
			mask:     ArgPath(0) | MaskFDFromPath,
			wantArgs: []Role{RolePath, RoleRaw, RoleRaw},
			wantKind: KindOpen,
		},
		{
			name:     "openat",
			nargs:    4,
			mask:     MaskFileAt | MaskReturnsFD,
			wantArgs: []Role{RoleDirFD, RoleRelPath, RoleRaw, RoleRaw},
			wantKind: KindAt,
		},
		{
			name:     "renameat",
			nargs:    4,
			mask:     MaskFileAt | MaskFileAt2,
			wantArgs: []Role{RoleDirFD, RoleRelPath, RoleDirFD, RoleRelPath},
			wantKind: KindAt,
		},
		{
			name:     "symlinkat",
			nargs:    3,
			mask:     ArgPath(0) | ArgFD(1) | ArgPath(2),
			wantArgs: []Role{RolePath, RoleDirFD, RoleRelPath},
			wantKind: KindAt,
		},
		{
			name:     "dup",
			nargs:    1,
			mask:     ArgFD(0) | MaskFDFromFD,
			wantArgs: []Role{RoleFD},
			wantKind: KindDup,
		},
		{
			name:     "close",
			nargs:    1,
			mask:     ArgFD(0),
			wantArgs: []Role{RoleFD},
			wantKind: KindClose,
		},
		{
			name:     "setxattr",
			nargs:    5,
			mask:     ArgPath(0) | ArgString(1),
			wantArgs: []Role{RolePath, RoleString, RoleRaw, RoleRaw, RoleRaw},
			wantKind: KindGeneric,
		},
		{
			name:     "getpid",
			nargs:    0,
			mask:     0,
			wantArgs: []Role{},
			wantKind: KindPlain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDescriptor(1, tt.name, tt.nargs, tt.mask)
			assert.Equal(t, tt.wantArgs, d.Args)
			assert.Equal(t, tt.wantKind, d.Kind)
		})
	}
}

func TestNewDescriptor_EmptyPathFlag(t *testing.T) {
	d := NewDescriptor(262, "newfstatat", 4, MaskFileAt|MaskEmptyPath4)
	arg, ok := d.EmptyPathFlagArg()
	require.True(t, ok)
	assert.Equal(t, 3, arg)

	d = NewDescriptor(265, "linkat", 5, MaskFileAt|MaskFileAt2|MaskEmptyPath5)
	arg, ok = d.EmptyPathFlagArg()
	require.True(t, ok)
	assert.Equal(t, 4, arg)

	d = NewDescriptor(257, "openat", 4, MaskFileAt|MaskReturnsFD)
	_, ok = d.EmptyPathFlagArg()
	assert.False(t, ok)
}

func TestNewDescriptor_Flags(t *testing.T) {
	assert.True(t, NewDescriptor(57, "fork", 0, 0).SpawnsProcess)
	assert.True(t, NewDescriptor(56, "clone", 5, 0).SpawnsProcess)
	assert.False(t, NewDescriptor(0, "read", 3, ArgFD(0)).SpawnsProcess)
	assert.True(t, NewDescriptor(80, "chdir", 1, ArgPath(0)).ChangesCwd)
	assert.True(t, NewDescriptor(81, "fchdir", 1, ArgFD(0)).ChangesCwd)
	assert.True(t, NewDescriptor(231, "exit_group", 1, MaskNoReturn).NoReturn)
	assert.True(t, NewDescriptor(257, "openat", 4, MaskFileAt|MaskReturnsFD).ReturnsFD)
}

func TestDescriptor_StringArgs(t *testing.T) {
	d := NewDescriptor(266, "symlinkat", 3, ArgPath(0)|ArgFD(1)|ArgPath(2))
	assert.Equal(t, []int{0, 2}, d.StringArgs())

	d = NewDescriptor(3, "close", 1, ArgFD(0))
	assert.Empty(t, d.StringArgs())
}

func TestNewDescriptor_ClampsArgs(t *testing.T) {
	d := NewDescriptor(1, "wide", 9, 0)
	assert.Equal(t, MaxArgs, d.NArgs)
	assert.Equal(t, RoleRaw, d.Role(8))
}

func TestTable_Lookup(t *testing.T) {
	table := DefaultTable()

	d, ok := table.Get(257)
	require.True(t, ok)
	assert.Equal(t, "openat", d.Name)

	d, ok = table.ByName("dup3")
	require.True(t, ok)
	assert.Equal(t, uint64(292), d.ID)

	_, ok = table.Get(9999)
	assert.False(t, ok)

	placeholder := table.Lookup(9999)
	assert.Equal(t, "sys_9999", placeholder.Name)
	assert.Equal(t, KindPlain, placeholder.Kind)
}

func TestTable_ReplaceKeepsOrder(t *testing.T) {
	table := NewTable(
		NewDescriptor(1, "a", 0, 0),
		NewDescriptor(2, "b", 0, 0),
		NewDescriptor(1, "c", 0, 0),
	)

	assert.Equal(t, 2, table.Len())
	all := table.All()
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
}
