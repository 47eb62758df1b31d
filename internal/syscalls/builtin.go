package syscalls

// Syscall numbers follow the x86_64 ABI, the only architecture vltrace logs are
// recorded on. They are spelled out instead of taken from golang.org/x/sys/unix
// because the analyzer may run on a host of a different architecture.
var builtin = []struct {
	id    uint64
	name  string
	nargs int
	mask  uint32
}{
	{0, "read", 3, ArgFD(0)},
	{1, "write", 3, ArgFD(0)},
	{2, "open", 3, ArgPath(0) | MaskFDFromPath},
	{3, "close", 1, ArgFD(0)},
	{4, "stat", 2, ArgPath(0)},
	{5, "fstat", 2, ArgFD(0)},
	{6, "lstat", 2, ArgPath(0)},
	{8, "lseek", 3, ArgFD(0)},
	{9, "mmap", 6, ArgFD(4)},
	{17, "pread64", 4, ArgFD(0)},
	{18, "pwrite64", 4, ArgFD(0)},
	{21, "access", 2, ArgPath(0)},
	{32, "dup", 1, ArgFD(0) | MaskFDFromFD},
	{33, "dup2", 2, ArgFD(0) | MaskFDFromFD},
	{56, "clone", 5, 0},
	{57, "fork", 0, 0},
	{58, "vfork", 0, 0},
	{59, "execve", 3, ArgPath(0)},
	{60, "exit", 1, MaskNoReturn},
	{72, "fcntl", 3, ArgFD(0)},
	{76, "truncate", 2, ArgPath(0)},
	{77, "ftruncate", 2, ArgFD(0)},
	{79, "getcwd", 2, 0},
	{80, "chdir", 1, ArgPath(0)},
	{81, "fchdir", 1, ArgFD(0)},
	{82, "rename", 2, ArgPath(0) | ArgPath(1)},
	{83, "mkdir", 2, ArgPath(0)},
	{84, "rmdir", 1, ArgPath(0)},
	{85, "creat", 2, ArgPath(0) | MaskFDFromPath},
	{86, "link", 2, ArgPath(0) | ArgPath(1)},
	{87, "unlink", 1, ArgPath(0)},
	{88, "symlink", 2, ArgPath(0) | ArgPath(1)},
	{89, "readlink", 3, ArgPath(0)},
	{90, "chmod", 2, ArgPath(0)},
	{91, "fchmod", 2, ArgFD(0)},
	{92, "chown", 3, ArgPath(0)},
	{137, "statfs", 2, ArgPath(0)},
	{188, "setxattr", 5, ArgPath(0) | ArgString(1)},
	{217, "getdents64", 3, ArgFD(0)},
	{231, "exit_group", 1, MaskNoReturn},
	{257, "openat", 4, MaskFileAt | MaskReturnsFD},
	{258, "mkdirat", 3, MaskFileAt},
	{260, "fchownat", 5, MaskFileAt | MaskEmptyPath5},
	{262, "newfstatat", 4, MaskFileAt | MaskEmptyPath4},
	{263, "unlinkat", 3, MaskFileAt},
	{264, "renameat", 4, MaskFileAt | MaskFileAt2},
	{265, "linkat", 5, MaskFileAt | MaskFileAt2 | MaskEmptyPath5},
	{266, "symlinkat", 3, ArgPath(0) | ArgFD(1) | ArgPath(2)},
	{267, "readlinkat", 4, MaskFileAt},
	{268, "fchmodat", 3, MaskFileAt},
	{269, "faccessat", 3, MaskFileAt},
	{280, "utimensat", 4, MaskFileAt | MaskEmptyPath4},
	{292, "dup3", 3, ArgFD(0) | MaskFDFromFD},
	{316, "renameat2", 5, MaskFileAt | MaskFileAt2},
}

// DefaultTable returns descriptors for the common filesystem syscalls, in the
// same shape a vltrace log embeds them.
func DefaultTable() *Table {
	descs := make([]*Descriptor, 0, len(builtin))
	for _, b := range builtin {
		descs = append(descs, NewDescriptor(b.id, b.name, b.nargs, b.mask))
	}
	return NewTable(descs...)
}
