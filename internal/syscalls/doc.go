// Package syscalls describes the syscalls recorded in a trace log.
//
// The log embeds a descriptor table where every syscall carries a bit mask of
// argument properties. The mask is decoded once into a Descriptor holding a
// typed role per argument:
//
//	Raw      plain integer
//	String   NUL-terminated string that is not a path
//	Path     path resolved against the working directory
//	FD       file descriptor resolved through the fd table
//	DirFD    base descriptor of a directory-relative pair
//	RelPath  path of a directory-relative pair
//
// A directory-relative pair is always a DirFD immediately followed by its
// RelPath. Resolution code matches on roles and on the descriptor Kind; it never
// tests mask bits.
package syscalls
