// Package procstate tracks the per-process state needed to resolve syscall
// arguments: the file descriptor table and the current working directory.
//
// Registry lifecycle of a process:
//
//	            Lookup (first sight)          Fork (parent returns child pid)
//	                  │                                  │
//	                  ▼                                  ▼
//	   ┌──────────────────────────────┐   ┌──────────────────────────────┐
//	   │ fds 0/1/2 bound to std streams│   │ fds copied from parent        │
//	   │ cwd of last seen process      │   │ cwd of parent                 │
//	   └──────────────┬───────────────┘   └──────────────┬───────────────┘
//	                  └───────────────┬──────────────────┘
//	                                  ▼
//	                      Bind / Close / SetCwd
//	                  (open, dup, close, chdir...)
//
// Processes are never removed. A pid reused by the kernel keeps the state of
// its previous owner until a fork registers it again.
package procstate
