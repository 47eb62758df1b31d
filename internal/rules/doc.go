// Package rules evaluates user-supplied expressions against resolved syscall
// records and against the log header.
//
// Expressions use the expr language. A record expression sees:
//
//	name       syscall name
//	pid, tid   process and thread id
//	ret        return value
//	succeeded  ret is not an error
//	tracked    an argument resolved to a tracked mount
//	truncated  a string argument was cut by the capture buffer
//	paths      resolved paths of the arguments, in argument order
//	strings    raw captured strings by argument position
//
// A rule whose expression yields true counts as a match. Every rule result
// is also exported as a span attribute named after the rule; maps expand to
// one attribute per key.
//
// TraceIDEvaluator derives the trace ID of exported spans from the log header
// (cmdline, argv, cwd). Results that are not 32 hex characters are hashed
// with SHA-256.
package rules
