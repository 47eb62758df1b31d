// Package timesync converts log timestamps to wall-clock time.
//
// The tracer stamps packets with a monotonic clock (nanoseconds since boot).
// Wall-clock time is the boot time plus that offset. The boot time is either
// given explicitly, for logs captured on another machine, or read from the
// btime line of /proc/stat.
package timesync
