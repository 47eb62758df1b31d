package timesync

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// StatPath is the file the boot time is read from.
const StatPath = "/proc/stat"

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a converter for a known boot time.
func NewConverter(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// NewLocalConverter creates a converter from the boot time of this machine,
// read from StatPath on fs.
func NewLocalConverter(fs afero.Fs) (*Converter, error) {
	bootTime, err := ReadBootTime(fs)
	if err != nil {
		return nil, err
	}
	return NewConverter(bootTime), nil
}

// MonotonicToWallClock converts a monotonic timestamp (nanoseconds since boot) to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

// ReadBootTime reads the system boot time from the btime line of StatPath.
func ReadBootTime(fs afero.Fs) (time.Time, error) {
	file, err := fs.Open(StatPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open %s: %w", StatPath, err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "btime" {
			continue
		}
		bootTimeSec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
		}
		return time.Unix(bootTimeSec, 0), nil
	}

	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("error reading %s: %w", StatPath, err)
	}

	return time.Time{}, fmt.Errorf("btime not found in %s", StatPath)
}
