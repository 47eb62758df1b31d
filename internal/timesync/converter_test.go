package timesync

import (
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestConverter_MonotonicToWallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0) // 2001-09-09 01:46:40 UTC
	converter := NewConverter(bootTime)

	tests := []struct {
		name           string
		monotonicNanos uint64
		want           time.Time
	}{
		{
			name:           "zero nanoseconds",
			monotonicNanos: 0,
			want:           bootTime,
		},
		{
			name:           "one second",
			monotonicNanos: 1_000_000_000,
			want:           bootTime.Add(1 * time.Second),
		},
		{
			name:           "mixed time",
			monotonicNanos: 123_456_789_000,
			want:           bootTime.Add(123*time.Second + 456*time.Millisecond + 789*time.Microsecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.MonotonicToWallClock(tt.monotonicNanos)
			if !got.Equal(tt.want) {
				t.Errorf("MonotonicToWallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadBootTime(t *testing.T) {
	tests := []struct {
		name    string
		stat    string
		want    time.Time
		wantErr bool
	}{
		{
			name: "btime present",
			stat: "cpu  1 2 3 4\nintr 5\nctxt 6\nbtime 1700000000\nprocesses 7\n",
			want: time.Unix(1700000000, 0),
		},
		{
			name:    "btime missing",
			stat:    "cpu  1 2 3 4\nctxt 6\n",
			wantErr: true,
		},
		{
			name:    "btime malformed",
			stat:    "btime soon\n",
			wantErr: true,
		},
		{
			name:    "prefix is not btime",
			stat:    "btimes 12\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, StatPath, []byte(tt.stat), 0o444); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			got, err := ReadBootTime(fs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadBootTime() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ReadBootTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLocalConverter(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := NewLocalConverter(fs); err == nil {
		t.Error("Expected error without a stat file, got nil")
	}

	if err := afero.WriteFile(fs, StatPath, []byte("btime 42\n"), 0o444); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	converter, err := NewLocalConverter(fs)
	if err != nil {
		t.Fatalf("NewLocalConverter() error = %v", err)
	}
	if !converter.BootTime().Equal(time.Unix(42, 0)) {
		t.Errorf("BootTime() = %v, want %v", converter.BootTime(), time.Unix(42, 0))
	}
}
