// Package config holds the analyzer's command-line and environment configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mrzor/syscall-analyzer/internal/pathtable"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Mode selects what a run does with the log.
type Mode int

const (
	// ModeIncremental resolves records as they complete.
	ModeIncremental Mode = iota
	// ModeOffline collects every record, sorts them and resolves at the end.
	ModeOffline
	// ModeConvert prints assembled records without resolving them.
	ModeConvert
	// ModeInject rewrites the log with injected faults.
	ModeInject
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeOffline:
		return "offline"
	case ModeConvert:
		return "convert"
	case ModeInject:
		return "inject"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Rule is a user-defined expression evaluated against resolved records.
type Rule struct {
	Name       string
	Expression string
}

// Defaults are read from the environment before flags are parsed.
type Defaults struct {
	Pmem       string `env:"ANALYZER_PMEM" envDefault:""`
	MaxPackets int    `env:"ANALYZER_MAX_PACKETS" envDefault:"0"`
	DB         string `env:"ANALYZER_DB" envDefault:""`
	// BootTime is the unix time the traced machine booted, used to place
	// span timestamps. The local boot time is used when unset.
	BootTime int64 `env:"ANALYZER_BOOT_TIME" envDefault:"0"`
}

// ParseDefaults reads Defaults from the environment.
func ParseDefaults() (*Defaults, error) {
	var d Defaults
	if err := env.Parse(&d); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &d, nil
}

// Config holds the parsed configuration of one run.
type Config struct {
	Binlog        string
	Table         string
	Convert       bool
	Pmem          string
	MaxPackets    int
	PrintLog      bool
	Output        string
	Script        bool
	Verbose       int
	Debug         bool
	Offline       bool
	Inject        int
	Seed          uint64
	RuleArgs      []string
	Rules         []Rule
	DB            string
	OTEL          bool
	TraceID       string
	ShareFDTables bool
	BootTime      int64
}

// New returns a Config seeded with environment defaults.
func New(d *Defaults) *Config {
	return &Config{
		Pmem:       d.Pmem,
		MaxPackets: d.MaxPackets,
		DB:         d.DB,
		BootTime:   d.BootTime,
		Inject:     -1,
	}
}

// BindFlags registers the command-line flags on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Binlog, "binlog", "b", c.Binlog, "path to a vltrace log in binary format")
	fs.StringVarP(&c.Table, "table", "t", c.Table, "syscall table file overriding the table embedded in the log")
	fs.BoolVarP(&c.Convert, "convert", "c", c.Convert, "converter mode: only print the assembled records")
	fs.StringVarP(&c.Pmem, "pmem", "p", c.Pmem, "colon-separated paths of the tracked (pmem) filesystems")
	fs.IntVarP(&c.MaxPackets, "max-packets", "m", c.MaxPackets, "maximum number of packets to read from the log")
	fs.BoolVarP(&c.PrintLog, "log", "l", c.PrintLog, "print the resolved records in analysis mode")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "file to save the analysis output (the rewritten log with --inject)")
	fs.BoolVarP(&c.Script, "script", "s", c.Script, "script mode: print only the most important information")
	fs.CountVarP(&c.Verbose, "verbose", "v", "verbose mode (-v: verbose, -vv: very verbose)")
	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "debug mode")
	fs.BoolVarP(&c.Offline, "offline", "f", c.Offline, "offline analysis mode")
	fs.IntVarP(&c.Inject, "inject", "i", c.Inject, "fault injection code: 10000*fault[%] + 100*save[%] + skip[%]")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "random seed for --inject (0 picks one)")
	fs.StringArrayVarP(&c.RuleArgs, "rule", "r", nil, "rule evaluated for every resolved record, as NAME=EXPR (repeatable)")
	fs.StringVar(&c.DB, "db", c.DB, "SQLite database to store the resolved records in")
	fs.BoolVar(&c.OTEL, "otel", c.OTEL, "export resolved records as OpenTelemetry spans")
	fs.StringVar(&c.TraceID, "trace-id", c.TraceID, "expression over the log header giving the trace ID of exported spans")
	fs.BoolVar(&c.ShareFDTables, "share-fd-tables", c.ShareFDTables, "forked processes share their parent's descriptor table")

	_ = fs.MarkHidden("share-fd-tables") //nolint:errcheck // the flag is registered above
}

// Finalize validates the parsed flags and decodes rules.
func (c *Config) Finalize() error {
	if c.MaxPackets < 0 {
		return fmt.Errorf("max packets must not be negative, got %d", c.MaxPackets)
	}
	if c.Inject >= 0 && c.Output == "" {
		return errors.New("--inject requires --output")
	}

	c.Rules = c.Rules[:0]
	for _, arg := range c.RuleArgs {
		rule, err := ParseRule(arg)
		if err != nil {
			return err
		}
		c.Rules = append(c.Rules, rule)
	}
	return nil
}

// ParseRule parses a NAME=EXPR rule definition.
func ParseRule(arg string) (Rule, error) {
	name, expr, ok := strings.Cut(arg, "=")
	if !ok {
		return Rule{}, fmt.Errorf("invalid rule %q: expected NAME=EXPR", arg)
	}
	name = strings.TrimSpace(name)
	expr = strings.TrimSpace(expr)
	if name == "" {
		return Rule{}, fmt.Errorf("invalid rule %q: name cannot be empty", arg)
	}
	if expr == "" {
		return Rule{}, fmt.Errorf("invalid rule %q: expression cannot be empty", arg)
	}
	return Rule{Name: name, Expression: expr}, nil
}

// Mode returns the mode selected by the flags.
func (c *Config) Mode() Mode {
	switch {
	case c.Inject >= 0:
		return ModeInject
	case c.Convert:
		return ModeConvert
	case c.Offline:
		return ModeOffline
	default:
		return ModeIncremental
	}
}

// LogLevel maps --debug and --verbose to a log level.
func (c *Config) LogLevel() logrus.Level {
	switch {
	case c.Debug || c.Verbose >= 2:
		return logrus.DebugLevel
	case c.Verbose == 1:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// Mounts returns the tracked mount points.
func (c *Config) Mounts() []string {
	return pathtable.ParseMounts(c.Pmem)
}
