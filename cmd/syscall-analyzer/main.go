// syscall-analyzer replays a vltrace syscall log, resolves the paths every
// syscall touched and reports the ones on tracked (pmem) filesystems.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrzor/syscall-analyzer/internal/assembler"
	"github.com/mrzor/syscall-analyzer/internal/config"
	"github.com/mrzor/syscall-analyzer/internal/eventprocessor"
	"github.com/mrzor/syscall-analyzer/internal/eventstream"
	"github.com/mrzor/syscall-analyzer/internal/faultinject"
	"github.com/mrzor/syscall-analyzer/internal/otel"
	"github.com/mrzor/syscall-analyzer/internal/output"
	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/procstate"
	"github.com/mrzor/syscall-analyzer/internal/resolver"
	"github.com/mrzor/syscall-analyzer/internal/rules"
	"github.com/mrzor/syscall-analyzer/internal/store"
	"github.com/mrzor/syscall-analyzer/internal/timesync"
	"github.com/mrzor/syscall-analyzer/internal/tracelog"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version information injected by GoReleaser at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, afero.NewOsFs(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		logrus.WithField("component", "main").Fatalf("Error: %v", err)
	}
}

// execute runs the command line args against fs.
func execute(ctx context.Context, fs afero.Fs, args []string, stdout, stderr io.Writer) error {
	d, err := config.ParseDefaults()
	if err != nil {
		return err
	}
	cmd := newRootCommand(fs, d, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(fs afero.Fs, d *config.Defaults, stderr io.Writer) *cobra.Command {
	cfg := config.New(d)
	cmd := &cobra.Command{
		Use:   "syscall-analyzer -b LOG [flags]",
		Short: "Analyze a vltrace syscall log",
		Long: `Analyze a vltrace syscall log.

Packets are assembled into syscall records, every path and file descriptor
argument is resolved to an absolute path, and syscalls touching the tracked
filesystems (--pmem) are reported.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Finalize(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, fs, cmd.OutOrStdout(), stderr)
		},
	}
	cfg.BindFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("binlog") //nolint:errcheck // the flag is registered above
	return cmd
}

// setupLogging creates the logger of the run. Logs go to stderr, or to the
// analysis output file when there is one.
func setupLogging(cfg *config.Config, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(cfg.LogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return logger
}

// setupOutput opens the analysis output file, if any.
func setupOutput(cfg *config.Config, fs afero.Fs, stdout io.Writer) (io.Writer, func() error, error) {
	if cfg.Output == "" || cfg.Mode() == config.ModeInject {
		return stdout, func() error { return nil }, nil
	}
	f, err := fs.Create(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func run(ctx context.Context, cfg *config.Config, fs afero.Fs, stdout, stderr io.Writer) (err error) {
	out, closeOutput, err := setupOutput(cfg, fs, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeOutput(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close output file: %w", closeErr))
		}
	}()

	logWriter := stderr
	if cfg.Output != "" && cfg.Mode() != config.ModeInject {
		logWriter = out
	}
	logger := setupLogging(cfg, logWriter)
	log := logger.WithField("component", "main")
	log.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"mode":    cfg.Mode(),
	}).Debug("starting syscall-analyzer")

	if cfg.Mode() == config.ModeInject {
		return runInject(ctx, cfg, fs, stdout, logger)
	}
	return runAnalysis(ctx, cfg, fs, out, stdout, logger)
}

// runInject writes a damaged copy of the log to the output file.
func runInject(ctx context.Context, cfg *config.Config, fs afero.Fs, stdout io.Writer, logger *logrus.Logger) error {
	log := logger.WithField("component", "main")

	code, err := faultinject.ParseCode(cfg.Inject)
	if err != nil {
		return err
	}

	in, err := fs.Open(cfg.Binlog)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() {
		_ = in.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	outFile, err := fs.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	var opts []faultinject.Option
	if cfg.Seed != 0 {
		opts = append(opts, faultinject.WithSeed(cfg.Seed))
	}
	injector := faultinject.New(code, logger.WithField("component", "parse"), opts...)

	log.WithField("code", code).Info("injecting faults")
	stats, err := injector.Run(ctx, in, outFile)
	if closeErr := outFile.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close output file: %w", closeErr))
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"read":      stats.Read,
		"written":   stats.Written,
		"delayed":   stats.Delayed,
		"corrupted": stats.Corrupted,
	}).Info("fault injection done")
	if !cfg.Script {
		fmt.Fprintf(stdout, "Skipped %d packets.\n", stats.Skipped)
	}
	return nil
}

// openLog opens the log, reads its header and applies the table override.
func openLog(cfg *config.Config, fs afero.Fs) (*tracelog.Reader, *tracelog.Header, int64, func(), error) {
	f, err := fs.Open(cfg.Binlog)
	if err != nil {
		return nil, nil, 0, nil, fmt.Errorf("failed to open log: %w", err)
	}
	cleanup := func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	reader := tracelog.NewReader(f)
	h, err := reader.ReadHeader()
	if err != nil {
		cleanup()
		return nil, nil, 0, nil, fmt.Errorf("%s: %w", cfg.Binlog, err)
	}

	if cfg.Table != "" {
		tf, err := fs.Open(cfg.Table)
		if err != nil {
			cleanup()
			return nil, nil, 0, nil, fmt.Errorf("failed to open syscall table: %w", err)
		}
		table, err := tracelog.ReadTable(tf)
		_ = tf.Close() //nolint:errcheck // Read-only file
		if err != nil {
			cleanup()
			return nil, nil, 0, nil, fmt.Errorf("%s: %w", cfg.Table, err)
		}
		h.Table = table
	}

	return reader, h, size, cleanup, nil
}

// setupConverter picks the boot time spans are placed against.
func setupConverter(cfg *config.Config, fs afero.Fs, log logrus.FieldLogger) *timesync.Converter {
	if cfg.BootTime != 0 {
		return timesync.NewConverter(time.Unix(cfg.BootTime, 0))
	}
	converter, err := timesync.NewLocalConverter(fs)
	if err != nil {
		// Spans keep their relative timing
		log.WithError(err).Warn("boot time unknown, span timestamps are approximate")
		return timesync.NewConverter(time.Now().Add(-time.Hour))
	}
	return converter
}

// setupOTEL initializes the OTEL provider and returns a span formatter and cleanup function.
func setupOTEL(ctx context.Context, cfg *config.Config, fs afero.Fs, h *tracelog.Header, paths *pathtable.Table, evaluator *rules.Evaluator, logger *logrus.Logger) (*output.OTELFormatter, func(), error) {
	log := logger.WithField("component", "main")

	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	traceIDEvaluator, err := rules.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return nil, nil, err
	}
	traceID, warnings, err := traceIDEvaluator.EvaluateAndValidate(h)
	if err != nil {
		return nil, nil, err
	}
	if len(warnings) > 0 {
		log.WithField("trace_id", traceID).Warn("trace-id expression did not yield a trace ID, using its hash")
	}

	tp, err := otel.InitProvider(ctx, otelCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	opts := []output.OTELOption{output.WithTraceID(traceID, warnings)}
	if evaluator != nil {
		opts = append(opts, output.WithRules(evaluator))
	}
	formatter := output.NewOTELFormatter(
		tp.Tracer("syscall-analyzer"),
		paths,
		setupConverter(cfg, fs, log),
		logger.WithField("component", "analysis"),
		opts...,
	)

	cleanup := func() {
		formatter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			log.WithError(err).Error("error shutting down OTEL provider")
		}
	}
	return formatter, cleanup, nil
}

// runAnalysis replays the log and reports the records.
func runAnalysis(ctx context.Context, cfg *config.Config, fs afero.Fs, out, stdout io.Writer, logger *logrus.Logger) (err error) {
	log := logger.WithField("component", "main")
	parseLog := logger.WithField("component", "parse")
	analysisLog := logger.WithField("component", "analysis")
	mode := cfg.Mode()

	reader, h, size, closeLog, err := openLog(cfg, fs)
	if err != nil {
		return err
	}
	defer closeLog()

	log.WithFields(logrus.Fields{
		"version":  h.Version,
		"buf_size": h.BufSize,
		"cwd":      h.Cwd,
		"command":  h.CommandLine(),
		"syscalls": h.Table.Len(),
	}).Info("log header")

	paths := pathtable.New(cfg.Mounts())
	var handlers []eventprocessor.RecordHandler
	var res *resolver.Resolver
	var summary *output.Summary
	var evaluator *rules.Evaluator

	if mode == config.ModeConvert {
		handlers = append(handlers, output.NewTextFormatter(out, nil))
	} else {
		regOpts := []procstate.Option{procstate.WithLogger(analysisLog)}
		if cfg.ShareFDTables {
			regOpts = append(regOpts, procstate.WithSharedFDTables())
		}
		res = resolver.New(paths, procstate.NewRegistry(h.Cwd, regOpts...), analysisLog)

		summary = output.NewSummary()
		handlers = append(handlers, summary)
		if cfg.PrintLog {
			handlers = append(handlers, output.NewTextFormatter(out, paths))
		}
		if len(cfg.Rules) > 0 {
			evaluator, err = rules.NewEvaluator(cfg.Rules, paths, analysisLog)
			if err != nil {
				return err
			}
			handlers = append(handlers, evaluator)
		}
		if cfg.DB != "" {
			db, openErr := store.Open(ctx, cfg.DB, paths)
			if openErr != nil {
				return openErr
			}
			handlers = append(handlers, db)
			defer func() {
				if err != nil {
					if abortErr := db.Abort(); abortErr != nil {
						log.WithError(abortErr).Error("error rolling back database")
					}
					return
				}
				if closeErr := db.Close(); closeErr != nil {
					err = closeErr
					return
				}
				log.WithFields(logrus.Fields{
					"path":    cfg.DB,
					"records": db.Written(),
				}).Info("records stored")
			}()
		}
		if cfg.OTEL {
			formatter, cleanupOTEL, err := setupOTEL(ctx, cfg, fs, h, paths, evaluator, logger)
			if err != nil {
				return err
			}
			handlers = append(handlers, formatter)
			defer cleanupOTEL()
		}
	}

	processor, err := eventprocessor.NewProcessor(mode, assembler.New(h.Table, h.BufSize, parseLog), res, analysisLog, handlers...)
	if err != nil {
		return err
	}

	streamOpts := []eventstream.Option{eventstream.WithMaxPackets(cfg.MaxPackets)}
	// Progress would interleave with records printed as they are assembled.
	if !cfg.Debug && !cfg.Script && !(mode == config.ModeConvert && out == stdout) {
		streamOpts = append(streamOpts, eventstream.WithProgress(stdout, size))
	}
	result, err := eventstream.New(reader, processor, parseLog, streamOpts...).Run(ctx)
	if err != nil {
		return err
	}
	if err := processor.Finish(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"packets":   result.Packets,
		"records":   processor.Records(),
		"truncated": result.Truncated,
		"paths":     paths.Len(),
	}).Info("analysis done")

	if summary == nil {
		return nil
	}
	report := output.Report{Stats: processor.Stats(), Script: cfg.Script}
	if evaluator != nil {
		report.Matches = evaluator.Matches()
	}
	return summary.Write(out, report)
}
