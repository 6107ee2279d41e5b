package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe"
	"github.com/apiprobe/apiprobe/config"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/report"
)

var runFlags struct {
	configPath  string
	baseURL     string
	seed        uint64
	maxExamples int
	maxSeqLen   int
	concurrency int
	timeout     time.Duration
	checks      []string
	negative    bool
	noStateful  bool
	stopOnFirst bool
	output      string
	verbose     bool
	logLevel    string
}

var runCmd = &cobra.Command{
	Use:   "run <schema.yaml>",
	Short: "Run the probing phases against a live server",
	Long: `Run loads the OpenAPI description, generates test cases for every
operation and executes them against the server at --base-url. When the
description declares links, sequences of dependent calls are explored too.
Recorded failures are minimized to the simplest reproduction before
reporting.

Pass "-" to read the description from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", "", "YAML configuration file")
	runCmd.Flags().StringVar(&runFlags.baseURL, "base-url", "", "base URL of the server under test")
	runCmd.Flags().Uint64Var(&runFlags.seed, "seed", 0, "seed for value generation (0 derives one)")
	runCmd.Flags().IntVar(&runFlags.maxExamples, "max-examples", 0, "random cases per operation")
	runCmd.Flags().IntVar(&runFlags.maxSeqLen, "max-sequence-length", 0, "cap on stateful sequence length")
	runCmd.Flags().IntVar(&runFlags.concurrency, "concurrency", 0, "cases in flight across all operations")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "per-request timeout")
	runCmd.Flags().StringSliceVar(&runFlags.checks, "checks", nil, "checks to run (default: all)")
	runCmd.Flags().BoolVar(&runFlags.negative, "negative", false, "also send schema-violating requests")
	runCmd.Flags().BoolVar(&runFlags.noStateful, "no-stateful", false, "skip link-based sequence exploration")
	runCmd.Flags().BoolVar(&runFlags.stopOnFirst, "stop-on-first-failure", false, "stop at the first recorded failure")
	runCmd.Flags().StringVarP(&runFlags.output, "output", "o", "console", "output format (console, jsonl)")
	runCmd.Flags().BoolVarP(&runFlags.verbose, "verbose", "v", false, "print every executed case")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "log level (error, warn, info, debug)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	schema, err := openSchema(args[0])
	if err != nil {
		return err
	}
	defer schema.Close()

	reporter, err := buildReporter(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	engine, err := apiprobe.New(ctx, schema, apiprobe.Options{
		Config:   cfg,
		Logger:   logger,
		Reporter: reporter,
	})
	if err != nil {
		return err
	}

	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if len(res.Failures) > 0 {
		return errFailuresFound
	}
	return nil
}

// buildConfig layers flag overrides over the config file over the defaults.
// Only flags the user actually set override the file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if runFlags.configPath != "" {
		loaded, err := config.LoadFile(runFlags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = runFlags.baseURL
	}
	if flags.Changed("seed") {
		cfg.Seed = runFlags.seed
	}
	if flags.Changed("max-examples") {
		cfg.MaxExamples = runFlags.maxExamples
	}
	if flags.Changed("max-sequence-length") {
		cfg.MaxSequenceLength = runFlags.maxSeqLen
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = runFlags.concurrency
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = config.Duration(runFlags.timeout)
	}
	if flags.Changed("checks") {
		cfg.Checks = runFlags.checks
	}
	if flags.Changed("negative") {
		cfg.Modes.Negative = runFlags.negative
	}
	if flags.Changed("no-stateful") && runFlags.noStateful {
		cfg.MaxSequenceLength = 1
	}
	if flags.Changed("stop-on-first-failure") {
		cfg.StopOnFirstFailure = runFlags.stopOnFirst
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = runFlags.logLevel
	}
	return cfg, cfg.Validate()
}

func openSchema(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open schema %s: %w", path, err)
	}
	return f, nil
}

func buildReporter(cfg *config.Config) (report.Reporter, error) {
	switch runFlags.output {
	case "console":
		return report.NewConsole(report.ConsoleOptions{
			BaseURL: cfg.BaseURL,
			Verbose: runFlags.verbose,
		}), nil
	case "jsonl":
		return report.NewJSONLines(os.Stdout, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want console or jsonl)", runFlags.output)
	}
}
