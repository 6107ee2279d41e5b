// Package config holds the run configuration. Validation failures are fatal
// at startup only; a running probe never re-validates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that additionally parses "3s"-style YAML
// strings.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }
func (d Duration) String() string     { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var n int64
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration %q", node.Value)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Modes selects which generation strategies a run uses.
type Modes struct {
	Positive bool `yaml:"positive"`
	Negative bool `yaml:"negative"`
	Coverage bool `yaml:"coverage"`
	Random   bool `yaml:"random"`
}

// Config is the complete run configuration.
type Config struct {
	BaseURL string `yaml:"base_url"`

	// Seed makes every generated value reproducible. Zero means derive
	// one from the clock and report it.
	Seed uint64 `yaml:"seed"`

	// MaxExamples bounds random exploration per operation.
	MaxExamples int `yaml:"max_examples"`
	// MaxSequenceLength bounds stateful sequences.
	MaxSequenceLength int `yaml:"max_sequence_length"`
	// MaxRefDepth bounds reference revisits during schema resolution.
	MaxRefDepth int `yaml:"max_ref_depth"`

	Concurrency             int `yaml:"concurrency"`
	PerOperationConcurrency int `yaml:"per_operation_concurrency"`

	RequestTimeout Duration `yaml:"request_timeout"`
	Retries        uint     `yaml:"retries"`

	Modes Modes `yaml:"modes"`
	// Checks selects builtin checks by kind; empty enables all.
	Checks []string `yaml:"checks"`

	StopOnFirstFailure bool `yaml:"stop_on_first_failure"`
	// MaxFailures caps recorded failures under continue-after-failure.
	MaxFailures int `yaml:"max_failures"`

	// MinimizeBudget bounds minimization per failure; zero disables it.
	MinimizeBudget Duration `yaml:"minimize_budget"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		MaxExamples:             100,
		MaxSequenceLength:       6,
		MaxRefDepth:             3,
		Concurrency:             8,
		PerOperationConcurrency: 2,
		RequestTimeout:          Duration(10 * time.Second),
		Retries:                 2,
		Modes:                   Modes{Positive: true, Coverage: true, Random: true},
		MaxFailures:             100,
		MinimizeBudget:          Duration(30 * time.Second),
		LogLevel:                "info",
	}
}

// LoadFile reads a YAML configuration over the defaults.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a meaningful run.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.MaxRefDepth < 1 {
		return fmt.Errorf("max_ref_depth must be at least 1, got %d", c.MaxRefDepth)
	}
	if c.MaxExamples < 0 {
		return fmt.Errorf("max_examples must not be negative, got %d", c.MaxExamples)
	}
	if c.MaxSequenceLength < 1 {
		return fmt.Errorf("max_sequence_length must be at least 1, got %d", c.MaxSequenceLength)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.PerOperationConcurrency < 1 {
		return fmt.Errorf("per_operation_concurrency must be at least 1, got %d", c.PerOperationConcurrency)
	}
	if c.PerOperationConcurrency > c.Concurrency {
		return fmt.Errorf("per_operation_concurrency %d exceeds concurrency %d",
			c.PerOperationConcurrency, c.Concurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if !c.Modes.Positive && !c.Modes.Negative {
		return fmt.Errorf("at least one of modes.positive and modes.negative must be enabled")
	}
	return nil
}
