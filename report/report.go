// Package report renders run progress, failures and the final summary. Two
// renderers are provided: a human console view and a machine-readable JSON
// Lines stream.
package report

import (
	"time"

	"github.com/apiprobe/apiprobe/model"
)

// Summary aggregates a finished run.
type Summary struct {
	Seed               uint64        `json:"seed"`
	Operations         int           `json:"operations"`
	Cases              int64         `json:"cases"`
	Sequences          int64         `json:"sequences"`
	DeadEnds           int64         `json:"dead_ends"`
	ExtractionFailures int64         `json:"extraction_failures"`
	SkippedOperations  int64         `json:"skipped_operations"`
	Failures           int           `json:"failures"`
	Duration           time.Duration `json:"duration_ns"`
}

// Reporter receives run events. Implementations must be safe for concurrent
// calls; the runner reports cases from multiple goroutines.
type Reporter interface {
	Case(c *model.Case, o *model.Outcome)
	Failure(f *model.Failure)
	Summary(s *Summary)
}

// Multi fans events out to several reporters in order.
func Multi(reporters ...Reporter) Reporter {
	return multi(reporters)
}

type multi []Reporter

func (m multi) Case(c *model.Case, o *model.Outcome) {
	for _, r := range m {
		r.Case(c, o)
	}
}

func (m multi) Failure(f *model.Failure) {
	for _, r := range m {
		r.Failure(f)
	}
}

func (m multi) Summary(s *Summary) {
	for _, r := range m {
		r.Summary(s)
	}
}
