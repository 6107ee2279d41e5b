package model

import (
	"fmt"
	"strings"
)

// Violation is one broken check: the stable check kind plus a human-readable
// detail line.
type Violation struct {
	Check  string
	Detail string
}

func (v Violation) String() string {
	return v.Check + ": " + v.Detail
}

// Failure records a case (or the sequence that led to it) whose outcome broke
// one or more checks. Failures are deduplicated by fingerprint so randomized
// exploration reports each distinct bug once.
type Failure struct {
	Case        *Case
	Sequence    *Sequence
	Outcome     *Outcome
	Violations  []Violation
	Fingerprint string
	// Link names the link that produced the failing case, when stateful.
	Link string
}

// NewFailure copies the case out of its owning sequence and computes the
// dedup fingerprint from the operation, the violated check kinds and the
// coarse outcome shape.
func NewFailure(c *Case, seq *Sequence, o *Outcome, violations []Violation) *Failure {
	checks := make([]string, len(violations))
	for i, v := range violations {
		checks[i] = v.Check
	}
	f := &Failure{
		Case:        c.Clone(),
		Outcome:     o,
		Violations:  violations,
		Fingerprint: fingerprint(c.Operation.ID, checks, o),
	}
	if seq != nil {
		f.Sequence = seq.Clone()
	}
	return f
}

func fingerprint(opID string, checks []string, o *Outcome) string {
	return fmt.Sprintf("%s|%s|%s", opID, strings.Join(checks, ","), o.StatusClass())
}

// ViolatedChecks returns the ordered violated check kinds.
func (f *Failure) ViolatedChecks() []string {
	out := make([]string, len(f.Violations))
	for i, v := range f.Violations {
		out[i] = v.Check
	}
	return out
}

func (f *Failure) String() string {
	return fmt.Sprintf("%s [%s] %s", f.Case.Operation, strings.Join(f.ViolatedChecks(), ","), f.Outcome.StatusClass())
}
