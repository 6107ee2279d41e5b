package model

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apiprobe/apiprobe/gen"
	"github.com/apiprobe/apiprobe/ir"
)

// Phase names the stage of a run that produced a case.
type Phase string

const (
	PhaseExamples Phase = "examples"
	PhaseCoverage Phase = "coverage"
	PhaseFuzz     Phase = "fuzz"
	PhaseStateful Phase = "stateful"
	PhaseMinimize Phase = "minimize"
)

// CaseMeta records how a case was produced.
type CaseMeta struct {
	Phase      Phase
	Mode       gen.Mode
	Violates   gen.ConstraintID
	ViolatedAt string
	Seed       uint64
}

// Case is one concrete request: an operation plus concrete values for every
// parameter location. Cases are owned by the sequence that produced them and
// only escape it by copy.
type Case struct {
	ID        uuid.UUID
	Operation *Operation

	PathParams map[string]any
	Query      map[string]any
	Headers    map[string]any
	Cookies    map[string]any
	Body       any
	HasBody    bool

	Meta CaseMeta
}

// NewCase allocates an empty case for the operation with a fresh identity.
func NewCase(op *Operation, meta CaseMeta) *Case {
	return &Case{
		ID:         uuid.New(),
		Operation:  op,
		PathParams: map[string]any{},
		Query:      map[string]any{},
		Headers:    map[string]any{},
		Cookies:    map[string]any{},
		Meta:       meta,
	}
}

// Clone copies the case with a new identity. Parameter maps are copied one
// level deep; generated values themselves are never mutated after creation.
func (c *Case) Clone() *Case {
	out := *c
	out.ID = uuid.New()
	out.PathParams = copyMap(c.PathParams)
	out.Query = copyMap(c.Query)
	out.Headers = copyMap(c.Headers)
	out.Cookies = copyMap(c.Cookies)
	return &out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Set places a value into the location it belongs to.
func (c *Case) Set(loc Location, name string, value any) {
	switch loc {
	case LocationPath:
		c.PathParams[name] = value
	case LocationQuery:
		c.Query[name] = value
	case LocationHeader:
		c.Headers[name] = value
	case LocationCookie:
		c.Cookies[name] = value
	case LocationBody:
		c.Body = value
		c.HasBody = true
	}
}

// RenderPath substitutes path parameters into the operation's path template.
func (c *Case) RenderPath() string {
	path := c.Operation.Path
	for name, v := range c.PathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(stringify(v)))
	}
	return path
}

// Fingerprint is a stable digest of the case's operation and concrete values,
// used by the runner's visited sets. The case identity is excluded so replays
// of the same values collide.
func (c *Case) Fingerprint() string {
	return ir.CanonicalJSON(map[string]any{
		"op":      c.Operation.ID,
		"path":    c.PathParams,
		"query":   c.Query,
		"headers": c.Headers,
		"cookies": c.Cookies,
		"body":    c.Body,
		"hasBody": c.HasBody,
	})
}

// CurlCommand renders a copy-pasteable reproduction of the case.
func (c *Case) CurlCommand(baseURL string) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(c.Operation.Method)

	target := strings.TrimSuffix(baseURL, "/") + c.RenderPath()
	if len(c.Query) > 0 {
		q := url.Values{}
		for _, k := range sortedNames(c.Query) {
			q.Set(k, stringify(c.Query[k]))
		}
		target += "?" + q.Encode()
	}
	fmt.Fprintf(&b, " %q", target)

	for _, k := range sortedNames(c.Headers) {
		fmt.Fprintf(&b, " -H %q", k+": "+stringify(c.Headers[k]))
	}
	if len(c.Cookies) > 0 {
		var pairs []string
		for _, k := range sortedNames(c.Cookies) {
			pairs = append(pairs, k+"="+stringify(c.Cookies[k]))
		}
		fmt.Fprintf(&b, " -b %q", strings.Join(pairs, "; "))
	}
	if c.HasBody {
		fmt.Fprintf(&b, " -H %q -d '%s'", "Content-Type: application/json", ir.CanonicalJSON(c.Body))
	}
	return b.String()
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TransportFailureKind classifies a failed exchange.
type TransportFailureKind string

const (
	TransportTimeout    TransportFailureKind = "timeout"
	TransportConnection TransportFailureKind = "connection"
	TransportOther      TransportFailureKind = "other"
)

// TransportFailure is the outcome variant for an exchange that never yielded
// a response.
type TransportFailure struct {
	Kind TransportFailureKind
	Err  error
}

func (f *TransportFailure) Error() string {
	return fmt.Sprintf("transport failure (%s): %v", f.Kind, f.Err)
}

// Outcome is the result of executing one case: a structured response or a
// transport failure. Outcomes are append-only history; never mutated once
// recorded.
type Outcome struct {
	Status      int
	Headers     http.Header
	Body        []byte
	ContentType string

	// JSON holds the decoded body when JSONValid is set.
	JSON      any
	JSONValid bool

	RequestURL string
	Duration   time.Duration

	TransportFailure *TransportFailure
}

// Failed reports whether the exchange never produced a response.
func (o *Outcome) Failed() bool {
	return o.TransportFailure != nil
}

// StatusClass renders the coarse shape of the outcome for fingerprinting:
// "2xx".."5xx", or "transport" when no response was received.
func (o *Outcome) StatusClass() string {
	if o == nil || o.TransportFailure != nil {
		return "transport"
	}
	return fmt.Sprintf("%dxx", o.Status/100)
}

// Step is one executed link in a sequence.
type Step struct {
	Case    *Case
	Outcome *Outcome
	// Link names the link that produced this step, empty for the first
	// step and for exploratory transitions.
	Link string
}

// Sequence is an ordered, stateful chain of executed cases connected by
// links. The sequence owns its cases and outcome history.
type Sequence struct {
	ID    uuid.UUID
	Steps []Step
}

// NewSequence allocates an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{ID: uuid.New()}
}

// Append records an executed step.
func (s *Sequence) Append(c *Case, o *Outcome, link string) {
	s.Steps = append(s.Steps, Step{Case: c, Outcome: o, Link: link})
}

// Last returns the most recent step, or nil for an empty sequence.
func (s *Sequence) Last() *Step {
	if len(s.Steps) == 0 {
		return nil
	}
	return &s.Steps[len(s.Steps)-1]
}

// Clone copies the sequence with a new identity, sharing recorded steps.
func (s *Sequence) Clone() *Sequence {
	out := &Sequence{ID: uuid.New(), Steps: make([]Step, len(s.Steps))}
	copy(out.Steps, s.Steps)
	return out
}

// Fingerprint digests the ordered case fingerprints of the sequence prefix.
func (s *Sequence) Fingerprint() string {
	parts := make([]any, 0, len(s.Steps))
	for _, step := range s.Steps {
		parts = append(parts, step.Case.Fingerprint())
	}
	return ir.CanonicalJSON(parts)
}
