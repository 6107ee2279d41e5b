package report

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/apiprobe/apiprobe/model"
)

// JSONLines streams one JSON object per event, suitable for piping into other
// tools.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
	// BaseURL, when set, adds a curl reproduction to failure records.
	baseURL string
}

// NewJSONLines builds a JSON Lines reporter writing to w.
func NewJSONLines(w io.Writer, baseURL string) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w), baseURL: baseURL}
}

type caseRecord struct {
	Type      string `json:"type"`
	Operation string `json:"operation"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Phase     string `json:"phase,omitempty"`
	Status    int    `json:"status,omitempty"`
	Transport string `json:"transport_failure,omitempty"`
	Duration  int64  `json:"duration_ms"`
}

type violationRecord struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

type stepRecord struct {
	Operation string `json:"operation"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	Link      string `json:"link,omitempty"`
}

type failureRecord struct {
	Type        string            `json:"type"`
	Operation   string            `json:"operation"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status,omitempty"`
	Transport   string            `json:"transport_failure,omitempty"`
	Phase       string            `json:"phase,omitempty"`
	Link        string            `json:"link,omitempty"`
	Violations  []violationRecord `json:"violations"`
	Steps       []stepRecord      `json:"steps,omitempty"`
	Body        string            `json:"body,omitempty"`
	Repro       string            `json:"repro,omitempty"`
}

type summaryRecord struct {
	Type string `json:"type"`
	*Summary
}

func (j *JSONLines) Case(c *model.Case, o *model.Outcome) {
	rec := caseRecord{
		Type:      "case",
		Operation: c.Operation.ID,
		Method:    c.Operation.Method,
		Path:      c.RenderPath(),
		Phase:     string(c.Meta.Phase),
		Duration:  o.Duration.Milliseconds(),
	}
	if o.Failed() {
		rec.Transport = string(o.TransportFailure.Kind)
	} else {
		rec.Status = o.Status
	}
	j.emit(rec)
}

func (j *JSONLines) Failure(f *model.Failure) {
	rec := failureRecord{
		Type:        "failure",
		Operation:   f.Case.Operation.ID,
		Method:      f.Case.Operation.Method,
		Path:        f.Case.RenderPath(),
		Fingerprint: f.Fingerprint,
		Phase:       string(f.Case.Meta.Phase),
		Link:        f.Link,
	}
	if f.Outcome != nil {
		if f.Outcome.Failed() {
			rec.Transport = string(f.Outcome.TransportFailure.Kind)
		} else {
			rec.Status = f.Outcome.Status
		}
		rec.Body = string(f.Outcome.Body)
	}
	for _, v := range f.Violations {
		rec.Violations = append(rec.Violations, violationRecord{Check: v.Check, Detail: v.Detail})
	}
	if f.Sequence != nil {
		for _, s := range f.Sequence.Steps {
			step := stepRecord{
				Operation: s.Case.Operation.ID,
				Method:    s.Case.Operation.Method,
				Path:      s.Case.RenderPath(),
				Link:      s.Link,
			}
			if s.Outcome != nil {
				step.Status = s.Outcome.Status
			}
			rec.Steps = append(rec.Steps, step)
		}
	}
	if j.baseURL != "" {
		rec.Repro = f.Case.CurlCommand(j.baseURL)
	}
	j.emit(rec)
}

func (j *JSONLines) Summary(s *Summary) {
	j.emit(summaryRecord{Type: "summary", Summary: s})
}

func (j *JSONLines) emit(rec any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	// Encoding these records cannot fail; write errors surface on the
	// underlying writer instead.
	_ = j.enc.Encode(rec)
}
