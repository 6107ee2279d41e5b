package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/apiprobe/apiprobe/model"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// ConsoleOptions configures the console renderer.
type ConsoleOptions struct {
	Writer io.Writer
	// BaseURL is used to render copy-pasteable reproductions.
	BaseURL string
	// Verbose prints every executed case, not just failures.
	Verbose bool
	// Color forces colored output; by default color follows whether the
	// writer is a terminal.
	Color *bool
	// Width truncates long lines (default: 120).
	Width int
}

// Console renders events for humans.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	baseURL string
	verbose bool
	color   bool
	width   int
}

// NewConsole builds a console reporter writing to opts.Writer (stdout when
// nil).
func NewConsole(opts ConsoleOptions) *Console {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	width := opts.Width
	if width <= 0 {
		width = 120
	}
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if opts.Color != nil {
		color = *opts.Color
	}
	return &Console{
		w:       w,
		baseURL: opts.BaseURL,
		verbose: opts.Verbose,
		color:   color,
		width:   width,
	}
}

func (c *Console) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + ansiReset
}

func (c *Console) clip(s string) string {
	return runewidth.Truncate(s, c.width, "...")
}

func (c *Console) Case(cs *model.Case, o *model.Outcome) {
	if !c.verbose {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("  %s %s -> %s in %s", cs.Operation.Method, cs.RenderPath(), outcomeLabel(o), o.Duration.Round(0))
	fmt.Fprintln(c.w, c.clip(c.paint(ansiDim, line)))
}

func (c *Console) Failure(f *model.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := fmt.Sprintf("FAIL %s [%s]", f.Case.Operation, strings.Join(f.ViolatedChecks(), ", "))
	fmt.Fprintln(c.w, c.paint(ansiRed, head))
	fmt.Fprintf(c.w, "  %s %s -> %s\n", f.Case.Operation.Method, f.Case.RenderPath(), outcomeLabel(f.Outcome))
	if f.Case.Meta.Phase != "" {
		fmt.Fprintf(c.w, "  phase: %s", f.Case.Meta.Phase)
		if f.Case.Meta.Violates != "" {
			fmt.Fprintf(c.w, " (violating %s at %q)", f.Case.Meta.Violates, f.Case.Meta.ViolatedAt)
		}
		fmt.Fprintln(c.w)
	}
	if f.Link != "" {
		fmt.Fprintf(c.w, "  via link: %s\n", f.Link)
	}
	for _, v := range f.Violations {
		fmt.Fprintln(c.w, c.clip("  "+v.String()))
	}
	if f.Sequence != nil && len(f.Sequence.Steps) > 0 {
		fmt.Fprintln(c.w, "  preceded by:")
		for _, step := range f.Sequence.Steps {
			line := fmt.Sprintf("    %s %s -> %s", step.Case.Operation.Method, step.Case.RenderPath(), outcomeLabel(step.Outcome))
			fmt.Fprintln(c.w, c.clip(line))
		}
	}
	if f.Outcome != nil && len(f.Outcome.Body) > 0 {
		fmt.Fprintln(c.w, c.clip("  body: "+string(f.Outcome.Body)))
	}
	fmt.Fprintln(c.w, c.clip("  repro: "+f.Case.CurlCommand(c.baseURL)))
}

func (c *Console) Summary(s *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "probed %d cases across %d operations in %s (seed %d)\n",
		s.Cases, s.Operations, s.Duration.Round(0), s.Seed)
	if s.Sequences > 0 || s.DeadEnds > 0 || s.ExtractionFailures > 0 {
		fmt.Fprintf(c.w, "stateful: %d sequences, %d dead ends, %d extraction failures\n",
			s.Sequences, s.DeadEnds, s.ExtractionFailures)
	}
	if s.SkippedOperations > 0 {
		fmt.Fprintln(c.w, c.paint(ansiYellow, fmt.Sprintf("skipped %d operations", s.SkippedOperations)))
	}
	if s.Failures == 0 {
		fmt.Fprintln(c.w, "no failures")
		return
	}
	fmt.Fprintln(c.w, c.paint(ansiRed, fmt.Sprintf("%d unique failures", s.Failures)))
}

func outcomeLabel(o *model.Outcome) string {
	if o == nil {
		return "?"
	}
	if o.Failed() {
		return string(o.TransportFailure.Kind)
	}
	return fmt.Sprintf("%d", o.Status)
}
