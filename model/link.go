package model

import "fmt"

// LinkParam overrides one parameter of the link's target operation with a
// value extracted from the source operation's outcome.
type LinkParam struct {
	Location Location
	Name     string
	Expr     Expression
}

// Link is a declared data-flow edge: when the source operation responds
// within the status range, the target operation may be called next with the
// listed parameter overrides.
type Link struct {
	Name       string
	Source     *Operation
	Status     StatusRange
	Target     *Operation
	Parameters []LinkParam
	Body       *Expression
}

func (l *Link) String() string {
	return fmt.Sprintf("%s: %s -> %s", l.Name, l.Source, l.Target)
}

// LinkError reports a structurally invalid link found at graph build time.
type LinkError struct {
	Link   string
	Reason string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("invalid link %q: %s", e.Link, e.Reason)
}

// LinkGraph indexes operations and the links between them. Construction
// verifies every link end: dangling targets and overrides naming parameters
// the target does not declare are rejected here, not at traversal time.
type LinkGraph struct {
	ops     map[string]*Operation
	ordered []*Operation
	links   map[string][]*Link
}

// NewLinkGraph builds the graph, validating every link.
func NewLinkGraph(ops []*Operation, links []*Link) (*LinkGraph, error) {
	g := &LinkGraph{
		ops:   make(map[string]*Operation, len(ops)),
		links: make(map[string][]*Link),
	}
	for _, op := range ops {
		if _, dup := g.ops[op.ID]; dup {
			return nil, fmt.Errorf("duplicate operation id %q", op.ID)
		}
		g.ops[op.ID] = op
		g.ordered = append(g.ordered, op)
	}
	for _, l := range links {
		if err := g.validate(l); err != nil {
			return nil, err
		}
		g.links[l.Source.ID] = append(g.links[l.Source.ID], l)
	}
	return g, nil
}

func (g *LinkGraph) validate(l *Link) error {
	if l.Source == nil || l.Target == nil {
		return &LinkError{Link: l.Name, Reason: "missing source or target operation"}
	}
	if _, ok := g.ops[l.Source.ID]; !ok {
		return &LinkError{Link: l.Name, Reason: fmt.Sprintf("unknown source operation %q", l.Source.ID)}
	}
	if _, ok := g.ops[l.Target.ID]; !ok {
		return &LinkError{Link: l.Name, Reason: fmt.Sprintf("unknown target operation %q", l.Target.ID)}
	}
	for _, p := range l.Parameters {
		if l.Target.Parameter(p.Location, p.Name) == nil {
			return &LinkError{
				Link:   l.Name,
				Reason: fmt.Sprintf("target %s has no %s parameter %q", l.Target, p.Location, p.Name),
			}
		}
	}
	if l.Body != nil && l.Target.Body == nil {
		return &LinkError{Link: l.Name, Reason: fmt.Sprintf("target %s takes no request body", l.Target)}
	}
	return nil
}

// Operations returns all operations in load order.
func (g *LinkGraph) Operations() []*Operation {
	return g.ordered
}

// Operation looks up an operation by id.
func (g *LinkGraph) Operation(id string) *Operation {
	return g.ops[id]
}

// LinksFrom returns the links whose source is op and whose status range
// matches the observed status code.
func (g *LinkGraph) LinksFrom(op *Operation, status int) []*Link {
	var out []*Link
	for _, l := range g.links[op.ID] {
		if l.Status.Matches(status) {
			out = append(out, l)
		}
	}
	return out
}

// OutgoingLinks returns every link whose source is op, regardless of status.
func (g *LinkGraph) OutgoingLinks(op *Operation) []*Link {
	return g.links[op.ID]
}

// HasLinks reports whether any operation declares an outgoing link.
func (g *LinkGraph) HasLinks() bool {
	return len(g.links) > 0
}
