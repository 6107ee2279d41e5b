package model

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/apiprobe/apiprobe/ir"
)

func opFixture(id, method, path string, params ...Parameter) *Operation {
	return &Operation{ID: id, Method: method, Path: path, Parameters: params}
}

func TestParseStatusRange(t *testing.T) {
	cases := []struct {
		in      string
		want    StatusRange
		wantErr bool
	}{
		{in: "200", want: StatusRange{Exact: 200}},
		{in: "404", want: StatusRange{Exact: 404}},
		{in: "2XX", want: StatusRange{Class: 2}},
		{in: "5xx", want: StatusRange{Class: 5}},
		{in: "default", want: StatusRange{Default: true}},
		{in: "9XX", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "99", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseStatusRange(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseStatusRange(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatusRange(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStatusRange(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestResponseForPrecedence(t *testing.T) {
	op := &Operation{
		ID: "get", Method: "GET", Path: "/x",
		Responses: []ResponseSpec{
			{Status: StatusRange{Default: true}},
			{Status: StatusRange{Class: 2}},
			{Status: StatusRange{Exact: 201}},
		},
	}
	if r := op.ResponseFor(201); r == nil || r.Status.Exact != 201 {
		t.Errorf("exact code must win over wildcard, got %+v", r)
	}
	if r := op.ResponseFor(204); r == nil || r.Status.Class != 2 {
		t.Errorf("wildcard must win over default, got %+v", r)
	}
	if r := op.ResponseFor(500); r == nil || !r.Status.Default {
		t.Errorf("default must catch undeclared codes, got %+v", r)
	}

	bare := &Operation{Responses: []ResponseSpec{{Status: StatusRange{Exact: 200}}}}
	if bare.DeclaresStatus(404) {
		t.Errorf("404 is not declared")
	}
}

func TestLinkGraphRejectsDanglingTarget(t *testing.T) {
	create := opFixture("createItem", "POST", "/items")
	get := opFixture("getItem", "GET", "/items/{id}",
		Parameter{Name: "id", Location: LocationPath, Node: &ir.Node{Kind: ir.KindInteger}, Required: true})

	good := &Link{
		Name: "item", Source: create, Target: get, Status: StatusRange{Exact: 201},
		Parameters: []LinkParam{{Location: LocationPath, Name: "id", Expr: "$response.body#/id"}},
	}
	if _, err := NewLinkGraph([]*Operation{create, get}, []*Link{good}); err != nil {
		t.Fatalf("valid link rejected: %v", err)
	}

	dangling := &Link{
		Name: "bad", Source: create, Target: get, Status: StatusRange{Exact: 201},
		Parameters: []LinkParam{{Location: LocationPath, Name: "missing", Expr: "$response.body#/id"}},
	}
	_, err := NewLinkGraph([]*Operation{create, get}, []*Link{dangling})
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected LinkError for dangling target, got %v", err)
	}
	if linkErr.Link != "bad" {
		t.Errorf("error names wrong link: %+v", linkErr)
	}
}

func TestLinkGraphFiltersByStatus(t *testing.T) {
	create := opFixture("create", "POST", "/items")
	get := opFixture("get", "GET", "/items/{id}",
		Parameter{Name: "id", Location: LocationPath})

	onCreated := &Link{Name: "onCreated", Source: create, Target: get, Status: StatusRange{Exact: 201},
		Parameters: []LinkParam{{Location: LocationPath, Name: "id", Expr: "$response.body#/id"}}}
	g, err := NewLinkGraph([]*Operation{create, get}, []*Link{onCreated})
	if err != nil {
		t.Fatalf("NewLinkGraph: %v", err)
	}
	if links := g.LinksFrom(create, 201); len(links) != 1 {
		t.Errorf("expected the link to fire on 201, got %v", links)
	}
	if links := g.LinksFrom(create, 404); len(links) != 0 {
		t.Errorf("link must not fire on 404, got %v", links)
	}
}

func TestExpressionEval(t *testing.T) {
	op := opFixture("get", "GET", "/items/{id}",
		Parameter{Name: "id", Location: LocationPath})
	c := NewCase(op, CaseMeta{})
	c.Set(LocationPath, "id", float64(7))
	c.Set(LocationQuery, "verbose", "yes")
	c.Set(LocationHeader, "X-Token", "abc")
	c.Set(LocationBody, "", map[string]any{"nested": map[string]any{"key": "v"}})

	o := &Outcome{
		Status:     201,
		Headers:    http.Header{"Location": []string{"/items/42"}},
		JSON:       map[string]any{"id": float64(42), "tags": []any{"a", "b"}},
		JSONValid:  true,
		RequestURL: "http://api.test/items/7",
	}

	cases := []struct {
		expr Expression
		want any
	}{
		{expr: "$statusCode", want: 201},
		{expr: "$method", want: "GET"},
		{expr: "$url", want: "http://api.test/items/7"},
		{expr: "$request.path.id", want: float64(7)},
		{expr: "$request.query.verbose", want: "yes"},
		{expr: "$request.header.x-token", want: "abc"},
		{expr: "$request.body#/nested/key", want: "v"},
		{expr: "$response.header.Location", want: "/items/42"},
		{expr: "$response.body#/id", want: float64(42)},
		{expr: "$response.body#/tags/1", want: "b"},
		{expr: "literal-value", want: "literal-value"},
		{expr: "item-{$response.body#/id}", want: "item-42"},
	}
	for _, tc := range cases {
		got, err := tc.expr.Eval(c, o)
		if err != nil {
			t.Errorf("Eval(%q): %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v (%T), want %v", tc.expr, got, got, tc.want)
		}
	}
}

func TestExpressionFailsClosed(t *testing.T) {
	op := opFixture("get", "GET", "/items/{id}")
	c := NewCase(op, CaseMeta{})
	o := &Outcome{Status: 404, JSON: map[string]any{"error": "not found"}, JSONValid: true}

	exprs := []Expression{
		"$response.body#/id",
		"$response.header.Location",
		"$request.path.id",
		"$request.body#/x",
		"$rubbish",
	}
	for _, expr := range exprs {
		_, err := expr.Eval(c, o)
		var extractionErr *LinkExtractionError
		if !errors.As(err, &extractionErr) {
			t.Errorf("Eval(%q): expected LinkExtractionError, got %v", expr, err)
		}
	}

	failed := &Outcome{TransportFailure: &TransportFailure{Kind: TransportTimeout}}
	if _, err := Expression("$statusCode").Eval(c, failed); err == nil {
		t.Errorf("$statusCode against a transport failure must fail")
	}
}

func TestCurlCommand(t *testing.T) {
	op := opFixture("update", "PUT", "/items/{id}")
	c := NewCase(op, CaseMeta{})
	c.Set(LocationPath, "id", float64(3))
	c.Set(LocationQuery, "force", true)
	c.Set(LocationHeader, "X-Token", "t0k")
	c.Set(LocationBody, "", map[string]any{"name": "thing"})

	cmd := c.CurlCommand("http://api.test/")
	for _, want := range []string{
		"curl -X PUT",
		"http://api.test/items/3",
		"force=true",
		`-H "X-Token: t0k"`,
		`{"name":"thing"}`,
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("curl command missing %q:\n%s", want, cmd)
		}
	}
}

func TestCaseFingerprintStable(t *testing.T) {
	op := opFixture("get", "GET", "/items/{id}")
	build := func() *Case {
		c := NewCase(op, CaseMeta{})
		c.Set(LocationPath, "id", float64(1))
		c.Set(LocationQuery, "q", "x")
		return c
	}
	a, b := build(), build()
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("identical values must share a fingerprint despite distinct IDs")
	}
	b.Set(LocationQuery, "q", "y")
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("different values must not collide")
	}
}

func TestFailureFingerprintDedups(t *testing.T) {
	op := opFixture("get", "GET", "/items/{id}")
	c := NewCase(op, CaseMeta{})
	o := &Outcome{Status: 500}
	v := []Violation{{Check: "server_error", Detail: "500 Internal Server Error"}}

	first := NewFailure(c, nil, o, v)
	second := NewFailure(c.Clone(), nil, &Outcome{Status: 503}, v)
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("same operation, check and status class must share a fingerprint: %q vs %q",
			first.Fingerprint, second.Fingerprint)
	}

	other := NewFailure(c, nil, &Outcome{Status: 400},
		[]Violation{{Check: "undeclared_status_code", Detail: "400"}})
	if first.Fingerprint == other.Fingerprint {
		t.Errorf("different check kinds must not collide")
	}
}

func TestSequenceOwnership(t *testing.T) {
	op := opFixture("get", "GET", "/items/{id}")
	seq := NewSequence()
	c := NewCase(op, CaseMeta{})
	seq.Append(c, &Outcome{Status: 200}, "")

	clone := seq.Clone()
	if clone.ID == seq.ID {
		t.Errorf("clone must carry a fresh identity")
	}
	if len(clone.Steps) != 1 || clone.Steps[0].Case != c {
		t.Errorf("clone must share recorded steps")
	}
	if seq.Fingerprint() != clone.Fingerprint() {
		t.Errorf("fingerprint depends on steps only")
	}
}
