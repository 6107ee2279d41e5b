package runner

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/apiprobe/apiprobe/check"
	"github.com/apiprobe/apiprobe/config"
	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/transport"
)

func serverErrorEngine(t *testing.T) *check.Engine {
	t.Helper()
	e, err := check.NewEngine(check.Options{Checks: []string{check.KindServerError}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func newRunner(t *testing.T, srvURL string, graph *model.LinkGraph, mutate func(*Options)) *Runner {
	t.Helper()
	adapter, err := transport.NewHTTP(transport.HTTPOptions{BaseURL: srvURL})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	opts := Options{
		Graph:     graph,
		Transport: adapter,
		Checks:    serverErrorEngine(t),
		Seed:      7,
		Modes:     config.Modes{Positive: true, Coverage: true},
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func singleOpGraph(t *testing.T, op *model.Operation) *model.LinkGraph {
	t.Helper()
	g, err := model.NewLinkGraph([]*model.Operation{op}, nil)
	if err != nil {
		t.Fatalf("NewLinkGraph: %v", err)
	}
	return g
}

func itemGraph(t *testing.T, linkStatus model.StatusRange) *model.LinkGraph {
	t.Helper()
	create := &model.Operation{ID: "createItem", Method: "POST", Path: "/items"}
	get := &model.Operation{
		ID: "getItem", Method: "GET", Path: "/items/{id}",
		Parameters: []model.Parameter{{
			Name: "id", Location: model.LocationPath,
			Node: &ir.Node{Kind: ir.KindInteger}, Required: true,
		}},
	}
	link := &model.Link{
		Name: "GetItemById", Source: create, Target: get, Status: linkStatus,
		Parameters: []model.LinkParam{{
			Location: model.LocationPath, Name: "id", Expr: "$response.body#/id",
		}},
	}
	g, err := model.NewLinkGraph([]*model.Operation{create, get}, []*model.Link{link})
	if err != nil {
		t.Fatalf("NewLinkGraph: %v", err)
	}
	return g
}

func TestRunSingleRecordsDedupedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	op := &model.Operation{ID: "boom", Method: "GET", Path: "/boom"}
	r := newRunner(t, srv.URL, singleOpGraph(t, op), func(o *Options) {
		o.Modes = config.Modes{Positive: true, Random: true}
		o.MaxExamples = 5
	})
	if err := r.RunSingle(context.Background()); err != nil {
		t.Fatalf("RunSingle: %v", err)
	}

	result := r.Result()
	if result.Counts.Cases < 1 {
		t.Fatalf("no cases executed")
	}
	if len(result.Failures) != 1 {
		t.Fatalf("identical failures must dedup to one, got %d", len(result.Failures))
	}
	f := result.Failures[0]
	if len(f.Violations) != 1 || f.Violations[0].Check != check.KindServerError {
		t.Errorf("unexpected violations: %v", f.Violations)
	}
}

func TestRunSingleDebugLogging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	op := &model.Operation{ID: "ping", Method: "GET", Path: "/ping"}
	var buf bytes.Buffer
	r := newRunner(t, srv.URL, singleOpGraph(t, op), func(o *Options) {
		o.Logger = logging.New(logging.LevelDebug, &buf)
		o.Concurrency = 1
		o.PerOperationConcurrency = 1
	})
	if err := r.RunSingle(context.Background()); err != nil {
		t.Fatalf("RunSingle: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "operation=ping") {
		t.Errorf("per-operation log lines must carry the operation field:\n%s", out)
	}
	if !strings.Contains(out, "GET /ping") {
		t.Errorf("executed exchanges must be traced at debug level:\n%s", out)
	}

	// Above debug the trace goes away entirely.
	buf.Reset()
	quiet := newRunner(t, srv.URL, singleOpGraph(t, op), func(o *Options) {
		o.Logger = logging.New(logging.LevelInfo, &buf)
		o.Concurrency = 1
		o.PerOperationConcurrency = 1
	})
	if err := quiet.RunSingle(context.Background()); err != nil {
		t.Fatalf("RunSingle: %v", err)
	}
	if strings.Contains(buf.String(), "GET /ping") {
		t.Errorf("exchange trace must be suppressed at info level:\n%s", buf.String())
	}
}

func TestRunSingleStopOnFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	op := &model.Operation{ID: "boom", Method: "GET", Path: "/boom"}
	r := newRunner(t, srv.URL, singleOpGraph(t, op), func(o *Options) {
		o.StopOnFirstFailure = true
	})
	if err := r.RunSingle(context.Background()); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if r.failures.Len() != 1 {
		t.Errorf("exactly one failure must be recorded, got %d", r.failures.Len())
	}
}

func TestStatefulFollowsLink(t *testing.T) {
	var gets, posts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == "POST" && r.URL.Path == "/items":
			atomic.AddInt64(&posts, 1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":7}`))
		case r.Method == "GET" && r.URL.Path == "/items/7":
			atomic.AddInt64(&gets, 1)
			w.Write([]byte(`{"id":7}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := newRunner(t, srv.URL, itemGraph(t, model.StatusRange{Exact: 201}), nil)
	if err := r.RunStateful(context.Background()); err != nil {
		t.Fatalf("RunStateful: %v", err)
	}

	if atomic.LoadInt64(&posts) < 1 {
		t.Fatalf("source operation never executed")
	}
	if atomic.LoadInt64(&gets) != 1 {
		t.Errorf("linked operation must execute exactly once with the extracted id, got %d", gets)
	}
	result := r.Result()
	if result.Counts.Sequences < 1 {
		t.Errorf("no sequences recorded")
	}
	if result.Counts.ExtractionFailures != 0 {
		t.Errorf("extraction must succeed here, got %d failures", result.Counts.ExtractionFailures)
	}
}

// TestStatefulAbandonsOnMissingLinkField is the two-operation scenario:
// POST /items feeds GET /items/{id} via $response.body#/id. When the POST
// answers 404 without an id, the sequence is abandoned with a link
// extraction failure, never a fabricated id and never a check violation.
func TestStatefulAbandonsOnMissingLinkField(t *testing.T) {
	var gets int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			atomic.AddInt64(&gets, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	r := newRunner(t, srv.URL, itemGraph(t, model.StatusRange{Default: true}), nil)
	if err := r.RunStateful(context.Background()); err != nil {
		t.Fatalf("RunStateful: %v", err)
	}

	result := r.Result()
	if result.Counts.ExtractionFailures < 1 {
		t.Fatalf("missing id must be recorded as a link extraction failure")
	}
	if atomic.LoadInt64(&gets) != 0 {
		t.Errorf("target operation must never run on a fabricated value, saw %d GETs", gets)
	}
	if len(result.Failures) != 0 {
		t.Errorf("extraction failure is not a check violation: %v", result.Failures)
	}
}

func TestStatefulDeadEndRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot) // matches no link status
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newRunner(t, srv.URL, itemGraph(t, model.StatusRange{Exact: 201}), nil)
	if err := r.RunStateful(context.Background()); err != nil {
		t.Fatalf("RunStateful: %v", err)
	}
	if r.Result().Counts.DeadEnds < 1 {
		t.Errorf("status matching no link must be a dead end")
	}
}
