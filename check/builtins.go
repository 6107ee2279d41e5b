package check

import (
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/model"
)

const (
	KindServerError            = "server_error"
	KindUndeclaredStatusCode   = "undeclared_status_code"
	KindContentTypeMismatch    = "content_type_mismatch"
	KindMalformedJSON          = "malformed_json"
	KindSchemaConformance      = "response_schema_conformance"
	KindPositiveDataAcceptance = "positive_data_acceptance"
	KindNegativeDataRejection  = "negative_data_rejection"
	KindUseAfterFree           = "use_after_free"
	KindResourceAvailability   = "ensure_resource_availability"
	KindHeaderConformance      = "response_headers_conformance"
)

// BuiltinKinds returns all builtin check kinds in their stable run order.
func BuiltinKinds() []string {
	out := make([]string, 0, len(builtins()))
	for _, c := range builtins() {
		out = append(out, c.Kind())
	}
	return out
}

func builtins() []Check {
	cache := newCompiledCache()
	return []Check{
		serverError{},
		undeclaredStatus{},
		contentTypeMismatch{},
		malformedJSON{},
		&schemaConformance{cache: cache},
		positiveDataAcceptance{},
		negativeDataRejection{},
		useAfterFree{},
		resourceAvailability{},
		&headerConformance{cache: cache},
	}
}

// serverError flags any 5xx response.
type serverError struct{}

func (serverError) Kind() string { return KindServerError }

func (serverError) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() || o.Status < 500 {
		return nil
	}
	return []model.Violation{{
		Check:  KindServerError,
		Detail: fmt.Sprintf("server responded %d", o.Status),
	}}
}

// undeclaredStatus flags status codes the schema does not declare for the
// operation. Operations without declared responses are skipped; there is
// nothing to conform to.
type undeclaredStatus struct{}

func (undeclaredStatus) Kind() string { return KindUndeclaredStatusCode }

func (undeclaredStatus) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	op := ctx.Case.Operation
	if o.Failed() || len(op.Responses) == 0 || op.DeclaresStatus(o.Status) {
		return nil
	}
	return []model.Violation{{
		Check:  KindUndeclaredStatusCode,
		Detail: fmt.Sprintf("status %d is not declared for %s", o.Status, op),
	}}
}

// contentTypeMismatch flags responses whose media type differs from the one
// declared for the matched status.
type contentTypeMismatch struct{}

func (contentTypeMismatch) Kind() string { return KindContentTypeMismatch }

func (contentTypeMismatch) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() || o.ContentType == "" {
		return nil
	}
	resp := ctx.Case.Operation.ResponseFor(o.Status)
	if resp == nil || resp.ContentType == "" {
		return nil
	}
	if mediaTypesMatch(resp.ContentType, o.ContentType) {
		return nil
	}
	return []model.Violation{{
		Check:  KindContentTypeMismatch,
		Detail: fmt.Sprintf("declared %s, got %s", resp.ContentType, o.ContentType),
	}}
}

func mediaTypesMatch(declared, actual string) bool {
	d, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return true
	}
	a, _, err := mime.ParseMediaType(actual)
	if err != nil {
		return false
	}
	if d == a {
		return true
	}
	// application/* style wildcards in the declaration.
	if base, ok := strings.CutSuffix(d, "/*"); ok {
		return strings.HasPrefix(a, base+"/")
	}
	return false
}

// malformedJSON flags bodies that claim a JSON media type but do not parse.
type malformedJSON struct{}

func (malformedJSON) Kind() string { return KindMalformedJSON }

func (malformedJSON) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() || len(o.Body) == 0 || o.JSONValid || !isJSONMediaType(o.ContentType) {
		return nil
	}
	return []model.Violation{{
		Check:  KindMalformedJSON,
		Detail: fmt.Sprintf("%s body of %d bytes is not valid JSON", o.ContentType, len(o.Body)),
	}}
}

func isJSONMediaType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// compiledCache compiles raw schema fragments once per structural
// fingerprint: identical fragments reached through different nodes share an
// entry. Cases run concurrently and share one instance.
type compiledCache struct {
	mu       sync.Mutex
	fp       *ir.Fingerprinter
	compiled map[string]*jsonschema.Schema
}

func newCompiledCache() *compiledCache {
	return &compiledCache{fp: ir.NewFingerprinter(), compiled: map[string]*jsonschema.Schema{}}
}

func (c *compiledCache) compile(node *ir.Node) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.fp.Fingerprint(node)
	if sch, ok := c.compiled[key]; ok {
		return sch, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", node.Raw); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	c.compiled[key] = sch
	return sch, nil
}

// schemaConformance validates JSON response bodies against the schema
// declared for the matched status.
type schemaConformance struct {
	cache *compiledCache
}

func (*schemaConformance) Kind() string { return KindSchemaConformance }

func (c *schemaConformance) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() || !o.JSONValid {
		return nil
	}
	resp := ctx.Case.Operation.ResponseFor(o.Status)
	if resp == nil || resp.Node == nil || resp.Node.Raw == nil {
		return nil
	}
	sch, err := c.cache.compile(resp.Node)
	if err != nil {
		// A schema that does not compile was already reported at load
		// time; do not turn it into a response violation here.
		return nil
	}
	if err := sch.Validate(o.JSON); err != nil {
		return []model.Violation{{
			Check:  KindSchemaConformance,
			Detail: fmt.Sprintf("response body violates declared schema: %v", err),
		}}
	}
	return nil
}

// Allowed status sets: invalid input is expected to draw a client error
// (5xx belongs to the server_error check), valid input to be accepted or
// turned away for auth or existence reasons.
var (
	negativeAllowed = statusRanges("400", "401", "403", "404", "422", "428", "5XX")
	positiveAllowed = statusRanges("2XX", "401", "403", "404")
)

func statusRanges(specs ...string) []model.StatusRange {
	out := make([]model.StatusRange, len(specs))
	for i, s := range specs {
		r, err := model.ParseStatusRange(s)
		if err != nil {
			panic(err)
		}
		out[i] = r
	}
	return out
}

func statusIn(status int, ranges []model.StatusRange) bool {
	for _, r := range ranges {
		if r.Matches(status) {
			return true
		}
	}
	return false
}

// positiveDataAcceptance flags schema-conformant requests the API turned
// away.
type positiveDataAcceptance struct{}

func (positiveDataAcceptance) Kind() string { return KindPositiveDataAcceptance }

func (positiveDataAcceptance) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() || ctx.Case.Meta.Violates != "" {
		return nil
	}
	if statusIn(o.Status, positiveAllowed) {
		return nil
	}
	return []model.Violation{{
		Check:  KindPositiveDataAcceptance,
		Detail: fmt.Sprintf("schema-conformant request was rejected with %d", o.Status),
	}}
}

// negativeDataRejection flags schema-violating requests the API accepted.
type negativeDataRejection struct{}

func (negativeDataRejection) Kind() string { return KindNegativeDataRejection }

func (negativeDataRejection) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	meta := ctx.Case.Meta
	if o.Failed() || meta.Violates == "" {
		return nil
	}
	if statusIn(o.Status, negativeAllowed) {
		return nil
	}
	return []model.Violation{{
		Check: KindNegativeDataRejection,
		Detail: fmt.Sprintf("request violating %s at %q was answered %d instead of rejected",
			meta.Violates, meta.ViolatedAt, o.Status),
	}}
}

// headerConformance flags responses missing a required declared header or
// carrying one whose value violates the declared schema.
type headerConformance struct {
	cache *compiledCache
}

func (*headerConformance) Kind() string { return KindHeaderConformance }

func (c *headerConformance) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if o.Failed() {
		return nil
	}
	resp := ctx.Case.Operation.ResponseFor(o.Status)
	if resp == nil || len(resp.Headers) == 0 {
		return nil
	}
	var out []model.Violation
	for _, name := range sortedHeaderNames(resp.Headers) {
		spec := resp.Headers[name]
		got := o.Headers.Values(name)
		if len(got) == 0 {
			if spec.Required {
				out = append(out, model.Violation{
					Check:  KindHeaderConformance,
					Detail: fmt.Sprintf("required response header %q is missing", name),
				})
			}
			continue
		}
		if spec.Node == nil || spec.Node.Raw == nil {
			continue
		}
		sch, err := c.cache.compile(spec.Node)
		if err != nil {
			continue
		}
		if err := sch.Validate(headerValue(got[0], spec.Node)); err != nil {
			out = append(out, model.Violation{
				Check:  KindHeaderConformance,
				Detail: fmt.Sprintf("response header %q violates its declared schema: %v", name, err),
			})
		}
	}
	return out
}

func sortedHeaderNames(headers map[string]model.HeaderSpec) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// headerValue coerces the wire string toward the declared primitive so the
// schema sees a typed value, not serialized text.
func headerValue(raw string, node *ir.Node) any {
	switch node.Kind {
	case ir.KindInteger, ir.KindNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case ir.KindBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

// useAfterFree flags a resource that answers 2xx after an earlier step in
// the same sequence deleted it successfully.
type useAfterFree struct{}

func (useAfterFree) Kind() string { return KindUseAfterFree }

func (useAfterFree) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if ctx.Sequence == nil || o.Failed() || o.Status/100 != 2 {
		return nil
	}
	c := ctx.Case
	if c.Operation.Method == "DELETE" {
		return nil
	}
	path := c.RenderPath()
	for _, step := range ctx.Sequence.Steps {
		if step.Outcome == nil || step.Outcome.Failed() {
			continue
		}
		if step.Case.Operation.Method != "DELETE" || step.Outcome.Status/100 != 2 {
			continue
		}
		if step.Case.RenderPath() == path {
			return []model.Violation{{
				Check: KindUseAfterFree,
				Detail: fmt.Sprintf("%s answered %d after %s deleted it",
					path, o.Status, step.Case.Operation),
			}}
		}
	}
	return nil
}

// resourceAvailability flags a freshly created resource that cannot be
// retrieved through the link its creation declared.
type resourceAvailability struct{}

func (resourceAvailability) Kind() string { return KindResourceAvailability }

func (resourceAvailability) Run(ctx *Context) []model.Violation {
	o := ctx.Outcome
	if ctx.Sequence == nil || ctx.Link == "" || o.Failed() {
		return nil
	}
	if ctx.Case.Operation.Method != "GET" || o.Status < 400 {
		return nil
	}
	prev := ctx.Sequence.Last()
	if prev == nil || prev.Outcome == nil || prev.Outcome.Failed() {
		return nil
	}
	if prev.Case.Operation.Method != "POST" || prev.Outcome.Status/100 != 2 {
		return nil
	}
	return []model.Violation{{
		Check: KindResourceAvailability,
		Detail: fmt.Sprintf("resource created by %s (status %d) is unavailable via link %q: status %d",
			prev.Case.Operation, prev.Outcome.Status, ctx.Link, o.Status),
	}}
}
