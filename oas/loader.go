// Package oas loads OpenAPI documents into the operation model. Schema
// fragments are resolved into the ir; declared links become the link graph.
package oas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/speakeasy-api/openapi/openapi"
	"gopkg.in/yaml.v3"

	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
)

var methods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// Options configures loading.
type Options struct {
	// MaxRefDepth bounds reference revisits during schema resolution.
	MaxRefDepth int
	Logger      logging.Logger
}

// Diagnostic records a non-fatal load problem, scoped to the operation (or
// link) it affected.
type Diagnostic struct {
	Scope string
	Err   error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %v", d.Scope, d.Err)
}

// Document is a loaded API description.
type Document struct {
	Title   string
	Version string
	Graph   *model.LinkGraph
	// Diagnostics lists operations and links that were skipped. A bad
	// schema fragment skips its operation, never the whole load.
	Diagnostics []Diagnostic
}

type loader struct {
	root    map[string]any
	opts    Options
	logger  logging.Logger
	resolve ir.RefResolver

	ops     []*model.Operation
	pending []pendingLink
	diags   []Diagnostic
}

// pendingLink defers target resolution until every operation is loaded, so
// links may point forward by operationId.
type pendingLink struct {
	name        string
	source      *model.Operation
	status      model.StatusRange
	operationID string
	params      map[string]any
	requestBody any
}

// Load parses an OpenAPI document. The document is validated as a whole;
// validation findings are logged and loading continues with whatever is
// structurally usable.
func Load(ctx context.Context, r io.Reader, opts Options) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read document: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	if opts.MaxRefDepth < 1 {
		opts.MaxRefDepth = ir.DefaultResolveOptions().MaxRefDepth
	}

	parsed, validationErrs, err := openapi.Unmarshal(ctx, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot parse OpenAPI document: %w", err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("empty OpenAPI document")
	}
	for _, verr := range validationErrs {
		logger.Warnf("document validation: %v", verr)
	}

	var rootAny any
	if err := yaml.Unmarshal(raw, &rootAny); err != nil {
		return nil, fmt.Errorf("cannot decode document: %w", err)
	}
	root, ok := normalize(rootAny).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root is not a mapping")
	}

	l := &loader{root: root, opts: opts, logger: logger}
	l.resolve = l.refResolver()
	return l.load()
}

func (l *loader) load() (*Document, error) {
	doc := &Document{}
	if info, ok := l.root["info"].(map[string]any); ok {
		doc.Title, _ = info["title"].(string)
		doc.Version, _ = info["version"].(string)
	}

	paths, ok := l.root["paths"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document declares no paths")
	}
	for _, path := range sortedKeys(paths) {
		item, ok := l.deref(paths[path]).(map[string]any)
		if !ok {
			continue
		}
		shared, _ := item["parameters"].([]any)
		for _, method := range methods {
			opRaw, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			op, err := l.loadOperation(path, strings.ToUpper(method), opRaw, shared)
			if err != nil {
				scope := strings.ToUpper(method) + " " + path
				l.diags = append(l.diags, Diagnostic{Scope: scope, Err: err})
				l.logger.Warnf("skipping %s: %v", scope, err)
				continue
			}
			l.ops = append(l.ops, op)
		}
	}
	if len(l.ops) == 0 {
		return nil, fmt.Errorf("no usable operations in document")
	}

	links := l.resolveLinks()
	graph, err := model.NewLinkGraph(l.ops, links)
	if err != nil {
		return nil, err
	}
	doc.Graph = graph
	doc.Diagnostics = l.diags
	l.logger.Infof("loaded %d operation(s), %d link(s), %d diagnostic(s)",
		len(l.ops), len(links), len(l.diags))
	return doc, nil
}

func (l *loader) loadOperation(path, method string, raw map[string]any, shared []any) (*model.Operation, error) {
	op := &model.Operation{Method: method, Path: path}
	if id, ok := raw["operationId"].(string); ok && id != "" {
		op.ID = id
	} else {
		op.ID = method + " " + path
	}
	if tags, ok := raw["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				op.Labels = append(op.Labels, s)
			}
		}
	}

	declared, _ := raw["parameters"].([]any)
	for _, p := range append(append([]any{}, shared...), declared...) {
		param, err := l.loadParameter(p)
		if err != nil {
			return nil, err
		}
		if existing := op.Parameter(param.Location, param.Name); existing != nil {
			// Operation-level declarations override path-level ones.
			*existing = param
			continue
		}
		op.Parameters = append(op.Parameters, param)
	}

	if body, ok := l.deref(raw["requestBody"]).(map[string]any); ok {
		spec, err := l.loadBody(body)
		if err != nil {
			return nil, err
		}
		op.Body = spec
	}

	responses, _ := raw["responses"].(map[string]any)
	for _, status := range sortedKeys(responses) {
		rng, err := model.ParseStatusRange(status)
		if err != nil {
			return nil, err
		}
		resp, ok := l.deref(responses[status]).(map[string]any)
		if !ok {
			continue
		}
		spec, err := l.loadResponse(rng, resp)
		if err != nil {
			return nil, err
		}
		op.Responses = append(op.Responses, *spec)
		l.collectLinks(op, rng, resp)
	}
	return op, nil
}

func (l *loader) loadParameter(raw any) (model.Parameter, error) {
	p, ok := l.deref(raw).(map[string]any)
	if !ok {
		return model.Parameter{}, fmt.Errorf("parameter is not a mapping")
	}
	name, _ := p["name"].(string)
	in, _ := p["in"].(string)
	if name == "" || in == "" {
		return model.Parameter{}, fmt.Errorf("parameter missing name or location")
	}
	loc := model.Location(in)
	switch loc {
	case model.LocationPath, model.LocationQuery, model.LocationHeader, model.LocationCookie:
	default:
		return model.Parameter{}, fmt.Errorf("parameter %q has unknown location %q", name, in)
	}
	required, _ := p["required"].(bool)
	if loc == model.LocationPath {
		required = true
	}

	schema := l.deref(p["schema"])
	if schema == nil {
		schema = map[string]any{}
	}
	if frag, ok := schema.(map[string]any); ok {
		if ex, has := p["example"]; has {
			if _, declared := frag["example"]; !declared {
				frag = withExample(frag, ex)
			}
		}
		schema = frag
	}
	node, err := ir.Resolve(schema, l.resolve, ir.ResolveOptions{MaxRefDepth: l.opts.MaxRefDepth})
	if err != nil {
		return model.Parameter{}, fmt.Errorf("parameter %q: %w", name, err)
	}
	return model.Parameter{Name: name, Location: loc, Node: node, Required: required}, nil
}

func (l *loader) loadBody(raw map[string]any) (*model.BodySpec, error) {
	contentType, media := pickMedia(raw)
	if media == nil {
		return nil, nil
	}
	required, _ := raw["required"].(bool)
	schema := l.deref(media["schema"])
	if schema == nil {
		schema = map[string]any{}
	}
	node, err := ir.Resolve(schema, l.resolve, ir.ResolveOptions{MaxRefDepth: l.opts.MaxRefDepth})
	if err != nil {
		return nil, fmt.Errorf("request body: %w", err)
	}
	return &model.BodySpec{Node: node, ContentType: contentType, Required: required}, nil
}

func (l *loader) loadResponse(rng model.StatusRange, raw map[string]any) (*model.ResponseSpec, error) {
	spec := &model.ResponseSpec{Status: rng}
	contentType, media := pickMedia(raw)
	if media != nil {
		spec.ContentType = contentType
		if schema := l.deref(media["schema"]); schema != nil {
			node, err := ir.Resolve(schema, l.resolve, ir.ResolveOptions{MaxRefDepth: l.opts.MaxRefDepth})
			if err != nil {
				return nil, fmt.Errorf("response %s: %w", rng, err)
			}
			spec.Node = node
		}
	}
	if headers, ok := l.deref(raw["headers"]).(map[string]any); ok {
		spec.Headers = map[string]model.HeaderSpec{}
		for _, name := range sortedKeys(headers) {
			// The Content-Type header declaration has no effect per the
			// OpenAPI specification.
			if strings.EqualFold(name, "Content-Type") {
				continue
			}
			h, ok := l.deref(headers[name]).(map[string]any)
			if !ok {
				continue
			}
			required, _ := h["required"].(bool)
			hs := model.HeaderSpec{Required: required}
			if schema := l.deref(h["schema"]); schema != nil {
				node, err := ir.Resolve(schema, l.resolve, ir.ResolveOptions{MaxRefDepth: l.opts.MaxRefDepth})
				if err != nil {
					return nil, fmt.Errorf("response %s header %q: %w", rng, name, err)
				}
				hs.Node = node
			}
			spec.Headers[name] = hs
		}
	}
	return spec, nil
}

// pickMedia selects the JSON media type from a content mapping, falling back
// to the lexically first one.
func pickMedia(raw map[string]any) (string, map[string]any) {
	content, ok := raw["content"].(map[string]any)
	if !ok {
		return "", nil
	}
	keys := sortedKeys(content)
	for _, ct := range keys {
		if ct == "application/json" || strings.HasSuffix(ct, "+json") {
			if m, ok := content[ct].(map[string]any); ok {
				return ct, m
			}
		}
	}
	for _, ct := range keys {
		if m, ok := content[ct].(map[string]any); ok {
			return ct, m
		}
	}
	return "", nil
}

func (l *loader) collectLinks(op *model.Operation, rng model.StatusRange, resp map[string]any) {
	links, ok := l.deref(resp["links"]).(map[string]any)
	if !ok {
		return
	}
	for _, name := range sortedKeys(links) {
		link, ok := l.deref(links[name]).(map[string]any)
		if !ok {
			continue
		}
		id, _ := link["operationId"].(string)
		if id == "" {
			l.diags = append(l.diags, Diagnostic{
				Scope: "link " + name,
				Err:   fmt.Errorf("only operationId link targets are supported"),
			})
			continue
		}
		params, _ := link["parameters"].(map[string]any)
		l.pending = append(l.pending, pendingLink{
			name:        name,
			source:      op,
			status:      rng,
			operationID: id,
			params:      params,
			requestBody: link["requestBody"],
		})
	}
}

// resolveLinks binds pending links to their target operations. Unknown
// targets and unknown parameters become diagnostics here; the surviving
// links are validated again by the graph.
func (l *loader) resolveLinks() []*model.Link {
	byID := map[string]*model.Operation{}
	for _, op := range l.ops {
		byID[op.ID] = op
	}
	var out []*model.Link
	for _, p := range l.pending {
		target, ok := byID[p.operationID]
		if !ok {
			l.diags = append(l.diags, Diagnostic{
				Scope: "link " + p.name,
				Err:   fmt.Errorf("target operation %q not found", p.operationID),
			})
			continue
		}
		link := &model.Link{Name: p.name, Source: p.source, Status: p.status, Target: target}
		valid := true
		for _, key := range sortedKeys(p.params) {
			expr, ok := p.params[key].(string)
			if !ok {
				// Literal values are legal link parameters.
				expr = fmt.Sprint(p.params[key])
			}
			loc, name, err := splitLinkParam(target, key)
			if err != nil {
				l.diags = append(l.diags, Diagnostic{Scope: "link " + p.name, Err: err})
				valid = false
				break
			}
			link.Parameters = append(link.Parameters, model.LinkParam{
				Location: loc, Name: name, Expr: model.Expression(expr),
			})
		}
		if !valid {
			continue
		}
		if body, ok := p.requestBody.(string); ok && body != "" {
			expr := model.Expression(body)
			link.Body = &expr
		}
		out = append(out, link)
	}
	return out
}

// splitLinkParam resolves a link parameter key, which may be location
// qualified ("path.id") or bare ("id").
func splitLinkParam(target *model.Operation, key string) (model.Location, string, error) {
	if loc, name, ok := strings.Cut(key, "."); ok {
		switch l := model.Location(loc); l {
		case model.LocationPath, model.LocationQuery, model.LocationHeader, model.LocationCookie:
			return l, name, nil
		}
	}
	var found *model.Parameter
	for i := range target.Parameters {
		p := &target.Parameters[i]
		if p.Name != key {
			continue
		}
		if found != nil {
			return "", "", fmt.Errorf("parameter %q is ambiguous on %s", key, target)
		}
		found = p
	}
	if found == nil {
		return "", "", fmt.Errorf("target %s has no parameter %q", target, key)
	}
	return found.Location, found.Name, nil
}

// refResolver resolves local "#/..." references against the document root.
func (l *loader) refResolver() ir.RefResolver {
	return func(ref string) (any, error) {
		frag, err := resolvePointer(l.root, ref)
		if err != nil {
			return nil, err
		}
		return frag, nil
	}
}

// deref follows a single $ref level in non-schema positions (parameters,
// responses, request bodies, links). Schema references are handled by
// ir.Resolve, which owns cycle accounting.
func (l *loader) deref(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	ref, ok := m["$ref"].(string)
	if !ok {
		return v
	}
	resolved, err := resolvePointer(l.root, ref)
	if err != nil {
		return v
	}
	return resolved
}

func resolvePointer(root map[string]any, ref string) (any, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported reference %q: only local references are supported", ref)
	}
	var cur any = root
	for _, token := range strings.Split(ref[2:], "/") {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[token]
			if !ok {
				return nil, fmt.Errorf("reference %q: %q not found", ref, token)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("reference %q: index %q out of range", ref, token)
			}
			cur = t[idx]
		default:
			return nil, fmt.Errorf("reference %q: cannot descend into %T", ref, cur)
		}
	}
	return cur, nil
}

// normalize converts YAML decoding artifacts into the canonical JSON-style
// shape: string-keyed maps all the way down.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func withExample(frag map[string]any, example any) map[string]any {
	out := make(map[string]any, len(frag)+1)
	for k, v := range frag {
		out[k] = v
	}
	out["example"] = example
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
