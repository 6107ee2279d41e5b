package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is an OpenAPI runtime expression: $statusCode, $url, $method,
// $request.{path,query,header,body}, $response.{header,body}, each body form
// optionally followed by #/json/pointer. Anything not starting with $ is a
// literal, and a string containing {...} segments is a template whose embeds
// are evaluated and concatenated.
type Expression string

// LinkExtractionError reports that an expression could not be evaluated
// against a recorded outcome. Extraction is fail-closed: a missing field or a
// wrong shape surfaces this error, never a fabricated value.
type LinkExtractionError struct {
	Expr   string
	Reason string
}

func (e *LinkExtractionError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Reason)
}

func extractionErrf(expr Expression, format string, args ...any) error {
	return &LinkExtractionError{Expr: string(expr), Reason: fmt.Sprintf(format, args...)}
}

// Eval evaluates the expression against an executed case and its outcome.
func (e Expression) Eval(c *Case, o *Outcome) (any, error) {
	s := string(e)
	if strings.Contains(s, "{") {
		return e.evalTemplate(s, c, o)
	}
	return e.evalSingle(s, c, o)
}

func (e Expression) evalTemplate(s string, c *Case, o *Outcome) (any, error) {
	var b strings.Builder
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:open])
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			return nil, extractionErrf(e, "unterminated embed")
		}
		v, err := e.evalSingle(s[open+1:open+end], c, o)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		s = s[open+end+1:]
	}
	return b.String(), nil
}

func (e Expression) evalSingle(s string, c *Case, o *Outcome) (any, error) {
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	switch {
	case s == "$statusCode":
		if o == nil || o.TransportFailure != nil {
			return nil, extractionErrf(e, "no response recorded")
		}
		return o.Status, nil
	case s == "$method":
		return c.Operation.Method, nil
	case s == "$url":
		if o == nil || o.RequestURL == "" {
			return nil, extractionErrf(e, "request URL not recorded")
		}
		return o.RequestURL, nil
	case strings.HasPrefix(s, "$request."):
		return e.evalRequest(strings.TrimPrefix(s, "$request."), c)
	case strings.HasPrefix(s, "$response."):
		return e.evalResponse(strings.TrimPrefix(s, "$response."), o)
	default:
		return nil, extractionErrf(e, "unsupported expression")
	}
}

func (e Expression) evalRequest(rest string, c *Case) (any, error) {
	switch {
	case strings.HasPrefix(rest, "path."):
		return e.lookup(c.PathParams, strings.TrimPrefix(rest, "path."), "path parameter")
	case strings.HasPrefix(rest, "query."):
		return e.lookup(c.Query, strings.TrimPrefix(rest, "query."), "query parameter")
	case strings.HasPrefix(rest, "header."):
		return e.lookupFold(c.Headers, strings.TrimPrefix(rest, "header."), "request header")
	case rest == "body" || strings.HasPrefix(rest, "body#"):
		if !c.HasBody {
			return nil, extractionErrf(e, "request has no body")
		}
		return e.pointer(c.Body, strings.TrimPrefix(rest, "body"))
	default:
		return nil, extractionErrf(e, "unsupported request source %q", rest)
	}
}

func (e Expression) evalResponse(rest string, o *Outcome) (any, error) {
	if o == nil || o.TransportFailure != nil {
		return nil, extractionErrf(e, "no response recorded")
	}
	switch {
	case strings.HasPrefix(rest, "header."):
		name := strings.TrimPrefix(rest, "header.")
		v := o.Headers.Get(name)
		if v == "" {
			return nil, extractionErrf(e, "response header %q absent", name)
		}
		return v, nil
	case rest == "body" || strings.HasPrefix(rest, "body#"):
		if !o.JSONValid {
			return nil, extractionErrf(e, "response body is not valid JSON")
		}
		return e.pointer(o.JSON, strings.TrimPrefix(rest, "body"))
	default:
		return nil, extractionErrf(e, "unsupported response source %q", rest)
	}
}

func (e Expression) lookup(m map[string]any, name, what string) (any, error) {
	v, ok := m[name]
	if !ok {
		return nil, extractionErrf(e, "%s %q absent", what, name)
	}
	return v, nil
}

func (e Expression) lookupFold(m map[string]any, name, what string) (any, error) {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return nil, extractionErrf(e, "%s %q absent", what, name)
}

// pointer resolves a "#/a/0/b" fragment against a decoded JSON document. An
// empty fragment selects the whole document.
func (e Expression) pointer(doc any, frag string) (any, error) {
	if frag == "" {
		return doc, nil
	}
	ptr := strings.TrimPrefix(frag, "#")
	if ptr == "" {
		return doc, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, extractionErrf(e, "malformed JSON pointer %q", frag)
	}
	cur := doc
	for _, token := range strings.Split(ptr[1:], "/") {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[token]
			if !ok {
				return nil, extractionErrf(e, "field %q absent", token)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, extractionErrf(e, "index %q out of range", token)
			}
			cur = t[idx]
		default:
			return nil, extractionErrf(e, "cannot descend into %T at %q", cur, token)
		}
	}
	return cur, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
