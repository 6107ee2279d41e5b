// Package model defines the executable view of an API description: operations
// with typed parameters, declared responses, the link graph connecting them,
// and the cases, sequences and outcomes produced while exercising them.
package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apiprobe/apiprobe/ir"
)

// Location is where a parameter is carried on the wire.
type Location string

const (
	LocationPath   Location = "path"
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationBody   Location = "body"
)

// Parameter is one named input of an operation.
type Parameter struct {
	Name     string
	Location Location
	Node     *ir.Node
	Required bool
}

// BodySpec describes an operation's request body.
type BodySpec struct {
	Node        *ir.Node
	ContentType string
	Required    bool
}

// HeaderSpec is one declared response header.
type HeaderSpec struct {
	Node     *ir.Node
	Required bool
}

// ResponseSpec is one declared response of an operation.
type ResponseSpec struct {
	Status      StatusRange
	Node        *ir.Node
	ContentType string
	Headers     map[string]HeaderSpec
}

// Operation is one path+method pair from the loaded schema. Operations are
// immutable after load; everything downstream holds them by pointer.
type Operation struct {
	// ID is the operationId when declared, otherwise "METHOD path".
	ID         string
	Method     string
	Path       string
	Parameters []Parameter
	Body       *BodySpec
	Responses  []ResponseSpec
	Labels     []string
}

func (op *Operation) String() string {
	return op.Method + " " + op.Path
}

// Parameter returns the parameter with the given location and name, or nil.
func (op *Operation) Parameter(loc Location, name string) *Parameter {
	for i := range op.Parameters {
		p := &op.Parameters[i]
		if p.Location == loc && p.Name == name {
			return p
		}
	}
	return nil
}

// ResponseFor resolves the declared response for a status code. Exact matches
// win over class wildcards, wildcards win over default. Returns nil when the
// status is undeclared.
func (op *Operation) ResponseFor(status int) *ResponseSpec {
	var wildcard, fallback *ResponseSpec
	for i := range op.Responses {
		r := &op.Responses[i]
		switch {
		case r.Status.Exact == status:
			return r
		case r.Status.Class > 0 && r.Status.Class == status/100:
			wildcard = r
		case r.Status.Default:
			fallback = r
		}
	}
	if wildcard != nil {
		return wildcard
	}
	return fallback
}

// DeclaresStatus reports whether any declared response covers the code.
func (op *Operation) DeclaresStatus(status int) bool {
	return op.ResponseFor(status) != nil
}

// StatusRange matches response status codes: an exact code, a class wildcard
// such as 2XX, or the catch-all default.
type StatusRange struct {
	Exact   int
	Class   int
	Default bool
}

// ParseStatusRange accepts "200", "2XX" (case-insensitive) or "default".
func ParseStatusRange(s string) (StatusRange, error) {
	if strings.EqualFold(s, "default") {
		return StatusRange{Default: true}, nil
	}
	if len(s) == 3 && strings.EqualFold(s[1:], "xx") {
		class := int(s[0] - '0')
		if class < 1 || class > 5 {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{Class: class}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return StatusRange{}, fmt.Errorf("invalid status range %q", s)
	}
	return StatusRange{Exact: code}, nil
}

// Matches reports whether the range covers the given status code.
func (r StatusRange) Matches(status int) bool {
	switch {
	case r.Exact > 0:
		return r.Exact == status
	case r.Class > 0:
		return r.Class == status/100
	default:
		return r.Default
	}
}

func (r StatusRange) String() string {
	switch {
	case r.Exact > 0:
		return strconv.Itoa(r.Exact)
	case r.Class > 0:
		return strconv.Itoa(r.Class) + "XX"
	default:
		return "default"
	}
}
