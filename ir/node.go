// Package ir normalizes raw JSON-Schema-like fragments into an immutable
// internal representation with resolved references and a bounded recursion
// depth. The IR is shared read-only across concurrent generation calls.
package ir

import (
	"strconv"
	"strings"
)

// Kind tags the variant of a Node.
type Kind uint8

const (
	// KindAny matches any value (the boolean `true` schema or `{}`).
	KindAny Kind = iota
	KindNull
	KindBoolean
	KindInteger
	KindNumber
	KindString
	KindArray
	KindObject
	// KindOneOf and KindAnyOf carry their branches in Branches.
	KindOneOf
	KindAnyOf
	// KindRecursiveCutoff replaces a reference once the revisit depth is
	// exceeded. Generation treats it as the simplest value admitted by the
	// surrounding context (null, or an empty container).
	KindRecursiveCutoff
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindOneOf:
		return "oneOf"
	case KindAnyOf:
		return "anyOf"
	case KindRecursiveCutoff:
		return "recursive-cutoff"
	default:
		return "unknown"
	}
}

// AdditionalMode describes the additional-properties policy of an object node.
type AdditionalMode uint8

const (
	AdditionalAllow AdditionalMode = iota
	AdditionalForbid
	AdditionalSchema
)

// Property is one named object member. Order is preserved from the source
// fragment so enumeration stays deterministic.
type Property struct {
	Name     string
	Node     *Node
	Required bool
}

// Node is one resolved schema fragment. A Node is immutable once built;
// no generation step may mutate it.
type Node struct {
	Kind     Kind
	Nullable bool

	// Numeric constraints. Min/Max are inclusive unless the matching
	// exclusive flag is set.
	Min, Max         *float64
	ExclMin, ExclMax bool
	MultipleOf       *float64

	// String constraints.
	MinLength, MaxLength *int
	Pattern              string
	Format               string

	// Array constraints.
	Items              *Node
	MinItems, MaxItems *int
	UniqueItems        bool

	// Object constraints. Properties are sorted by name during resolution.
	Properties     []Property
	Additional     AdditionalMode
	AdditionalNode *Node

	// Union branches for KindOneOf / KindAnyOf.
	Branches []*Node

	// Value restrictions and generation seeds.
	Enum     []any
	Const    any
	HasConst bool

	// Examples seed deterministic enumeration with highest priority.
	// ExplicitExamples marks them as author-provided rather than inferred.
	Examples         []any
	ExplicitExamples bool
	Default          any
	HasDefault       bool

	// Ref records the reference this node was resolved from, for diagnostics.
	Ref string

	// Raw is the reference-resolved raw fragment this node was built from.
	// The check engine compiles it into a validator; generation never reads it.
	Raw any
}

// Property returns the named property node, or nil.
func (n *Node) Property(name string) *Node {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			return n.Properties[i].Node
		}
	}
	return nil
}

// RequiredNames returns the names of required properties in source order.
func (n *Node) RequiredNames() []string {
	var out []string
	for _, p := range n.Properties {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// OptionalNames returns the names of optional properties in source order.
func (n *Node) OptionalNames() []string {
	var out []string
	for _, p := range n.Properties {
		if !p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// String returns a compact one-line summary, for logs and error messages.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(n.Kind.String())
	switch n.Kind {
	case KindOneOf, KindAnyOf:
		b.WriteByte('(')
		b.WriteString(strconv.Itoa(len(n.Branches)))
		b.WriteByte(')')
	case KindObject:
		b.WriteByte('(')
		b.WriteString(strconv.Itoa(len(n.Properties)))
		b.WriteString(" props)")
	case KindArray:
		if n.Items != nil {
			b.WriteByte('[')
			b.WriteString(n.Items.Kind.String())
			b.WriteByte(']')
		}
	}
	if len(n.Enum) > 0 {
		b.WriteString(" enum(")
		b.WriteString(strconv.Itoa(len(n.Enum)))
		b.WriteByte(')')
	}
	if n.Nullable {
		b.WriteString(" nullable")
	}
	return b.String()
}
