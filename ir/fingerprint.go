package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Fingerprinter produces deterministic hex fingerprints for IR nodes.
// Fingerprints key caches and failure deduplication, so two structurally
// identical nodes must always hash the same regardless of pointer identity.
type Fingerprinter struct {
	mu    sync.RWMutex
	cache map[*Node]string
}

// NewFingerprinter creates a fingerprinter with an empty cache.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{cache: make(map[*Node]string, 256)}
}

// Fingerprint returns the sha256 hex fingerprint of a node.
// Results are cached per node pointer; the IR is immutable so the cache
// never goes stale.
func (fp *Fingerprinter) Fingerprint(n *Node) string {
	if n == nil {
		return "bottom"
	}
	fp.mu.RLock()
	if sum, ok := fp.cache[n]; ok {
		fp.mu.RUnlock()
		return sum
	}
	fp.mu.RUnlock()

	var buf bytes.Buffer
	encodeNode(n, &buf)
	sum := sha256.Sum256(buf.Bytes())
	hex := fmt.Sprintf("%x", sum[:])

	fp.mu.Lock()
	fp.cache[n] = hex
	fp.mu.Unlock()
	return hex
}

// encodeNode writes a canonical representation: fixed field order, sorted
// properties, deduped sorted union branches. The IR has no live cycles
// (references are cut off during resolution) so plain recursion terminates.
func encodeNode(n *Node, buf *bytes.Buffer) {
	if n == nil {
		buf.WriteString("!")
		return
	}
	buf.WriteString(n.Kind.String())
	if n.Nullable {
		buf.WriteString("?")
	}
	if n.Kind == KindRecursiveCutoff {
		buf.WriteString("<" + n.Ref + ">")
		return
	}
	if n.Min != nil {
		field(buf, "min", formatFloat(*n.Min))
		if n.ExclMin {
			buf.WriteString("x")
		}
	}
	if n.Max != nil {
		field(buf, "max", formatFloat(*n.Max))
		if n.ExclMax {
			buf.WriteString("x")
		}
	}
	if n.MultipleOf != nil {
		field(buf, "mul", formatFloat(*n.MultipleOf))
	}
	if n.MinLength != nil {
		field(buf, "minlen", strconv.Itoa(*n.MinLength))
	}
	if n.MaxLength != nil {
		field(buf, "maxlen", strconv.Itoa(*n.MaxLength))
	}
	if n.Pattern != "" {
		field(buf, "pat", strconv.Quote(n.Pattern))
	}
	if n.Format != "" {
		field(buf, "fmt", n.Format)
	}
	if n.MinItems != nil {
		field(buf, "mini", strconv.Itoa(*n.MinItems))
	}
	if n.MaxItems != nil {
		field(buf, "maxi", strconv.Itoa(*n.MaxItems))
	}
	if n.UniqueItems {
		buf.WriteString(",uniq")
	}
	if n.Items != nil {
		buf.WriteString(",items[")
		encodeNode(n.Items, buf)
		buf.WriteString("]")
	}
	if len(n.Properties) > 0 {
		props := make([]Property, len(n.Properties))
		copy(props, n.Properties)
		sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
		buf.WriteString(",props{")
		for i, p := range props {
			if i > 0 {
				buf.WriteByte(';')
			}
			buf.WriteString(strconv.Quote(p.Name))
			if p.Required {
				buf.WriteByte('!')
			}
			buf.WriteByte(':')
			encodeNode(p.Node, buf)
		}
		buf.WriteString("}")
	}
	switch n.Additional {
	case AdditionalForbid:
		buf.WriteString(",noadd")
	case AdditionalSchema:
		buf.WriteString(",add[")
		encodeNode(n.AdditionalNode, buf)
		buf.WriteString("]")
	}
	if len(n.Branches) > 0 {
		// Branch order is not semantic; dedup and sort for stability.
		encoded := make([]string, 0, len(n.Branches))
		seen := map[string]bool{}
		for _, b := range n.Branches {
			var bb bytes.Buffer
			encodeNode(b, &bb)
			s := bb.String()
			if !seen[s] {
				seen[s] = true
				encoded = append(encoded, s)
			}
		}
		sort.Strings(encoded)
		buf.WriteString(",union(")
		for i, s := range encoded {
			if i > 0 {
				buf.WriteByte('|')
			}
			buf.WriteString(s)
		}
		buf.WriteString(")")
	}
	if len(n.Enum) > 0 {
		values := make([]string, 0, len(n.Enum))
		for _, v := range n.Enum {
			values = append(values, CanonicalJSON(v))
		}
		sort.Strings(values)
		buf.WriteString(",enum[")
		for i, v := range values {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(v)
		}
		buf.WriteString("]")
	}
	if n.HasConst {
		field(buf, "const", CanonicalJSON(n.Const))
	}
}

func field(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(',')
	buf.WriteString(name)
	buf.WriteByte('=')
	buf.WriteString(value)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CanonicalJSON renders a JSON-like value with sorted object keys, so equal
// values always produce equal strings. Used for enum hashing and failure
// fingerprints.
func CanonicalJSON(v any) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			buf.WriteString(fmt.Sprintf("%q", fmt.Sprint(v)))
			return
		}
		buf.Write(enc)
	}
}
