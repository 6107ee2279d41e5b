package gen

import (
	"math/rand/v2"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/apiprobe/apiprobe/ir"
)

// patternSample synthesizes a string matching the pattern by walking the
// compiled regexp AST, then rejection-checks length bounds. regexp/syntax is
// used directly: none of the surveyed codebases carry a regex-generation
// library and the stdlib AST is sufficient for the POSIX-ish patterns that
// appear in API schemas.
func patternSample(rng *rand.Rand, pattern string, minLen, maxLen *int, maxAttempts int) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", &ir.SchemaError{Reason: "invalid pattern " + pattern, Err: err}
	}
	re = re.Simplify()
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return "", &ir.SchemaError{Reason: "invalid pattern " + pattern, Err: err}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var b strings.Builder
		synthesize(rng, re, &b, attempt == 0)
		s := b.String()
		if minLen != nil && len(s) < *minLen {
			continue
		}
		if maxLen != nil && len(s) > *maxLen {
			continue
		}
		// Anchored patterns may still reject a synthesized candidate when
		// the AST walk took a branch the anchors rule out.
		if compiled.MatchString(s) {
			return s, nil
		}
	}
	return "", &ir.UnsatisfiableSchemaError{
		Reason: "no string satisfying pattern " + pattern + " within length bounds",
	}
}

// patternMinimal returns a deterministic short match for coverage mode.
func patternMinimal(pattern string, minLen, maxLen *int) (string, bool) {
	src := rand.New(rand.NewPCG(1, 1))
	s, err := patternSample(src, pattern, minLen, maxLen, 50)
	return s, err == nil
}

// patternMiss returns a string that does not match the pattern.
func patternMiss(rng *rand.Rand, pattern string, minLen, maxLen *int, maxAttempts int) (string, bool) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return "", false
	}
	lo := 0
	if minLen != nil {
		lo = *minLen
	}
	if lo == 0 {
		lo = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s := randomWord(rng, lo)
		if maxLen != nil && len(s) > *maxLen {
			return "", false
		}
		if !compiled.MatchString(s) {
			return s, true
		}
	}
	return "", false
}

// synthesize appends one match of the AST node. minimal selects the shortest
// expansion of repetitions and alternations.
func synthesize(rng *rand.Rand, re *syntax.Regexp, b *strings.Builder, minimal bool) {
	switch re.Op {
	case syntax.OpNoMatch, syntax.OpEmptyMatch,
		syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		// No output.
	case syntax.OpLiteral:
		b.WriteString(string(re.Rune))
	case syntax.OpCharClass:
		writeClassRune(rng, re, b, minimal)
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		b.WriteByte(wordAlphabet[rng.IntN(len(wordAlphabet))])
	case syntax.OpCapture:
		synthesize(rng, re.Sub[0], b, minimal)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			synthesize(rng, sub, b, minimal)
		}
	case syntax.OpAlternate:
		idx := 0
		if !minimal {
			idx = rng.IntN(len(re.Sub))
		}
		synthesize(rng, re.Sub[idx], b, minimal)
	case syntax.OpStar:
		repeat(rng, re.Sub[0], b, 0, 3, minimal)
	case syntax.OpPlus:
		repeat(rng, re.Sub[0], b, 1, 3, minimal)
	case syntax.OpQuest:
		repeat(rng, re.Sub[0], b, 0, 1, minimal)
	case syntax.OpRepeat:
		hi := re.Max
		if hi < 0 {
			hi = re.Min + 3
		}
		repeat(rng, re.Sub[0], b, re.Min, hi, minimal)
	}
}

func repeat(rng *rand.Rand, re *syntax.Regexp, b *strings.Builder, lo, hi int, minimal bool) {
	n := lo
	if !minimal && hi > lo {
		n = lo + rng.IntN(hi-lo+1)
	}
	for i := 0; i < n; i++ {
		synthesize(rng, re, b, minimal)
	}
}

func writeClassRune(rng *rand.Rand, re *syntax.Regexp, b *strings.Builder, minimal bool) {
	// Rune is a flat list of [lo, hi] pairs.
	if len(re.Rune) == 0 {
		return
	}
	pair := 0
	if !minimal {
		pair = rng.IntN(len(re.Rune) / 2)
	}
	lo, hi := re.Rune[pair*2], re.Rune[pair*2+1]
	r := lo
	if !minimal && hi > lo {
		span := int64(hi - lo)
		if span > 64 {
			span = 64
		}
		r = lo + rune(rng.Int64N(span+1))
	}
	b.WriteRune(r)
}
