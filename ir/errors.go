package ir

import "fmt"

// SchemaError reports a malformed or unresolvable schema fragment.
// It is fatal for the affected operation only; other operations continue.
type SchemaError struct {
	Path   string // JSON-pointer-ish location inside the fragment
	Ref    string // reference being resolved when the error occurred, if any
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "schema error"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Ref != "" {
		msg += fmt.Sprintf(" (ref %q)", e.Ref)
	}
	return msg + ": " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }

func schemaErrorf(path, format string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// UnsatisfiableSchemaError reports that a schema admits no value at all,
// e.g. minimum > maximum. Detected statically during resolution where
// possible so generation never spins trying to satisfy the impossible.
type UnsatisfiableSchemaError struct {
	Path   string
	Reason string
}

func (e *UnsatisfiableSchemaError) Error() string {
	msg := "unsatisfiable schema"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	return msg + ": " + e.Reason
}

func unsatisfiablef(path, format string, args ...any) *UnsatisfiableSchemaError {
	return &UnsatisfiableSchemaError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
