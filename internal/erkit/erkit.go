// Package erkit defines the closed set of error kinds the engine surfaces
// to its callers (spec §7). Components return these as ordinary error
// values — never panics or exceptions — so the coordinator and CLI can
// branch on kind without string matching.
package erkit

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the engine's public API promises to use.
type Kind string

const (
	// KindConfig marks malformed configuration, fatal before any work starts.
	KindConfig Kind = "config_error"
	// KindSetup marks a failed index/view creation.
	KindSetup Kind = "setup_error"
	// KindNotFound marks a missing collection, view, or record.
	KindNotFound Kind = "not_found"
	// KindBackend marks a failed store round-trip.
	KindBackend Kind = "backend_error"
	// KindValidation marks a structural invariant violation on one item;
	// the item is dropped and the run continues.
	KindValidation Kind = "validation_error"
	// KindCancelled marks an explicit cancellation, not a true error.
	KindCancelled Kind = "cancelled"
)

// Error is a typed error carrying one of the Kind values above.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a new Error from a format string, like fmt.Errorf.
func Newf(kind Kind, op, format string, a ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// WithContext attaches structured context (e.g. collection, record id) to
// an Error for logging, returning a derived copy.
func (e *Error) WithContext(kv ...any) *Error {
	ctx := make(map[string]any, len(e.Context)+len(kv)/2)
	for k, v := range e.Context {
		ctx[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx[key] = kv[i+1]
	}
	return &Error{Kind: e.Kind, Op: e.Op, Err: e.Err, Context: ctx}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
