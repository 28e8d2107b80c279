package resolve

import "fmt"

// Kind classifies a resolve failure.
type Kind string

// Failure kinds.
const (
	KindMalformedManifest Kind = "MalformedManifest"
	KindNotFound          Kind = "NotFound"
	KindLookupFailed      Kind = "LookupFailed"
	KindTransferFailed    Kind = "TransferFailed"
)

// Sentinels for errors.Is.
var (
	ErrMalformedManifest = &Error{Kind: KindMalformedManifest}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrLookupFailed      = &Error{Kind: KindLookupFailed}
	ErrTransferFailed    = &Error{Kind: KindTransferFailed}
)

// Error is the only error type ResolveAndFetch returns.
type Error struct {
	Kind   Kind
	Unit   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Unit != "" {
		msg = fmt.Sprintf("resolving %s: %s", e.Unit, e.Kind)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
