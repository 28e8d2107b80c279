package publish

import "fmt"

// Kind classifies a publish failure.
type Kind string

// Failure kinds.
const (
	KindAlreadyExists Kind = "AlreadyExists"
	KindRejected      Kind = "Rejected"
	KindTimeout       Kind = "Timeout"
	// KindRedirected means npm sent the tarball to a registry other than the
	// target, usually because of publishConfig.registry in package.json.
	KindRedirected Kind = "Redirected"
)

// Sentinels for errors.Is.
var (
	ErrAlreadyExists = &Error{Kind: KindAlreadyExists}
	ErrRejected      = &Error{Kind: KindRejected}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrRedirected    = &Error{Kind: KindRedirected}
)

// Error is the only error type Publish returns. AlreadyExists means the
// registry holds this exact version already and is success-equivalent.
type Error struct {
	Kind    Kind
	Archive string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Archive != "" {
		msg = fmt.Sprintf("publishing %s: %s", e.Archive, e.Kind)
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
