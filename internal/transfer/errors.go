package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies why a transfer failed. Every failure is terminal.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidSource means the source URL could not be parsed.
	KindInvalidSource
	// KindAuthenticationUnavailable means the token provider yielded no token.
	KindAuthenticationUnavailable
	// KindUnknownContentLength means the size descriptor header was missing or unparsable.
	KindUnknownContentLength
	// KindTransport wraps network-layer failures, including unexpected statuses.
	KindTransport
	// KindSinkCreationFailed means the working file or its inline filter could not be set up.
	KindSinkCreationFailed
	// KindSinkWriteFailed means a local write failed mid-stream.
	KindSinkWriteFailed
	// KindInvalidContentReference means the secure content reference is malformed.
	KindInvalidContentReference
	// KindDecryptionFailed means the content did not decrypt, inline or post-hoc.
	KindDecryptionFailed
	// KindMissingContentReference means post-hoc decryption had no reference to use.
	KindMissingContentReference
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown",
	KindInvalidSource:             "invalid_source",
	KindAuthenticationUnavailable: "authentication_unavailable",
	KindUnknownContentLength:      "unknown_content_length",
	KindTransport:                 "transport",
	KindSinkCreationFailed:        "sink_creation_failed",
	KindSinkWriteFailed:           "sink_write_failed",
	KindInvalidContentReference:   "invalid_content_reference",
	KindDecryptionFailed:          "decryption_failed",
	KindMissingContentReference:   "missing_content_reference",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the failure outcome of a transfer.
type Error struct {
	Kind       Kind
	Op         string // the step that failed (e.g. "request", "open_sink", "decrypt")
	StatusCode int    // HTTP status code, if applicable (0 otherwise)
	Err        error  // Underlying error, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Op == "" && t.StatusCode == 0 && t.Err == nil && t.Kind == e.Kind
}

// ErrorKind reports the kind as a bounded label for metrics.
func (e *Error) ErrorKind() string {
	return e.Kind.String()
}

var (
	ErrInvalidSource             = &Error{Kind: KindInvalidSource}
	ErrAuthenticationUnavailable = &Error{Kind: KindAuthenticationUnavailable}
	ErrUnknownContentLength      = &Error{Kind: KindUnknownContentLength}
	ErrTransport                 = &Error{Kind: KindTransport}
	ErrSinkCreationFailed        = &Error{Kind: KindSinkCreationFailed}
	ErrSinkWriteFailed           = &Error{Kind: KindSinkWriteFailed}
	ErrInvalidContentReference   = &Error{Kind: KindInvalidContentReference}
	ErrDecryptionFailed          = &Error{Kind: KindDecryptionFailed}
	ErrMissingContentReference   = &Error{Kind: KindMissingContentReference}
)

// ErrWorkingPathBusy is wrapped by a sink creation failure when another
// transfer of this coordinator already owns the working path.
var ErrWorkingPathBusy = errors.New("working path is in use by another transfer")

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
