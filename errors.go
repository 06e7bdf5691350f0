package docsync

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes failures reported through a Result.
type ErrorKind string

const (
	// KindTransport means no response was received (dial, DNS, timeout).
	KindTransport ErrorKind = "transport"

	// KindProtocol means the store answered with an unexpected status.
	KindProtocol ErrorKind = "protocol"

	// KindDecode means a payload did not have the expected shape.
	KindDecode ErrorKind = "decode"

	// KindConflict means a write was rejected because of a revision mismatch.
	KindConflict ErrorKind = "conflict"

	// KindUsage is a programming error such as settling a result twice.
	KindUsage ErrorKind = "usage"
)

const (
	// CodeTransport is the fixed code of transport and decode failures.
	CodeTransport = -1001

	// CodeBulkPartial is reported by a replication pass when some documents
	// of a bulk write were rejected.
	CodeBulkPartial = -1002

	// CodeUsage is reported for misuse of a Result.
	CodeUsage = -1003

	CodeNotFound       = http.StatusNotFound
	CodeConflict       = http.StatusConflict
	CodeAlreadyExists  = http.StatusPreconditionFailed
	CodeInternalServer = http.StatusInternalServerError
)

// ErrMalformedLocator is returned synchronously by endpoint constructors.
var ErrMalformedLocator = errors.New("malformed endpoint locator")

// Error is the failure value carried by a Result.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string

	// Field names the offending field of a decode failure.
	Field string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %d: %s (field %q)", e.Kind, e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s %d: %s", e.Kind, e.Code, e.Message)
}

// TransportError reports a request that never got a response.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Code: CodeTransport, Message: err.Error()}
}

// ProtocolError reports an unexpected status and its reason phrase.
func ProtocolError(status int, reason string) *Error {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &Error{Kind: KindProtocol, Code: status, Message: reason}
}

// ConflictError reports a rejected revision for document id.
func ConflictError(id string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: fmt.Sprintf("document update conflict: %s", id)}
}

// DecodeError reports a missing or mistyped field.
func DecodeError(field, expected string) *Error {
	return &Error{
		Kind:    KindDecode,
		Code:    CodeTransport,
		Message: fmt.Sprintf("expected %s", expected),
		Field:   field,
	}
}

// NotFoundError reports an absent store or document.
func NotFoundError(what string) *Error {
	return &Error{Kind: KindProtocol, Code: CodeNotFound, Message: fmt.Sprintf("not found: %s", what)}
}

// AsError converts err to *Error. Errors of other types become transport
// errors so they keep their text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return TransportError(err)
}

func IsConflict(err error) bool  { return hasKind(err, KindConflict) }
func IsDecode(err error) bool    { return hasKind(err, KindDecode) }
func IsTransport(err error) bool { return hasKind(err, KindTransport) }

// IsNotFound reports a protocol error with status 404.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProtocol && e.Code == CodeNotFound
}

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
