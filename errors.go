package stampline

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
)

// Kind classifies a failure observed while serving or sending an exchange.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	// KindPrematureDisconnect means the peer closed before a full frame arrived.
	KindPrematureDisconnect
	// KindMalformedPayload means the frame is not valid JSON text.
	KindMalformedPayload
	// KindSchemaViolation means the JSON is valid but required fields are missing or mistyped.
	KindSchemaViolation
	// KindFrameTooLarge means the peer sent more than the configured maximum without a delimiter.
	KindFrameTooLarge
	// KindIdleTimeout means no complete frame arrived within the idle timeout.
	KindIdleTimeout
	// KindTransportFailure is a low-level socket error such as a reset or broken pipe.
	KindTransportFailure
	// KindResponseDeliveryFailure means an otherwise valid response could not be sent.
	KindResponseDeliveryFailure
	// KindConnectionRefused is reported by the client when nothing listens at the address.
	KindConnectionRefused
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindPrematureDisconnect:     "premature_disconnect",
	KindMalformedPayload:        "malformed_payload",
	KindSchemaViolation:         "schema_violation",
	KindFrameTooLarge:           "frame_too_large",
	KindIdleTimeout:             "idle_timeout",
	KindTransportFailure:        "transport_failure",
	KindResponseDeliveryFailure: "response_delivery_failure",
	KindConnectionRefused:       "connection_refused",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error codes carried in the "error" field of an error reply.
const (
	CodeTimeout    = "timeout"
	CodeBadRequest = "bad_request"
)

// replyCode returns the error code sent back to the peer for this kind.
// The second result is false when the peer is presumed gone and no reply is attempted.
func (k Kind) replyCode() (string, bool) {
	switch k {
	case KindIdleTimeout:
		return CodeTimeout, true
	case KindPrematureDisconnect, KindMalformedPayload, KindSchemaViolation, KindFrameTooLarge:
		return CodeBadRequest, true
	default:
		return "", false
	}
}

// Error is the error type returned by the framer, codec, handler and client.
type Error struct {
	Kind   Kind
	Detail string // human readable, safe to send to the peer
	Err    error  // underlying cause, may be nil

	// Partial holds the bytes accumulated before a premature disconnect.
	Partial []byte
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrPrematureDisconnect     = &Error{Kind: KindPrematureDisconnect}
	ErrMalformedPayload        = &Error{Kind: KindMalformedPayload}
	ErrSchemaViolation         = &Error{Kind: KindSchemaViolation}
	ErrFrameTooLarge           = &Error{Kind: KindFrameTooLarge}
	ErrIdleTimeout             = &Error{Kind: KindIdleTimeout}
	ErrTransportFailure        = &Error{Kind: KindTransportFailure}
	ErrResponseDeliveryFailure = &Error{Kind: KindResponseDeliveryFailure}
	ErrConnectionRefused       = &Error{Kind: KindConnectionRefused}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e *Error) Cause() error { return e.Err }

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// transportError classifies a raw I/O error from a connection.
// Deadline expiry becomes KindIdleTimeout, everything else KindTransportFailure.
func transportError(op string, err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	if isTimeout(err) {
		return newError(KindIdleTimeout, "", errors.Wrap(err, op))
	}
	return newError(KindTransportFailure, "", errors.Wrap(err, op))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
