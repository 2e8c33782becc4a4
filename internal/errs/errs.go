// Package errs defines the typed error taxonomy the API layer maps to
// HTTP status codes. Every error the core can return to a caller carries
// a Kind; bare errors from internal plumbing are wrapped at the boundary
// before they cross into api.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the documented failure categories.
type Kind int

const (
	KindInternal Kind = iota
	KindAlreadyRegistered
	KindNotFound
	KindUnsupportedResolution
	KindAddressInUse
	KindTransport
	KindDecoder
	KindEncoder
	KindRendererInitFailed
	KindUpdateScene
	KindMalformedRequest
	KindQueryTimeout
)

// Error is a kind-carrying error wrapping an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode returns the machine-readable code the HTTP layer serializes
// in an error response body.
func (e *Error) ErrorCode() string {
	switch e.Kind {
	case KindAlreadyRegistered:
		return "ALREADY_REGISTERED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnsupportedResolution:
		return "UNSUPPORTED_RESOLUTION"
	case KindAddressInUse:
		return "PORT_ALREADY_IN_USE"
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindDecoder:
		return "DECODER_ERROR"
	case KindEncoder:
		return "ENCODER_ERROR"
	case KindRendererInitFailed:
		return "RENDERER_INIT_FAILED"
	case KindUpdateScene:
		return "UPDATE_SCENE_ERROR"
	case KindMalformedRequest:
		return "MALFORMED_REQUEST"
	case KindQueryTimeout:
		return "QUERY_TIMEOUT"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// HTTPStatus maps the Kind to the status code the API server writes.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAlreadyRegistered:
		return 409
	case KindNotFound:
		return 404
	case KindUnsupportedResolution, KindMalformedRequest, KindUpdateScene, KindAddressInUse:
		return 400
	case KindTransport, KindDecoder, KindEncoder, KindRendererInitFailed:
		return 502
	case KindQueryTimeout:
		return 408
	default:
		return 500
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind, unwrapping as
// needed. Mirrors the std errors.Is contract for this package's type.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func AlreadyRegistered(message string) *Error {
	return New(KindAlreadyRegistered, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func UnsupportedResolution(message string) *Error {
	return New(KindUnsupportedResolution, message)
}

func AddressInUse(message string, cause error) *Error {
	return Wrap(KindAddressInUse, message, cause)
}

func Transport(message string, cause error) *Error {
	return Wrap(KindTransport, message, cause)
}

func Decoder(message string, cause error) *Error {
	return Wrap(KindDecoder, message, cause)
}

func Encoder(message string, cause error) *Error {
	return Wrap(KindEncoder, message, cause)
}

func RendererInitFailed(message string, cause error) *Error {
	return Wrap(KindRendererInitFailed, message, cause)
}

func UpdateScene(message string) *Error {
	return New(KindUpdateScene, message)
}

func MalformedRequest(message string) *Error {
	return New(KindMalformedRequest, message)
}

func QueryTimeout(message string) *Error {
	return New(KindQueryTimeout, message)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}
