package client

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/tunnelagent/pkg/messages"
)

// Kind classifies a failed API call.
type Kind int

const (
	// KindTransport covers dial, TLS, timeout, cancellation and body read failures.
	KindTransport Kind = iota + 1

	// KindParse means the body matched neither the error shape nor any
	// response shape.
	KindParse

	// KindServer is a well-formed error object from the control plane.
	KindServer

	// KindUnexpectedResponse is a valid response of the wrong variant for the
	// request that was sent.
	KindUnexpectedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	case KindServer:
		return "server"
	case KindUnexpectedResponse:
		return "unexpected"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrTransport          = errors.New("agent api: transport failure")
	ErrParse              = errors.New("agent api: unparseable response")
	ErrServer             = errors.New("agent api: server error")
	ErrUnexpectedResponse = errors.New("agent api: unexpected response")
)

var kindSentinel = map[Kind]error{
	KindTransport:          ErrTransport,
	KindParse:              ErrParse,
	KindServer:             ErrServer,
	KindUnexpectedResponse: ErrUnexpectedResponse,
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind Kind

	// Op is the request that failed.
	Op messages.RequestType

	// Code and Message are set for KindServer.
	Code    uint16
	Message string

	// Response is the unexpected value for KindUnexpectedResponse.
	Response messages.Response

	// Err is the underlying cause for KindTransport and KindParse.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("%s: server error %d: %s", e.Op, e.Code, e.Message)
	case KindUnexpectedResponse:
		got := messages.ResponseType("<nil>")
		if e.Response != nil {
			got = e.Response.ResponseType()
		}
		return fmt.Sprintf("%s: unexpected response %s, want %s", e.Op, got, e.Op.Expects())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return kindSentinel[e.Kind] == target
}

// IsNotFound reports whether err is a server error with code 404.
func IsNotFound(err error) bool {
	return ServerCode(err) == 404
}

// ServerCode returns the control-plane error code carried by err, or 0 when
// err is not a server error.
func ServerCode(err error) uint16 {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind == KindServer {
		return apiErr.Code
	}
	return 0
}

func transportError(op messages.RequestType, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func parseError(op messages.RequestType, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

func serverError(op messages.RequestType, code uint16, message string) *Error {
	return &Error{Kind: KindServer, Op: op, Code: code, Message: message}
}

func unexpectedResponse(op messages.RequestType, resp messages.Response) *Error {
	return &Error{Kind: KindUnexpectedResponse, Op: op, Response: resp}
}
