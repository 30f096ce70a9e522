package llm

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes client errors for handling.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindConnectivity
	KindMissingModel
	KindAuth
	KindRateLimit
	KindBadRequest
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindMissingModel:
		return "missing model"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate limit"
	case KindBadRequest:
		return "bad request"
	case KindDecode:
		return "decode"
	default:
		return "transport"
	}
}

// Error is the domain error returned by every Client.
type Error struct {
	Kind    ErrorKind
	Message string
	// Detail is the provider-supplied explanation, if any.
	Detail string
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Kind == KindTransport {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrAuth) works for
// any auth error regardless of its message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrConnectivity = &Error{Kind: KindConnectivity}
	ErrMissingModel = &Error{Kind: KindMissingModel}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrRateLimit    = &Error{Kind: KindRateLimit}
	ErrBadRequest   = &Error{Kind: KindBadRequest}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrDecode       = &Error{Kind: KindDecode}
)

// KindOf returns the kind of err, or KindTransport if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

func connectivityError(host, model string, cause error) *Error {
	return &Error{
		Kind: KindConnectivity,
		Message: fmt.Sprintf("Cannot connect to Ollama at %s.\n"+
			"Make sure Ollama is running: ollama serve\n"+
			"And the model is installed: ollama pull %s", host, model),
		Cause: cause,
	}
}

func missingModelError(model string) *Error {
	return &Error{
		Kind: KindMissingModel,
		Message: fmt.Sprintf("Model '%s' not found in Ollama.\n"+
			"Install it with: ollama pull %s", model, model),
		Status: 404,
	}
}

func authError() *Error {
	return &Error{
		Kind:    KindAuth,
		Message: "Invalid API key. Please check your DEEPSEEK_API_KEY.",
		Status:  401,
	}
}

func rateLimitError() *Error {
	return &Error{
		Kind:    KindRateLimit,
		Message: "Rate limit exceeded. Please try again later.",
		Status:  429,
	}
}

func badRequestError(detail string) *Error {
	msg := detail
	if msg == "" {
		msg = "Invalid request format"
	}
	return &Error{
		Kind:    KindBadRequest,
		Message: "Bad request: " + msg,
		Detail:  detail,
		Status:  400,
	}
}

func transportError(prefix string, status int, cause error) *Error {
	return &Error{
		Kind:    KindTransport,
		Message: prefix,
		Status:  status,
		Cause:   cause,
	}
}

func decodeError(cause error) *Error {
	return &Error{
		Kind:    KindDecode,
		Message: "read stream: " + cause.Error(),
		Cause:   cause,
	}
}
