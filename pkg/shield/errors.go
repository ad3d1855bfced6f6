package shield

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when credentials do not match a known user.
// It deliberately carries no detail about which part failed.
var ErrUnauthorized = errors.New("unauthorized")

type NotFoundKind string

const (
	NotFoundMethod   NotFoundKind = "method"
	NotFoundAction   NotFoundKind = "action"
	NotFoundProvider NotFoundKind = "provider"
)

// NotFoundError reports an unknown method, action or provider ID passed to
// the registry. It is recoverable and caller-visible.
type NotFoundError struct {
	Kind     NotFoundKind
	MethodID string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.Kind == NotFoundMethod {
		return fmt.Sprintf("method %q not found", e.ID)
	}
	return fmt.Sprintf("%s %q not found in method %q", e.Kind, e.ID, e.MethodID)
}

func NewMethodNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: NotFoundMethod, ID: id}
}

func NewActionNotFound(methodID, id string) *NotFoundError {
	return &NotFoundError{Kind: NotFoundAction, MethodID: methodID, ID: id}
}

func NewProviderNotFound(methodID, id string) *NotFoundError {
	return &NotFoundError{Kind: NotFoundProvider, MethodID: methodID, ID: id}
}

// ValidationError reports malformed or semantically invalid caller or
// protocol input: a bad state parameter, a missing PKCE verifier, a
// missing email claim, a reused email. Never retried automatically.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports missing or invalid static configuration,
// including a provider of the wrong concrete type reaching a method's
// action. The latter can only happen through registry misconfiguration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RequestError wraps a network or transport failure during an external
// protocol call (token exchange, userinfo, discovery). Retry policy is
// the caller's decision.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
