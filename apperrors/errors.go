// Package apperrors classifies failures of a publishing run so the orchestrator
// can decide between retrying, recovering locally and aborting.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is the classification of a run failure.
type Kind string

const (
	KindTransport         Kind = "transport"
	KindRateLimited       Kind = "rate_limited"
	KindMalformedResponse Kind = "malformed_response"
	KindSchemaIncomplete  Kind = "schema_incomplete"
	KindStoreCorrupt      Kind = "store_corrupt"
	KindTemplateMissing   Kind = "template_missing"
	KindGenerationFailed  Kind = "generation_failed"
	KindQuotaExhausted    Kind = "quota_exhausted"
	KindConfig            Kind = "config"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is. Matching compares only the Kind.
var (
	ErrTransport         = &Error{Kind: KindTransport}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrSchemaIncomplete  = &Error{Kind: KindSchemaIncomplete}
	ErrStoreCorrupt      = &Error{Kind: KindStoreCorrupt}
	ErrTemplateMissing   = &Error{Kind: KindTemplateMissing}
	ErrGenerationFailed  = &Error{Kind: KindGenerationFailed}
	ErrQuotaExhausted    = &Error{Kind: KindQuotaExhausted}
	ErrConfig            = &Error{Kind: KindConfig}
)

// ContextFields carries structured context for an Error.
type ContextFields map[string]any

// Error is a classified error with optional cause and context.
type Error struct {
	Kind      Kind          `json:"kind"`
	Message   string        `json:"message"`
	Cause     error         `json:"-"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithContext adds a context field and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a non-retryable error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: isRetryableKind(kind)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Retryable: isRetryableKind(kind)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err should consume a try and be retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func isRetryableKind(kind Kind) bool {
	switch kind {
	case KindTransport, KindRateLimited, KindMalformedResponse:
		return true
	default:
		return false
	}
}

// Convenience constructors

func Transport(cause error) *Error {
	return Wrap(cause, KindTransport, "generation service request failed")
}

func RateLimited(cause error) *Error {
	return Wrap(cause, KindRateLimited, "generation service rate limit")
}

func MalformedResponse(reason string, cause error) *Error {
	return Wrap(cause, KindMalformedResponse, reason)
}

func SchemaIncomplete(missing []string) *Error {
	return New(KindSchemaIncomplete, "required fields missing").
		WithContext("missing", missing)
}

func StoreCorrupt(location string, cause error) *Error {
	return Wrap(cause, KindStoreCorrupt, "persisted history unparsable, starting empty").
		WithContext("location", location)
}

func TemplateMissing(view, name string) *Error {
	return New(KindTemplateMissing, "template not found, view skipped").
		WithContext("view", view).
		WithContext("template", name)
}

func ConfigInvalid(field, reason string) *Error {
	return New(KindConfig, "invalid configuration").
		WithContext("field", field).
		WithContext("reason", reason)
}
