// Package toolerr defines the closed set of failures a tool can return to the
// calling agent, and normalizes transport and provider failures into it.
package toolerr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the category of a tool failure.
type Kind string

const (
	// KindNotInitialized is returned when the configuration required by the tool is missing.
	KindNotInitialized Kind = "not_initialized"
	// KindValidation is returned when the input failed a local check.
	KindValidation Kind = "validation_error"
	// KindAuth is returned when a downstream credential was rejected.
	KindAuth Kind = "auth_error"
	// KindNotFound is returned when a downstream resource or endpoint is absent.
	KindNotFound Kind = "not_found"
	// KindUpstream is returned on a downstream server fault. Callers may retry.
	KindUpstream Kind = "upstream_error"
	// KindBadRequest is returned when the downstream rejects the request content.
	KindBadRequest Kind = "bad_request"
	// KindNetwork is returned on transport failures: timeout, refused connection, DNS.
	KindNetwork Kind = "network_error"
	// KindUnexpected is returned for anything not classified above.
	KindUnexpected Kind = "unexpected_error"
)

// Kinds lists every Kind, in taxonomy order.
var Kinds = []Kind{
	KindNotInitialized,
	KindValidation,
	KindAuth,
	KindNotFound,
	KindUpstream,
	KindBadRequest,
	KindNetwork,
	KindUnexpected,
}

// Stage identifies which downstream call of a multi-step tool failed.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageIndexQuery Stage = "index_query"
)

// Error is the value returned to the caller in place of a success payload.
type Error struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	// Tool is the name of the tool that produced the error.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`
	// Field is the offending input field, for validation errors.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	// Stage is set by tools that perform more than one downstream call.
	Stage Stage `json:"stage,omitempty" yaml:"stage,omitempty"`
	// StatusCode is the downstream HTTP status, when one was received.
	StatusCode int  `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Retryable  bool `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	// Details carries the downstream error body, when it was JSON.
	Details json.RawMessage `json:"details,omitempty" yaml:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString("[")
		b.WriteString(string(e.Stage))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the low-level failure this error was built from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// JSON returns the serialized form sent to the caller.
func (e *Error) JSON() string {
	bs, _ := json.Marshal(e)
	return string(bs)
}

// WithTool sets the tool name.
func (e *Error) WithTool(name string) *Error {
	e.Tool = name
	return e
}

// WithStage sets the stage.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithCause records the underlying failure.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:      kind,
		Message:   msg,
		Retryable: kind == KindUpstream || kind == KindNetwork,
	}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// NotInitialized returns the error for a tool whose configuration is incomplete.
func NotInitialized(tool string, missing ...string) *Error {
	msg := fmt.Sprintf("%s is not initialized", tool)
	if len(missing) > 0 {
		msg += ": missing " + strings.Join(missing, ", ")
	}
	return New(KindNotInitialized, msg).WithTool(tool)
}

// Validation returns a validation error for the given field.
func Validation(field, msg string) *Error {
	e := New(KindValidation, msg)
	e.Field = field
	return e
}

// As returns the *Error in the chain of err, if any.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or an empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if te, ok := As(err); ok {
		return te.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err is a tool error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
