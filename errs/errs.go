// Package errs provides structured error types shared across the DCAFlow engine.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an engine error category.
type Code string

const (
	// CodeNotAuthorized indicates the caller lacks rights or the system is paused.
	CodeNotAuthorized Code = "not_authorized"
	// CodeNotFound indicates a missing strategy or resource.
	CodeNotFound Code = "not_found"
	// CodeInsufficientFunds indicates a balance too small for the requested operation.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeInvalid indicates a parameter outside its permitted bounds.
	CodeInvalid Code = "invalid_request"
	// CodeStateConflict indicates an operation issued against the wrong strategy state.
	CodeStateConflict Code = "state_conflict"
	// CodeTooEarly indicates an execution attempted before its scheduled tick.
	CodeTooEarly Code = "too_early"
	// CodeUnsupported indicates an asset or trading pair that is not registered.
	CodeUnsupported Code = "unsupported"
	// CodeOracleUnavailable indicates a missing price quote.
	CodeOracleUnavailable Code = "oracle_unavailable"
	// CodeSlippageExceeded indicates swap output below the acceptable minimum.
	CodeSlippageExceeded Code = "slippage_exceeded"
	// CodeUnavailable indicates a temporarily unavailable collaborator or subsystem.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the engine.
type E struct {
	Scope    string
	Code     Code
	Message  string
	Strategy uint64
	Owner    string
	Asset    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:    strings.TrimSpace(scope),
		Code:     code,
		Message:  "",
		Strategy: 0,
		Owner:    "",
		Asset:    "",
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithStrategy records the strategy identifier the failure relates to.
func WithStrategy(id uint64) Option {
	return func(e *E) {
		e.Strategy = id
	}
}

// WithOwner records the principal the failure relates to.
func WithOwner(owner string) Option {
	trimmed := strings.TrimSpace(owner)
	return func(e *E) {
		e.Owner = trimmed
	}
}

// WithAsset records the asset identifier the failure relates to.
func WithAsset(asset string) Option {
	trimmed := strings.TrimSpace(asset)
	return func(e *E) {
		e.Asset = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Strategy > 0 {
		parts = append(parts, "strategy="+strconv.FormatUint(e.Strategy, 10))
	}
	if e.Owner != "" {
		parts = append(parts, "owner="+strconv.Quote(e.Owner))
	}
	if e.Asset != "" {
		parts = append(parts, "asset="+strconv.Quote(e.Asset))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the engine error code from err, or empty string when err is
// not an engine error.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// Is reports whether err carries the given engine error code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
