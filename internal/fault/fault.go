// Package fault defines the closed error taxonomy shared by the asset
// preloader, the progressive loader and the context recovery controller.
package fault

import (
	"errors"
	"fmt"
)

// Kind is one of a closed set of failure kinds.
type Kind string

const (
	ChecksumMismatch     Kind = "ChecksumMismatch"
	BrokenChain          Kind = "BrokenChain"
	CycleDetected        Kind = "CycleDetected"
	UnsupportedFormat    Kind = "UnsupportedFormat"
	NetworkError         Kind = "NetworkError"
	Timeout              Kind = "Timeout"
	InvalidRange         Kind = "InvalidRange"
	ContextLossExhausted Kind = "ContextLossExhausted"
)

// Kinds lists every kind.
var Kinds = []Kind{
	ChecksumMismatch, BrokenChain, CycleDetected, UnsupportedFormat,
	NetworkError, Timeout, InvalidRange, ContextLossExhausted,
}

// Error is a typed outcome: a kind, the model it concerns (if any), a
// human-readable detail and an optional cause.
type Error struct {
	Kind    Kind
	ModelID string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.ModelID != "" {
		msg += " (" + e.ModelID + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the kind cannot be retried by this core.
func (k Kind) Fatal() bool { return k == ContextLossExhausted }

// New builds an *Error.
func New(kind Kind, modelID, detail string) *Error {
	return &Error{Kind: kind, ModelID: modelID, Detail: detail}
}

// Newf builds an *Error with a formatted detail.
func Newf(kind Kind, modelID, format string, args ...any) *Error {
	return &Error{Kind: kind, ModelID: modelID, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around cause.
func Wrap(kind Kind, modelID string, cause error) *Error {
	return &Error{Kind: kind, ModelID: modelID, Err: cause}
}

// KindOf returns the kind carried by err, or "" when err has none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func IsChecksumMismatch(err error) bool     { return Is(err, ChecksumMismatch) }
func IsBrokenChain(err error) bool          { return Is(err, BrokenChain) }
func IsCycleDetected(err error) bool        { return Is(err, CycleDetected) }
func IsUnsupportedFormat(err error) bool    { return Is(err, UnsupportedFormat) }
func IsNetworkError(err error) bool         { return Is(err, NetworkError) }
func IsTimeout(err error) bool              { return Is(err, Timeout) }
func IsInvalidRange(err error) bool         { return Is(err, InvalidRange) }
func IsContextLossExhausted(err error) bool { return Is(err, ContextLossExhausted) }
