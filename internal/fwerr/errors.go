// Package fwerr defines the structured error kinds emitted by the
// firmware generation pipeline and their mapping to process exit codes.
package fwerr

import (
	"errors"
	"fmt"
)

// Kind identifies a structured pipeline error.
type Kind int

const (
	// KindUnknown is the zero value; errors without a kind exit with 1.
	KindUnknown Kind = iota

	// Input / validation errors (exit 2).
	InputError
	TruncatedConfigSpace
	CapabilityCycle
	CapabilityOutOfRange
	TruncatedCapability
	BarInvalid
	MsixTableOutOfBar
	MsixPbaOutOfBar
	MsixOverlap
	ProfileSchemaError
	ContextInvalid

	// Extraction errors (exit 3).
	DeviceNotFound
	PermissionDenied
	IoError

	// Codegen errors.
	TemplateRenderError
	CodegenInconsistency

	// Infrastructure.
	CacheFetchError
)

// Exit codes per command contract.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitValidation    = 2
	ExitExtraction    = 3
	ExitInconsistency = 4
)

var kindNames = map[Kind]string{
	InputError:           "InputError",
	TruncatedConfigSpace: "TruncatedConfigSpace",
	CapabilityCycle:      "CapabilityCycle",
	CapabilityOutOfRange: "CapabilityOutOfRange",
	TruncatedCapability:  "TruncatedCapability",
	BarInvalid:           "BarInvalid",
	MsixTableOutOfBar:    "MsixTableOutOfBar",
	MsixPbaOutOfBar:      "MsixPbaOutOfBar",
	MsixOverlap:          "MsixOverlap",
	ProfileSchemaError:   "ProfileSchemaError",
	ContextInvalid:       "ContextInvalid",
	DeviceNotFound:       "DeviceNotFound",
	PermissionDenied:     "PermissionDenied",
	IoError:              "IoError",
	TemplateRenderError:  "TemplateRenderError",
	CodegenInconsistency: "CodegenInconsistency",
	CacheFetchError:      "CacheFetchError",
}

// String returns the canonical kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is a structured pipeline error. Offset and Key carry the offending
// config-space offset or render-context key when applicable.
type Error struct {
	Kind   Kind
	Msg    string
	Offset int    // config-space byte offset, -1 when not applicable
	Key    string // render-context key, "" when not applicable
	Err    error  // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Offset >= 0 {
		s += fmt.Sprintf(" (offset 0x%x)", e.Offset)
	}
	if e.Key != "" {
		s += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a structured error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// Wrap creates a structured error wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1, Err: err}
}

// AtOffset creates a structured error anchored to a config-space offset.
func AtOffset(kind Kind, offset int, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: offset}
}

// AtKey creates a structured error anchored to a render-context key.
func AtKey(kind Kind, key string, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1, Key: key}
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain contains the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case InputError, TruncatedConfigSpace, CapabilityCycle, CapabilityOutOfRange,
		TruncatedCapability, BarInvalid, MsixTableOutOfBar, MsixPbaOutOfBar,
		MsixOverlap, ProfileSchemaError, ContextInvalid:
		return ExitValidation
	case DeviceNotFound, PermissionDenied, IoError:
		return ExitExtraction
	case CodegenInconsistency:
		return ExitInconsistency
	default:
		return ExitFailure
	}
}
