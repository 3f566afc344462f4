package core

import (
	"errors"
	"fmt"

	"github.com/peternagy/mongostate/internal/types"
)

// =============================================================================
// Failure Classification
// =============================================================================

// Kind classifies a detection failure.
type Kind string

const (
	// KindSoftUnavailable covers optional probes that could not run (config file,
	// service manager, detailed replica status, version). Never fatal.
	KindSoftUnavailable Kind = "soft_unavailable"
	// KindNotRunning means no candidate host answered, or the port answered but
	// mongod did not. Fatal only in strict mode.
	KindNotRunning Kind = "not_running"
	// KindAuthRequired means authorization is enabled and no credentials were
	// supplied. Fatal only in strict mode.
	KindAuthRequired Kind = "auth_required"
	// KindAuthInvalid means supplied credentials were rejected.
	KindAuthInvalid Kind = "auth_invalid"
	// KindUnexpectedServer is any command failure that is not an authorization rejection.
	KindUnexpectedServer Kind = "unexpected_server_error"
)

// DetectionError carries a classified failure and the stage it happened in.
type DetectionError struct {
	Kind  Kind
	Stage types.Stage
	Msg   string
	Err   error
}

func (e *DetectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the kind aborts the pipeline on its own.
// NotRunning and AuthRequired become fatal only when strict mode raises them.
func (e *DetectionError) Fatal() bool {
	switch e.Kind {
	case KindAuthInvalid, KindUnexpectedServer:
		return true
	default:
		return false
	}
}

// NewError builds a DetectionError.
func NewError(kind Kind, stage types.Stage, msg string, err error) *DetectionError {
	return &DetectionError{Kind: kind, Stage: stage, Msg: msg, Err: err}
}

// KindOf returns the classification of err, or "" when err is not a DetectionError.
func KindOf(err error) Kind {
	var de *DetectionError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// =============================================================================
// Custom Error Types
// =============================================================================

// InvalidOptionError indicates an invocation option failed validation.
type InvalidOptionError struct {
	Option string
	Reason string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid option %s: %s", e.Option, e.Reason)
}
