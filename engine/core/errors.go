package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the renderer core can surface.
// Callers branch on the kind, not on the message.
type ErrorKind int

const (
	// ErrKindUnknown is the zero value and never returned deliberately.
	ErrKindUnknown ErrorKind = iota
	// ErrKindUnsupported covers missing extensions, formats, present modes
	// and queue families. Fatal during construction.
	ErrKindUnsupported
	// ErrKindOutOfMemory covers device and host allocation failure.
	ErrKindOutOfMemory
	// ErrKindInvalidInput covers empty meshes, zero-area surfaces and
	// negative dimensions.
	ErrKindInvalidInput
	// ErrKindTransient covers out-of-date/suboptimal swapchains. Recovered
	// locally by a resize; never escapes the frame loop.
	ErrKindTransient
	// ErrKindBuildFailure covers failed acceleration structure builds. The
	// previously installed structure stays valid.
	ErrKindBuildFailure
	// ErrKindDeviceLost is fatal with no recovery.
	ErrKindDeviceLost
	// ErrKindShaderLoad is fatal at init, recoverable during a runtime
	// pipeline rebuild.
	ErrKindShaderLoad
	// ErrKindDeferredOp covers failed asynchronous TLAS builds. The prior
	// TLAS is retained.
	ErrKindDeferredOp
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindUnsupported:
		return "unsupported"
	case ErrKindOutOfMemory:
		return "out of memory"
	case ErrKindInvalidInput:
		return "invalid input"
	case ErrKindTransient:
		return "transient"
	case ErrKindBuildFailure:
		return "build failure"
	case ErrKindDeviceLost:
		return "device lost"
	case ErrKindShaderLoad:
		return "shader load failure"
	case ErrKindDeferredOp:
		return "deferred op failure"
	default:
		return "unknown"
	}
}

// RenderError carries a kind, the operation that failed and an optional
// wrapped cause so errors.Is/As keep working through the core.
type RenderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *RenderError) Unwrap() error { return e.Err }

// NewError builds a RenderError without a cause.
func NewError(kind ErrorKind, op string) error {
	return &RenderError{Kind: kind, Op: op}
}

// WrapError builds a RenderError around a cause. A nil cause returns nil
// so call sites can wrap unconditionally.
func WrapError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &RenderError{Kind: kind, Op: op, Err: err}
}

// Errorf builds a RenderError with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) error {
	return &RenderError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the wrap chain and reports the first RenderError kind, or
// ErrKindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrKindUnknown
}

// IsTransient reports whether the error should be swallowed by the frame
// loop and turned into a swapchain recreate.
func IsTransient(err error) bool {
	return KindOf(err) == ErrKindTransient
}
