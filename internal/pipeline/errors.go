package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a coordinator operation failed
type Kind int

const (
	// KindLockTimeout means the asset lock was never acquired. Nothing was touched.
	KindLockTimeout Kind = iota + 1
	// KindStaging means the input could not be reloaded or made locally readable
	KindStaging
	// KindEncode means the encoding engine failed
	KindEncode
	// KindFinalizeIO means publishing the produced file failed. The output
	// may be left on disk but is never registered.
	KindFinalizeIO
)

func (k Kind) String() string {
	switch k {
	case KindLockTimeout:
		return "lock_timeout"
	case KindStaging:
		return "staging"
	case KindEncode:
		return "encode"
	case KindFinalizeIO:
		return "finalize_io"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels matched with errors.Is against any *Error of the same kind
var (
	ErrLockTimeout = errors.New("asset lock not acquired")
	ErrStaging     = errors.New("input staging failed")
	ErrEncode      = errors.New("encode failed")
	ErrFinalizeIO  = errors.New("finalize failed")
)

// Error is returned by every coordinator entry point
type Error struct {
	Kind      Kind
	Op        string
	AssetUUID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.AssetUUID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrLockTimeout:
		return e.Kind == KindLockTimeout
	case ErrStaging:
		return e.Kind == KindStaging
	case ErrEncode:
		return e.Kind == KindEncode
	case ErrFinalizeIO:
		return e.Kind == KindFinalizeIO
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func newError(kind Kind, op, assetUUID string, err error) error {
	// Errors from a nested step keep their original classification
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: kind, Op: op, AssetUUID: assetUUID, Err: err}
}
