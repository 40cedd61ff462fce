package josh

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRef     = errors.New("invalid ref")
	ErrObjectNotFound = errors.New("object not found")
	ErrAmbiguousMerge = errors.New("ambiguous merge")
	ErrNotReversible  = errors.New("changes cannot be mapped back through the filter")
)

// Rejections of [UnapplyFilter]. They are reported to whoever pushed and are never resolved automatically.
var (
	ErrRejectNoFastForward = errors.New("rejecting non fast forward update")
	ErrRejectMerge         = errors.New("rejecting merge")
	ErrRejectAmendConflict = errors.New("rejecting conflicting amend")
)

// RejectError is returned by [UnapplyFilter] when a push is refused.
// Kind is one of the ErrReject* errors, which errors.Is matches against.
type RejectError struct {
	Kind   error
	Commit string
	Reason string
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s at %s", e.Kind, e.Commit)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Commit, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == e.Kind
}

func (e *RejectError) Unwrap() error {
	return e.Kind
}

// errorf wraps err with context unless it is a [RejectError], which is passed
// on untouched so that the message reaching the user stays short.
func errorf(err error, format string, a ...any) error {
	var reject *RejectError
	if errors.As(err, &reject) {
		return reject
	}
	return fmt.Errorf(format, a...)
}
