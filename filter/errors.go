package filter

import (
	"errors"
	"fmt"
)

var (
	// ErrNonInvertible is returned by [Invert] for filters without a structural inverse.
	ErrNonInvertible = errors.New("filter is not invertible")
	// ErrOptimizeDiverged is logged when the rewrite rules fail to converge.
	ErrOptimizeDiverged = errors.New("filter optimization did not converge")
)

// ParseError is returned for malformed filter text.
// Msg is meant to be shown to the person who typed the filter.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Pos >= len(e.Input) {
		return fmt.Sprintf("invalid filter %q: %s", e.Input, e.Msg)
	}
	return fmt.Sprintf("invalid filter %q at %q: %s", e.Input, e.Input[e.Pos:], e.Msg)
}

func nonInvertible(f Filter) error {
	return fmt.Errorf("%w: %s", ErrNonInvertible, Spec(f))
}
