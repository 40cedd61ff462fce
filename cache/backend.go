package cache

import (
	"errors"
	"io"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub001/filter"
)

// Version namespaces the persistent layouts. Bumping it invalidates all stored results.
const Version = "v1"

// Backend persists filter results.
//
// Read reports found=false for mappings it does not hold. A found result may
// still name an object that is no longer in the store, the [Transaction]
// checks that before trusting it.
type Backend interface {
	Read(f filter.Filter, from plumbing.Hash) (to plumbing.Hash, found bool, err error)
	Write(f filter.Filter, from, to plumbing.Hash) error
}

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush() error
}

// Stack tries its backends in order. Writes go to every backend.
type Stack struct {
	backends []Backend
}

var _ Backend = (*Stack)(nil)

func NewStack(backends ...Backend) *Stack {
	return &Stack{backends: backends}
}

// Read returns the result of the first backend holding one. A failing
// backend is logged and skipped; the error is only returned if no later
// backend has the result.
func (s *Stack) Read(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool, error) {
	var errs []error
readloop:
	for _, b := range s.backends {
		to, found, err := b.Read(f, from)
		switch {
		case err != nil:
			logger.Warn("cache backend read failed", "err", err, "filter", f.ID(), "from", from)
			errs = append(errs, err)
			continue readloop
		case found:
			return to, true, nil
		}
	}
	return plumbing.ZeroHash, false, errors.Join(errs...)
}

func (s *Stack) Write(f filter.Filter, from, to plumbing.Hash) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Write(f, from, to); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all buffering backends. Failures are logged and do not stop the
// other backends from flushing.
func (s *Stack) Flush() error {
	var errs []error
	for _, b := range s.backends {
		if fl, ok := b.(Flusher); ok {
			if err := fl.Flush(); err != nil {
				logger.Warn("failed to flush cache backend", "err", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes the backends. Losing buffered cache writes only
// costs recomputation, so flush failures are logged but not returned.
func (s *Stack) Close() error {
	_ = s.Flush()

	var errs []error
	for _, b := range s.backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of backends in the stack.
func (s *Stack) Len() int {
	return len(s.backends)
}
