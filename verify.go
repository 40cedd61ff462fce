package josh

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

// FilePatchError names a file that does not round trip through the filter.
type FilePatchError struct {
	FromFile string
	ToFile   string
}

func (e *FilePatchError) ErrorFiles() []string {
	if e == nil {
		return nil
	}
	switch {
	case e.FromFile != "" && e.ToFile != "" && e.FromFile != e.ToFile:
		return []string{e.FromFile, e.ToFile}
	case e.FromFile != "":
		return []string{e.FromFile}
	case e.ToFile != "":
		return []string{e.ToFile}
	default:
		return nil
	}
}

func (e *FilePatchError) Error() string {
	errfs := make([]string, 0, 2)
	switch {
	case e.FromFile == "":
		errfs = append(errfs, fmt.Sprintf("unexpected file: %s", e.ToFile))
	case e.ToFile == "":
		errfs = append(errfs, fmt.Sprintf("missing file: %s", e.FromFile))
	default:
		errfs = append(errfs, fmt.Sprintf("changed file: %s", e.FromFile))
	}

	return strings.Join(errfs, "|")
}

// FilePatchCheckResult contains the result from [CheckUnapply].
type FilePatchCheckResult struct {
	Errors []*FilePatchError
}

func (f *FilePatchCheckResult) ErrorSlice() []error {
	if f == nil || len(f.Errors) == 0 {
		return nil
	}

	errs := make([]error, 0, len(f.Errors))

	for _, e := range f.Errors {
		errs = append(errs, e)
	}

	return errs
}

func (f *FilePatchCheckResult) ToError() error {
	errs := f.ErrorSlice()
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrNotReversible, errors.Join(errs...))
}

// CheckUnapply applies f to the reconstructed tree and reports every file that
// differs from the pushed tree.
func CheckUnapply(tx *cache.Transaction, f filter.Filter, pushed, reconstructed plumbing.Hash) (*FilePatchCheckResult, error) {
	r := &FilePatchCheckResult{}

	mapped, err := ApplyTree(tx, f, reconstructed)
	if err != nil {
		return nil, err
	}
	if mapped == pushed {
		return r, nil
	}

	trees := tx.Trees()
	want, err := trees.Files(pushed)
	if err != nil {
		return nil, err
	}
	got, err := trees.Files(mapped)
	if err != nil {
		return nil, err
	}

	for _, p := range sortedPaths(want, got) {
		w, inwant := want[p]
		g, ingot := got[p]
		switch {
		case !ingot:
			r.Errors = append(r.Errors, &FilePatchError{FromFile: p})
		case !inwant:
			r.Errors = append(r.Errors, &FilePatchError{ToFile: p})
		case w.Hash != g.Hash || w.Mode != g.Mode:
			r.Errors = append(r.Errors, &FilePatchError{FromFile: p, ToFile: p})
		}
	}

	return r, nil
}

func sortedPaths(files ...map[string]object.TreeEntry) []string {
	seen := make(map[string]empty)
	for _, m := range files {
		for p := range m {
			seen[p] = empty{}
		}
	}
	r := make([]string, 0, len(seen))
	for p := range seen {
		r = append(r, p)
	}
	sort.Strings(r)
	return r
}
