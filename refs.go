package josh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

// Ref is a named commit.
type Ref struct {
	Name plumbing.ReferenceName
	Hash plumbing.Hash
}

// RefError is the failure to filter or update a single ref.
type RefError struct {
	Name plumbing.ReferenceName
	Err  error
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Err)
}

func (e *RefError) Unwrap() error {
	return e.Err
}

// ListRefs resolves the refs of the repository whose names start with prefix.
// Symbolic refs and refs to other objects than commits are skipped.
func ListRefs(tx *cache.Transaction, prefix string) ([]Ref, error) {
	iter, err := tx.Repo().References()
	if err != nil {
		return nil, fmt.Errorf("failed to list refs: %w", err)
	}
	defer iter.Close()

	var r []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(ref.Name().String(), prefix) {
			return nil
		}
		if _, err := tx.Repo().CommitObject(ref.Hash()); err != nil {
			return nil
		}
		r = append(r, Ref{Name: ref.Name(), Hash: ref.Hash()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// FilterRefs filters the commit of every ref. Refs without filtered
// counterpart are left out of the result, and a failure on one ref does
// not stop the others.
func FilterRefs(ctx context.Context, tx *cache.Transaction, f filter.Filter, refs []Ref) ([]Ref, []*RefError) {
	var updated []Ref
	var errs []*RefError

refloop:
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			errs = append(errs, &RefError{Name: ref.Name, Err: ctx.Err()})
			break refloop
		default:
		}

		r, err := FilterCommit(ctx, tx, f, ref.Hash)
		if err != nil {
			logger.Warn("failed to filter ref", "ref", ref.Name, "commit", ref.Hash, "err", err)
			errs = append(errs, &RefError{Name: ref.Name, Err: err})
			continue refloop
		}
		if r.IsZero() {
			logger.Debug("ref has no filtered counterpart", "ref", ref.Name, "commit", ref.Hash)
			continue refloop
		}
		updated = append(updated, Ref{Name: ref.Name, Hash: r})
	}

	return updated, errs
}

// UpdateRefs writes the refs under the ref prefix of the transaction.
// A zero hash deletes the ref.
func UpdateRefs(ctx context.Context, tx *cache.Transaction, refs []Ref) error {
	s := tx.Repo().Storer
	var errs []error

	for _, ref := range refs {
		name := plumbing.ReferenceName(tx.RefPrefix() + ref.Name.String())
		if err := name.Validate(); err != nil {
			errs = append(errs, &RefError{Name: name, Err: fmt.Errorf("%w: %w", ErrInvalidRef, err)})
			continue
		}

		unlock, err := tx.LockRef(ctx, name.String())
		if err != nil {
			errs = append(errs, &RefError{Name: name, Err: err})
			continue
		}

		if ref.Hash.IsZero() {
			err = s.RemoveReference(name)
		} else {
			err = s.SetReference(plumbing.NewHashReference(name, ref.Hash))
		}
		unlock()

		if err != nil {
			errs = append(errs, &RefError{Name: name, Err: err})
			continue
		}
		logger.Debug("updated ref", "ref", name, "commit", ref.Hash)
	}

	return errors.Join(errs...)
}
