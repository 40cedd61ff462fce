package josh

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

// UnapplyOptions controls how [UnapplyFilter] reconstructs commits.
type UnapplyOptions struct {
	// KeepOrphans keeps both parents of a merge that joins unrelated histories.
	// By default such a merge is reduced to its first parent.
	KeepOrphans bool
	// Reparent becomes the parent of pushed commits that have no parent.
	Reparent plumbing.Hash
	// ChangeAmends maps change ids to the upstream commit that last carried
	// them, see [ChangeAmends].
	ChangeAmends map[string]plumbing.Hash
	// Force allows updates that do not fast forward the old filtered commit.
	Force bool
	// Verify checks that every reconstructed tree filters back to the pushed tree.
	Verify bool
}

// UnapplyFilter maps the commits between oldFiltered and newFiltered back
// through f and returns the upstream commit corresponding to newFiltered.
//
// oldFiltered is the filtered commit the pusher started from and must
// correspond to originalTarget. It may be zero when pushing new history.
// Refusals are reported as [*RejectError].
func UnapplyFilter(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	originalTarget, oldFiltered, newFiltered plumbing.Hash,
	opts UnapplyOptions,
) (plumbing.Hash, error) {
	if newFiltered == oldFiltered {
		return originalTarget, nil
	}

	ctx, span := tracer.Start(ctx, "josh.UnapplyFilter", trace.WithAttributes(
		attribute.String("filter", filter.Spec(f)),
		attribute.String("original", originalTarget.String()),
		attribute.String("old", oldFiltered.String()),
		attribute.String("new", newFiltered.String()),
	))
	defer span.End()

	r, err := unapplyFilter(ctx, tx, f, originalTarget, oldFiltered, newFiltered, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unapply failed")
		return plumbing.ZeroHash, err
	}

	return r, nil
}

func unapplyFilter(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	originalTarget, oldFiltered, newFiltered plumbing.Hash,
	opts UnapplyOptions,
) (plumbing.Hash, error) {
	newCommit, err := commitObject(tx, newFiltered)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	bm := make(map[plumbing.Hash]plumbing.Hash)
	old := make(HashSet)
	if !oldFiltered.IsZero() {
		oldCommit, err := commitObject(tx, oldFiltered)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		isancestor, err := oldCommit.IsAncestor(newCommit)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !isancestor && !opts.Force {
			return plumbing.ZeroHash, &RejectError{
				Kind:   ErrRejectNoFastForward,
				Commit: newFiltered.String(),
				Reason: fmt.Sprintf("%s is not an ancestor", oldFiltered),
			}
		}
		if old, err = ancestors(ctx, oldCommit); err != nil {
			return plumbing.ZeroHash, err
		}
		bm[oldFiltered] = originalTarget
	}

	path, err := GetDFSPath(ctx, newCommit, func(h plumbing.Hash) bool {
		if _, found := old[h]; found {
			return true
		}
		_, found := tx.GetUnapply(f, h)
		return found
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}

	for i, c := range path {
		select {
		case <-ctx.Done():
			return plumbing.ZeroHash, ctx.Err()
		default:
		}

		r, err := unapplyCommit(ctx, tx, f, c, originalTarget, bm, opts)
		if err != nil {
			return plumbing.ZeroHash, errorf(err, "failed to unapply commit %d of %d (%s): %w", i, len(path), c.Hash, err)
		}
		bm[c.Hash] = r
		tx.InsertUnapply(f, c.Hash, r)

		logger.Debug("unapplied commit", "id", i, "total", len(path), "hash", c.Hash, "original", r)
	}

	if r, found := bm[newFiltered]; found {
		return r, nil
	}
	r, err := FindOriginal(ctx, tx, f, originalTarget, newFiltered, opts.ChangeAmends)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if r.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("%w: no original for %s", ErrObjectNotFound, newFiltered)
	}
	return r, nil
}

// originalParents returns the upstream commits the parents of c map to.
func originalParents(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	c *object.Commit,
	originalTarget plumbing.Hash,
	bm map[plumbing.Hash]plumbing.Hash,
	opts UnapplyOptions,
) ([]*object.Commit, error) {
	hashes := c.ParentHashes
	if len(hashes) == 2 && !opts.KeepOrphans {
		second, err := commitObject(tx, hashes[1])
		if err != nil {
			return nil, err
		}
		bases, err := c.MergeBase(second)
		if err != nil {
			return nil, err
		}
		if len(bases) == 0 {
			logger.Info("dropping unrelated history from merge", "commit", c.Hash, "parent", second.Hash)
			hashes = hashes[:1]
		}
	}

	parents := make([]*object.Commit, 0, len(hashes))
	seen := make(HashSet)
	for _, h := range hashes {
		o, found := bm[h]
		if !found {
			var err error
			if o, err = FindOriginal(ctx, tx, f, originalTarget, h, opts.ChangeAmends); err != nil {
				return nil, err
			}
		}
		if o.IsZero() {
			return nil, fmt.Errorf("%w: parent %s of %s has no upstream counterpart", ErrObjectNotFound, h, c.Hash)
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = empty{}
		p, err := commitObject(tx, o)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}

	return parents, nil
}

func unapplyCommit(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	c *object.Commit,
	originalTarget plumbing.Hash,
	bm map[plumbing.Hash]plumbing.Hash,
	opts UnapplyOptions,
) (plumbing.Hash, error) {
	parents, err := originalParents(ctx, tx, f, c, originalTarget, bm, opts)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if len(parents) == 0 && !opts.Reparent.IsZero() {
		p, err := commitObject(tx, opts.Reparent)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		parents = append(parents, p)
	}

	var t plumbing.Hash
	if len(parents) == 0 {
		if t, err = UnapplyTree(tx, f, c.TreeHash, tree.EmptyTree); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	trees := make(HashSet)
	for _, p := range parents {
		pt, err := UnapplyTree(tx, f, c.TreeHash, p.TreeHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		trees[pt] = empty{}
		t = pt
	}
	if len(trees) > 1 {
		return plumbing.ZeroHash, &RejectError{
			Kind:   ErrRejectMerge,
			Commit: c.Hash.String(),
			Reason: "the parents disagree on content outside of the filter",
		}
	}

	if t, err = mergeAmend(tx, c, t, opts.ChangeAmends); err != nil {
		return plumbing.ZeroHash, err
	}

	if opts.Verify {
		check, err := CheckUnapply(tx, f, c.TreeHash, t)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if err := check.ToError(); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("commit %s: %w", c.Hash, err)
		}
	}

	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, p.Hash)
	}

	return rewriteCommit(tx, c, t, hashes, rewriteOptions{})
}

// mergeAmend carries over the content of a concurrent amend of the same
// change, preferring the pushed content where both touch the same file.
func mergeAmend(tx *cache.Transaction, c *object.Commit, t plumbing.Hash, amends map[string]plumbing.Hash) (plumbing.Hash, error) {
	ch, found := ChangeFromCommit(c)
	if !found {
		return t, nil
	}
	prev, found := amends[ch.ID]
	if !found || prev.IsZero() {
		return t, nil
	}
	pc, err := commitObject(tx, prev)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if pc.TreeHash == t {
		return t, nil
	}

	base := tree.EmptyTree
	if pc.NumParents() > 0 {
		pp, err := commitObject(tx, pc.ParentHashes[0])
		if err != nil {
			return plumbing.ZeroHash, err
		}
		base = pp.TreeHash
	}

	merged, err := tx.Trees().Merge3(base, pc.TreeHash, t)
	if errors.Is(err, tree.ErrMergeConflict) {
		return plumbing.ZeroHash, &RejectError{
			Kind:   ErrRejectAmendConflict,
			Commit: c.Hash.String(),
			Reason: fmt.Sprintf("change %s was amended as %s: %s", ch.ID, prev, err),
		}
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}

	logger.Info("merged concurrent amend", "change", ch.ID, "commit", c.Hash, "amend", prev)
	return merged, nil
}

// FindOriginal returns the upstream commit in the history of containedIn that
// the filtered commit corresponds to, or a zero hash if there is none.
func FindOriginal(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	containedIn, filtered plumbing.Hash,
	amends map[string]plumbing.Hash,
) (plumbing.Hash, error) {
	if o, found := tx.GetUnapply(f, filtered); found {
		return o, nil
	}

	if len(amends) > 0 {
		fc, err := commitObject(tx, filtered)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if ch, found := ChangeFromCommit(fc); found {
			if o, found := amends[ch.ID]; found {
				return o, nil
			}
		}
	}

	return FindUnapplyBase(ctx, tx, f, containedIn, filtered)
}

// FindUnapplyBase searches the history of containedIn, nearest commits first,
// for a commit that f maps to filtered. The match is remembered in tx.
func FindUnapplyBase(ctx context.Context, tx *cache.Transaction, f filter.Filter, containedIn, filtered plumbing.Hash) (plumbing.Hash, error) {
	if containedIn.IsZero() {
		return plumbing.ZeroHash, nil
	}
	if _, err := Walk(ctx, tx, f, containedIn); err != nil {
		return plumbing.ZeroHash, err
	}

	queue := []plumbing.Hash{containedIn}
	seen := NewHashSet(containedIn)

searchloop:
	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return plumbing.ZeroHash, ctx.Err()
		default:
		}

		h := queue[0]
		queue = queue[1:]

		r, found := tx.Lookup(f, h)
		if !found {
			var err error
			if r, err = Walk(ctx, tx, f, h); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		if r == filtered {
			tx.InsertUnapply(f, filtered, h)
			return h, nil
		}
		if r.IsZero() {
			continue searchloop
		}

		c, err := commitObject(tx, h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		for _, p := range c.ParentHashes {
			if _, found := seen[p]; !found {
				seen[p] = empty{}
				queue = append(queue, p)
			}
		}
	}

	return plumbing.ZeroHash, nil
}
