package josh

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

// UnapplyTree returns the tree that f maps to t, taking everything f does not
// see from parent. It is the reverse of [ApplyTree]:
// ApplyTree(f, UnapplyTree(f, t, parent)) is t for every t the filter can produce.
func UnapplyTree(tx *cache.Transaction, f filter.Filter, t, parent plumbing.Hash) (plumbing.Hash, error) {
	if t.IsZero() {
		t = tree.EmptyTree
	}
	if parent.IsZero() {
		parent = tree.EmptyTree
	}

	switch o := f.Op().(type) {
	case filter.NopOp:
		return t, nil
	case filter.EmptyOp:
		return parent, nil
	case filter.MetaOp:
		return UnapplyTree(tx, o.Inner, t, parent)
	case filter.ChainOp:
		mid, err := ApplyTree(tx, o.First, parent)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		r, err := UnapplyTree(tx, o.Second, t, mid)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return UnapplyTree(tx, o.First, r, parent)
	case filter.WorkspaceOp:
		return unapplyWorkspace(tx, o.Path, t, parent)
	case filter.StoredOp:
		stored, err := storedFilter(tx, parent, o.Path)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return UnapplyTree(tx, stored, t, parent)
	}

	inv, err := filter.Invert(f)
	switch {
	case err == nil:
		return unapplyInverse(tx, f, inv, t, parent)
	case !errors.Is(err, filter.ErrNonInvertible):
		return plumbing.ZeroHash, err
	}

	if c, iscompose := f.Op().(filter.ComposeOp); iscompose {
		return unapplyCompose(tx, f, c.Filters, t, parent)
	}

	return unapplyPaths(tx, f, t, parent)
}

// unapplyCompose gives every part of the composition its share of t, in
// priority order, and unapplies the parts one after another on top of parent.
// Content a part produced from parent that the composition did not show is
// handed back to that part unchanged.
func unapplyCompose(tx *cache.Transaction, f filter.Filter, fs []filter.Filter, t, parent plumbing.Hash) (plumbing.Hash, error) {
	trees := tx.Trees()

	viewed, err := ApplyTree(tx, f, parent)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	result := parent
	remaining := t
	taken := tree.EmptyTree
	for _, part := range fs {
		before, err := ApplyTree(tx, part, parent)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		share, err := composeShare(tx, part, remaining, before)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		shadowed, err := trees.Select(before, taken)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		hidden, err := trees.Subtract(before, viewed)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if hidden, err = trees.Overlay(shadowed, hidden); err != nil {
			return plumbing.ZeroHash, err
		}
		input, err := trees.Overlay(share, hidden)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		if result, err = UnapplyTree(tx, part, input, result); err != nil {
			return plumbing.ZeroHash, err
		}
		if remaining, err = trees.Subtract(remaining, share); err != nil {
			return plumbing.ZeroHash, err
		}
		if taken, err = trees.Overlay(taken, share); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	if remaining != tree.EmptyTree {
		files, err := trees.Files(remaining)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if paths := sortedPaths(files); len(paths) > 0 {
			return plumbing.ZeroHash, fmt.Errorf("%w: %s has no place in the original tree: %w: %s", ErrNotReversible, f, tree.ErrUnmappedPath, paths[0])
		}
	}

	return result, nil
}

// composeShare returns the part of t that part can have produced. An
// invertible part claims everything it maps back, any other part only the
// paths it produced from the parent, whose filtered tree is before.
func composeShare(tx *cache.Transaction, part filter.Filter, t, before plumbing.Hash) (plumbing.Hash, error) {
	inv, err := filter.Invert(part)
	switch {
	case err == nil:
		back, err := ApplyTree(tx, inv, t)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, part, back)
	case errors.Is(err, filter.ErrNonInvertible):
		return tx.Trees().Select(t, before)
	default:
		return plumbing.ZeroHash, err
	}
}

// unapplyInverse maps t back through the structural inverse and keeps the
// part of parent that the filter does not see.
func unapplyInverse(tx *cache.Transaction, f, inv filter.Filter, t, parent plumbing.Hash) (plumbing.Hash, error) {
	back, err := ApplyTree(tx, inv, t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	seen, err := ApplyTree(tx, filter.Chain(f, inv), parent)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	unseen, err := tx.Trees().Subtract(parent, seen)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return tx.Trees().Overlay(back, unseen)
}

// unapplyWorkspace uses the mappings of the pushed workspace file, so that a
// change to the mappings is pushed along with the content.
func unapplyWorkspace(tx *cache.Transaction, dir string, t, parent plumbing.Hash) (plumbing.Hash, error) {
	mappings, err := readFilterFile(tx, t, tree.WorkspaceFile, filter.ParseWorkspace)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if mappings.IsEmpty() {
		ws, err := workspaceFilter(tx, parent, dir)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return UnapplyTree(tx, ws, t, parent)
	}

	return UnapplyTree(tx, workspaceView(dir, mappings), t, parent)
}

// unapplyPaths handles filters without a structural inverse. The paths tree
// of parent, sent through f, tells where each file of the filtered view came
// from: files changed or removed in t are removed at their original location,
// and files changed or added in t are put there.
func unapplyPaths(tx *cache.Transaction, f filter.Filter, t, parent plumbing.Hash) (plumbing.Hash, error) {
	trees := tx.Trees()

	filteredParent, err := ApplyTree(tx, f, parent)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	pt, err := trees.Pathstree(parent, "")
	if err != nil {
		return plumbing.ZeroHash, err
	}
	paths, err := ApplyTree(tx, pathFilter(f), pt)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	removed, err := trees.Subtract(filteredParent, t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	added, err := trees.Subtract(t, filteredParent)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	gone, err := trees.Populate(paths, removed)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	files, err := trees.Files(gone)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	r := parent
	for p := range files {
		if r, err = trees.Insert(r, p, plumbing.ZeroHash, filemode.Regular); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	back, err := trees.Populate(paths, added)
	if errors.Is(err, tree.ErrUnmappedPath) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s has no place in the original tree: %w", ErrNotReversible, f, err)
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return trees.Overlay(back, r)
}
