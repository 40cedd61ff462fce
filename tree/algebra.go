package tree

import (
	"fmt"
	"path"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Subtract returns the entries of a that b does not hold with identical content.
// Directories present in both are subtracted recursively.
func (t *Trees) Subtract(a, b plumbing.Hash) (plumbing.Hash, error) {
	return t.subtract(a, b, 0)
}

func (t *Trees) subtract(a, b plumbing.Hash, depth int) (plumbing.Hash, error) {
	switch {
	case a == b:
		return EmptyTree, nil
	case b == EmptyTree:
		return a, nil
	case a == EmptyTree:
		return EmptyTree, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.memoized(Key{Op: "subtract", A: a, B: b}, func() (plumbing.Hash, error) {
		ea, err := t.Entries(a)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		eb, err := t.Entries(b)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(ea))
		for _, x := range ea {
			y, found := find(eb, x.Name)
			switch {
			case !found:
				r = append(r, x)
			case x.Hash == y.Hash && x.Mode == y.Mode:
			case isDir(x) && isDir(y):
				sub, err := t.subtract(x.Hash, y.Hash, depth+1)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				x.Hash = sub
				r = append(r, x)
			default:
				r = append(r, x)
			}
		}

		return t.Write(r)
	})
}

// Overlay merges b into a. On conflicting leaves the entry of a wins,
// directories are merged recursively.
func (t *Trees) Overlay(a, b plumbing.Hash) (plumbing.Hash, error) {
	return t.overlay(a, b, 0)
}

func (t *Trees) overlay(a, b plumbing.Hash, depth int) (plumbing.Hash, error) {
	switch {
	case a == b, b == EmptyTree:
		return a, nil
	case a == EmptyTree:
		return b, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.memoized(Key{Op: "overlay", A: a, B: b}, func() (plumbing.Hash, error) {
		ea, err := t.Entries(a)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		eb, err := t.Entries(b)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(ea)+len(eb))
		for _, x := range ea {
			y, found := find(eb, x.Name)
			if found && isDir(x) && isDir(y) {
				sub, err := t.overlay(x.Hash, y.Hash, depth+1)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				x.Hash = sub
			}
			r = append(r, x)
		}
		for _, y := range eb {
			if _, found := find(ea, y.Name); !found {
				r = append(r, y)
			}
		}

		return t.Write(r)
	})
}

// Merge3 merges the changes from base to ours and from base to theirs.
// When both sides change the same file theirs wins. A path that is a
// directory on one side and a file on the other is a conflict.
func (t *Trees) Merge3(base, ours, theirs plumbing.Hash) (plumbing.Hash, error) {
	return t.merge3(base, ours, theirs, "", 0)
}

func (t *Trees) merge3(base, ours, theirs plumbing.Hash, at string, depth int) (plumbing.Hash, error) {
	switch {
	case ours == theirs, base == theirs:
		return ours, nil
	case base == ours:
		return theirs, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	eb, err := t.Entries(base)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	eo, err := t.Entries(ours)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	et, err := t.Entries(theirs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	names := make(map[string]empty)
	for _, es := range [][]object.TreeEntry{eb, eo, et} {
		for _, e := range es {
			names[e.Name] = empty{}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	r := make([]object.TreeEntry, 0, len(sorted))
	for _, name := range sorted {
		b, inb := find(eb, name)
		o, ino := find(eo, name)
		th, inth := find(et, name)
		p := path.Join(at, name)

		switch {
		case ino == inth && (!ino || o == th):
			if ino {
				r = append(r, o)
			}
		case inb == ino && (!inb || b == o):
			if inth {
				r = append(r, th)
			}
		case inb == inth && (!inb || b == th):
			if ino {
				r = append(r, o)
			}
		case ino && inth && isDir(o) && isDir(th):
			bh := EmptyTree
			if inb && isDir(b) {
				bh = b.Hash
			}
			sub, err := t.merge3(bh, o.Hash, th.Hash, p, depth+1)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			o.Hash = sub
			r = append(r, o)
		case ino && inth && isDir(o) != isDir(th):
			return plumbing.ZeroHash, fmt.Errorf("%w: %s is a directory on one side and a file on the other", ErrMergeConflict, p)
		default:
			if inth {
				r = append(r, th)
			}
		}
	}

	return t.Write(r)
}

// ComposePart is one entry of [Trees.Compose].
type ComposePart struct {
	// Applied is the output of the part's filter on the input tree.
	Applied plumbing.Hash
	// Claimed is the input content the part's filter reads.
	Claimed plumbing.Hash
	// Apply maps an input side tree through the part's filter.
	Apply func(plumbing.Hash) (plumbing.Hash, error)
}

// Compose merges the outputs of the parts in priority order. Input content
// claimed by an earlier part is not contributed again by a later one.
func (t *Trees) Compose(parts []ComposePart) (plumbing.Hash, error) {
	result := EmptyTree
	taken := EmptyTree

	for i, part := range parts {
		takenApplied, err := part.Apply(taken)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to apply part %d to claimed content: %w", i, err)
		}
		contributed, err := t.Subtract(part.Applied, takenApplied)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		if taken, err = t.Overlay(taken, part.Claimed); err != nil {
			return plumbing.ZeroHash, err
		}
		if result, err = t.Overlay(result, contributed); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	return result, nil
}

type empty = struct{}
