package josh

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

func commitObject(tx *cache.Transaction, h plumbing.Hash) (*object.Commit, error) {
	c, err := object.GetCommit(tx.Repo().Storer, h)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s: %w", ErrObjectNotFound, h, err)
	}
	return c, nil
}

func storeCommit(s storer.EncodedObjectStorer, c *object.Commit) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	return s.SetEncodedObject(obj)
}

// ApplyToCommit maps the commit through f and returns the filtered commit.
// A zero hash means that the commit has no counterpart in the filtered history.
//
// Parents that are not filtered yet are walked with [Walk] first.
func ApplyToCommit(ctx context.Context, tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, error) {
	if f.IsNop() {
		return c.Hash, nil
	}
	if r, found := tx.Get(f, c.Hash); found {
		return r, nil
	}

	r, err := applyToCommit(ctx, tx, f, c)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tx.Insert(f, c.Hash, r, false)

	return r, nil
}

// applyToCommit computes the mapping of c, assuming its parents are cached or cheap to walk.
func applyToCommit(ctx context.Context, tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, error) {
	switch o := f.Op().(type) {
	case filter.NopOp:
		return c.Hash, nil
	case filter.EmptyOp:
		return plumbing.ZeroHash, nil
	case filter.MetaOp:
		return ApplyToCommit(ctx, tx, o.Inner, c)

	case filter.ChainOp:
		r, err := ApplyToCommit(ctx, tx, o.First, c)
		if err != nil || r.IsZero() {
			return plumbing.ZeroHash, err
		}
		rc, err := commitObject(tx, r)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyToCommit(ctx, tx, o.Second, rc)

	case filter.SquashOp:
		if o.Points == nil {
			return rewriteCommit(tx, c, c.TreeHash, nil, rewriteOptions{})
		}
		return squashCommit(ctx, tx, f, o, c)

	case filter.RevOp:
		selected, err := selectRev(tx, o, c)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		t, err := ApplyTree(tx, selected, c.TreeHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return filteredCommit(ctx, tx, f, c, t, rewriteOptions{})

	case filter.PinOp:
		return pinCommit(ctx, tx, f, o.Filter, c)
	case filter.FoldOp:
		return foldCommit(ctx, tx, f, c)

	case filter.AuthorOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{edit: func(n *object.Commit) error {
			n.Author.Name, n.Author.Email = o.Name, o.Email
			return nil
		}})
	case filter.CommitterOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{edit: func(n *object.Commit) error {
			n.Committer.Name, n.Committer.Email = o.Name, o.Email
			return nil
		}})
	case filter.MessageOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{edit: func(n *object.Commit) error {
			m, err := rewriteMessage(o, c)
			n.Message = m
			return err
		}})
	case filter.UnsignOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{unsign: true})
	case filter.LinearOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{linear: true})
	case filter.PruneOp:
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{prune: true})

	default:
		t, err := ApplyTree(tx, f, c.TreeHash)
		if err != nil {
			return plumbing.ZeroHash, errorf(err, "failed to filter tree of %s: %w", c.Hash, err)
		}
		return filteredCommit(ctx, tx, f, c, t, rewriteOptions{})
	}
}

type rewriteOptions struct {
	edit   func(*object.Commit) error
	unsign bool
	linear bool
	prune  bool
}

// filterParent returns the mapping of a parent commit, walking its history if needed.
func filterParent(ctx context.Context, tx *cache.Transaction, f filter.Filter, h plumbing.Hash) (plumbing.Hash, error) {
	if r, found := tx.Lookup(f, h); found {
		return r, nil
	}
	return Walk(ctx, tx, f, h)
}

// filteredParents maps the parents of c in order. The mapping is deduplicated
// and commits without counterpart are skipped.
func filteredParents(ctx context.Context, tx *cache.Transaction, f filter.Filter, c *object.Commit, linear bool) ([]*object.Commit, error) {
	hashes := c.ParentHashes
	if linear && len(hashes) > 1 {
		hashes = hashes[:1]
	}

	parents := make([]*object.Commit, 0, len(hashes))
	seen := make(HashSet)

addparentloop:
	for _, h := range hashes {
		r, err := filterParent(ctx, tx, f, h)
		if err != nil {
			return nil, errorf(err, "failed to filter parent %s of %s: %w", h, c.Hash, err)
		}
		if r.IsZero() {
			continue addparentloop
		}
		if _, found := seen[r]; found {
			continue addparentloop
		}
		seen[r] = empty{}
		p, err := commitObject(tx, r)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}

	return independent(parents)
}

// independent drops the parents that are ancestors of another parent. Such a
// merge would be degenerate in the filtered history.
func independent(parents []*object.Commit) ([]*object.Commit, error) {
	if len(parents) < 2 {
		return parents, nil
	}

	r := make([]*object.Commit, 0, len(parents))
checkloop:
	for i, p := range parents {
		for j, q := range parents {
			if i == j {
				continue
			}
			isancestor, err := p.IsAncestor(q)
			if err != nil {
				return nil, err
			}
			if isancestor {
				continue checkloop
			}
		}
		r = append(r, p)
	}

	return r, nil
}

// filteredCommit creates the filtered counterpart of c with tree t.
//
//   - If no filtered parent remains, the commit becomes a new root, or has no
//     counterpart at all when t is empty.
//   - If t equals the trees of all filtered parents while c itself changed
//     something, the change is invisible in the filtered history and c maps
//     to its first filtered parent.
//   - Otherwise all filtered parents are kept.
func filteredCommit(
	ctx context.Context,
	tx *cache.Transaction,
	f filter.Filter,
	c *object.Commit,
	t plumbing.Hash,
	opts rewriteOptions,
) (plumbing.Hash, error) {
	parents, err := filteredParents(ctx, tx, f, c, opts.linear)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	if len(parents) == 0 {
		if t == tree.EmptyTree {
			return plumbing.ZeroHash, nil
		}
		return rewriteCommit(tx, c, t, nil, opts)
	}

	affected := false
	for _, p := range parents {
		if p.TreeHash != t {
			affected = true
		}
	}
	if !affected {
		emptydiff, err := allDiffsEmpty(tx, c)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !emptydiff {
			return parents[0].Hash, nil
		}
	}
	if opts.prune && c.NumParents() > 1 && parents[0].TreeHash == t {
		return parents[0].Hash, nil
	}

	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, p.Hash)
	}

	return rewriteCommit(tx, c, t, hashes, opts)
}

// allDiffsEmpty reports if c has the tree of every one of its parents.
func allDiffsEmpty(tx *cache.Transaction, c *object.Commit) (bool, error) {
	for _, h := range c.ParentHashes {
		p, err := commitObject(tx, h)
		if err != nil {
			return false, err
		}
		if p.TreeHash != c.TreeHash {
			return false, nil
		}
	}
	return true, nil
}

// rewriteCommit stores a copy of c with the given tree and parents. The
// original is reused as is when nothing changes, which keeps signatures valid.
// Rewritten commits lose their signature.
func rewriteCommit(tx *cache.Transaction, c *object.Commit, t plumbing.Hash, parents []plumbing.Hash, opts rewriteOptions) (plumbing.Hash, error) {
	n := &object.Commit{
		Author:       c.Author,
		Committer:    c.Committer,
		Message:      c.Message,
		Encoding:     c.Encoding,
		TreeHash:     t,
		ParentHashes: parents,
	}
	if opts.edit != nil {
		if err := opts.edit(n); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	same := n.TreeHash == c.TreeHash &&
		slices.Equal(n.ParentHashes, c.ParentHashes) &&
		n.Author == c.Author &&
		n.Committer == c.Committer &&
		n.Message == c.Message
	signed := c.PGPSignature != "" || c.MergeTag != ""
	if same && !(opts.unsign && signed) {
		return c.Hash, nil
	}

	if t == tree.EmptyTree {
		if _, err := tx.Trees().Write(nil); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	h, err := storeCommit(tx.Repo().Storer, n)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to save rewritten %s: %w", c.Hash, err)
	}
	logger.Debug("rewrote commit", "commit", c.Hash, "new", h, "tree", t, "parents", len(parents))

	return h, nil
}

var placeholder = regexp.MustCompile(`\{@?[A-Za-z_][A-Za-z0-9_]*\}`)

// rewriteMessage formats the new message of c. The format may use {@message},
// {@commit} and the named groups of the regex. If the regex does not match
// the message is kept.
func rewriteMessage(o filter.MessageOp, c *object.Commit) (string, error) {
	vars := map[string]string{
		"@message": c.Message,
		"@commit":  c.Hash.String(),
	}

	if o.Regex != "" {
		re, err := regexp.Compile(o.Regex)
		if err != nil {
			return "", fmt.Errorf("invalid message regex %q: %w", o.Regex, err)
		}
		m := re.FindStringSubmatch(c.Message)
		if m == nil {
			return c.Message, nil
		}
		for i, name := range re.SubexpNames() {
			if name != "" {
				vars[name] = m[i]
			}
		}
	}

	return placeholder.ReplaceAllStringFunc(o.Format, func(s string) string {
		if v, found := vars[s[1:len(s)-1]]; found {
			return v
		}
		return s
	}), nil
}

func resolveRev(tx *cache.Transaction, rev string) (*object.Commit, error) {
	h, err := tx.Repo().ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve %q: %w", ErrInvalidRef, rev, err)
	}
	return commitObject(tx, *h)
}

// selectRev picks the filter of the first entry whose revision contains c.
// The default entry applies when no revision does.
func selectRev(tx *cache.Transaction, o filter.RevOp, c *object.Commit) (filter.Filter, error) {
	fallback := filter.NopFilter
	for _, e := range o.Entries {
		if e.Rev == "" {
			fallback = e.Filter
			continue
		}
		rc, err := resolveRev(tx, e.Rev)
		if err != nil {
			return filter.NopFilter, err
		}
		if rc.Hash == c.Hash {
			return e.Filter, nil
		}
		isancestor, err := c.IsAncestor(rc)
		if err != nil {
			return filter.NopFilter, err
		}
		if isancestor {
			return e.Filter, nil
		}
	}

	return fallback, nil
}

// squashCommit keeps only the listed revisions. Every other commit is folded
// into the next kept one, and a commit that is not kept itself is a squash of
// everything since the kept commits it descends from.
func squashCommit(ctx context.Context, tx *cache.Transaction, f filter.Filter, o filter.SquashOp, c *object.Commit) (plumbing.Hash, error) {
	points := make(map[plumbing.Hash]filter.Filter, len(o.Points))
	for _, p := range o.Points {
		if p.Rev == "" {
			continue
		}
		pc, err := resolveRev(tx, p.Rev)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		points[pc.Hash] = p.Filter
	}

	kept := make([]plumbing.Hash, 0, c.NumParents())
	seen := make(HashSet)
	keep := func(h plumbing.Hash) {
		if _, found := seen[h]; !found {
			seen[h] = empty{}
			kept = append(kept, h)
		}
	}
	for _, ph := range c.ParentHashes {
		r, err := filterParent(ctx, tx, f, ph)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if r.IsZero() {
			continue
		}
		if _, ispoint := points[ph]; ispoint {
			keep(r)
			continue
		}
		rc, err := commitObject(tx, r)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		for _, h := range rc.ParentHashes {
			keep(h)
		}
	}

	pf, ispoint := points[c.Hash]
	if !ispoint {
		if len(kept) > 1 {
			trees := make(HashSet)
			for _, h := range kept {
				kc, err := commitObject(tx, h)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				trees[kc.TreeHash] = empty{}
			}
			if len(trees) > 1 {
				return plumbing.ZeroHash, fmt.Errorf("%w: %s joins %d squashed histories, list it as a squash point", ErrAmbiguousMerge, c.Hash, len(kept))
			}
			kept = kept[:1]
		}
		return rewriteCommit(tx, c, c.TreeHash, kept, rewriteOptions{})
	}

	t, err := ApplyTree(tx, pf, c.TreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return rewriteCommit(tx, c, t, kept, rewriteOptions{edit: metadataEdit(pf, c)})
}

// metadataEdit collects the author, committer and message changes of f.
func metadataEdit(f filter.Filter, c *object.Commit) func(*object.Commit) error {
	return func(n *object.Commit) error {
		var err error
		filter.Contains(f, func(op filter.Op) bool {
			switch o := op.(type) {
			case filter.AuthorOp:
				n.Author.Name, n.Author.Email = o.Name, o.Email
			case filter.CommitterOp:
				n.Committer.Name, n.Committer.Email = o.Name, o.Email
			case filter.MessageOp:
				n.Message, err = rewriteMessage(o, c)
			}
			return err != nil
		})
		return err
	}
}

// pinCommit holds the content selected by pinned at its state in the first
// filtered parent. Root commits keep their content.
func pinCommit(ctx context.Context, tx *cache.Transaction, f, pinned filter.Filter, c *object.Commit) (plumbing.Hash, error) {
	trees := tx.Trees()

	parents, err := filteredParents(ctx, tx, f, c, false)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if len(parents) == 0 {
		return filteredCommit(ctx, tx, f, c, c.TreeHash, rewriteOptions{})
	}

	now, err := sources(tx, pinned, c.TreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	rest, err := trees.Subtract(c.TreeHash, now)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	held, err := sources(tx, pinned, parents[0].TreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	t, err := trees.Overlay(held, rest)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return filteredCommit(ctx, tx, f, c, t, rewriteOptions{})
}

// foldCommit accumulates the trees of the filtered parents into the tree of c.
func foldCommit(ctx context.Context, tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, error) {
	parents, err := filteredParents(ctx, tx, f, c, false)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	t := c.TreeHash
	for _, p := range parents {
		if t, err = tx.Trees().Overlay(t, p.TreeHash); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	return filteredCommit(ctx, tx, f, c, t, rewriteOptions{})
}
