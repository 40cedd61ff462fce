package josh

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

// IndexFile is the file produced by the :INDEX filter.
const IndexFile = "INDEX"

func memoized(tx *cache.Transaction, k tree.Key, fn func() (plumbing.Hash, error)) (plumbing.Hash, error) {
	m := tx.Trees().Memo()
	if v, found := m.Load(k); found {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	m.Store(k, v)
	return v, nil
}

// ApplyTree maps the tree t through f. Filters acting on commits only, such as
// :author or :squash, leave the tree unchanged.
func ApplyTree(tx *cache.Transaction, f filter.Filter, t plumbing.Hash) (plumbing.Hash, error) {
	if t.IsZero() {
		t = tree.EmptyTree
	}
	switch f.Op().(type) {
	case filter.NopOp:
		return t, nil
	case filter.EmptyOp:
		return tree.EmptyTree, nil
	}

	return memoized(tx, tree.Key{Op: "apply", A: t, Filter: f.ID()}, func() (plumbing.Hash, error) {
		return applyTree(tx, f, t)
	})
}

func applyTree(tx *cache.Transaction, f filter.Filter, t plumbing.Hash) (plumbing.Hash, error) {
	trees := tx.Trees()

	switch o := f.Op().(type) {
	case filter.SubdirOp:
		return trees.Subdir(t, o.Path)
	case filter.PrefixOp:
		return trees.Prefix(t, o.Path)
	case filter.FileOp:
		e, found, err := trees.Get(t, o.Src)
		if err != nil || !found || e.Mode == filemode.Dir {
			return tree.EmptyTree, err
		}
		return trees.Insert(tree.EmptyTree, o.Dst, e.Hash, e.Mode)
	case filter.PatternOp:
		return trees.Glob(t, o.Glob)

	case filter.WorkspaceOp:
		ws, err := workspaceFilter(tx, t, o.Path)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, ws, t)
	case filter.StoredOp:
		stored, err := storedFilter(tx, t, o.Path)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, stored, t)

	case filter.ChainOp:
		r, err := ApplyTree(tx, o.First, t)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, o.Second, r)
	case filter.ComposeOp:
		return composeTree(tx, o.Filters, t)
	case filter.SubtractOp:
		return subtractTree(tx, o.A, o.B, t)
	case filter.ExcludeOp:
		return subtractTree(tx, filter.NopFilter, o.Filter, t)
	case filter.MetaOp:
		return ApplyTree(tx, o.Inner, t)
	case filter.RevOp:
		for _, e := range o.Entries {
			if e.Rev == "" {
				return ApplyTree(tx, e.Filter, t)
			}
		}
		return t, nil

	case filter.RegexReplaceOp:
		res, err := compileReplacements(o.Replacements)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return replaceTree(tx, f.ID(), res, t, 0)
	case filter.PathsOp:
		return trees.Pathstree(t, "")
	case filter.InvertOp:
		return trees.InvertPaths(t)
	case filter.IndexOp:
		return indexTree(tx, t)

	case filter.PinOp, filter.SquashOp, filter.AuthorOp, filter.CommitterOp, filter.MessageOp,
		filter.PruneOp, filter.UnsignOp, filter.LinearOp, filter.FoldOp:
		return t, nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("cannot apply %s to a tree", f)
	}
}

// workspaceFilter reads the workspace file of dir. The view holds the
// workspace file itself, the mappings it lists, and the content of dir.
func workspaceFilter(tx *cache.Transaction, t plumbing.Hash, dir string) (filter.Filter, error) {
	mappings, err := readFilterFile(tx, t, path.Join(dir, tree.WorkspaceFile), filter.ParseWorkspace)
	if err != nil {
		return filter.NopFilter, err
	}

	return workspaceView(dir, mappings), nil
}

func workspaceView(dir string, mappings filter.Filter) filter.Filter {
	base := filter.Subdir(dir)
	return filter.Compose(
		filter.Chain(base, filter.File(tree.WorkspaceFile, tree.WorkspaceFile)),
		mappings,
		base,
	)
}

func storedFilter(tx *cache.Transaction, t plumbing.Hash, p string) (filter.Filter, error) {
	return readFilterFile(tx, t, p+tree.FilterFileExt, filter.Parse)
}

// readFilterFile parses the filter in the file at p. A missing or malformed
// file selects nothing.
func readFilterFile(tx *cache.Transaction, t plumbing.Hash, p string, parse func(string) (filter.Filter, error)) (filter.Filter, error) {
	trees := tx.Trees()

	e, found, err := trees.Get(t, p)
	if err != nil {
		return filter.NopFilter, err
	}
	if !found || e.Mode == filemode.Dir {
		return filter.EmptyFilter, nil
	}
	data, err := trees.ReadBlob(e.Hash)
	if err != nil {
		return filter.NopFilter, err
	}

	f, err := parse(string(data))
	if err != nil {
		logger.Warn("ignoring invalid filter file", "path", p, "tree", t, "err", err)
		return filter.EmptyFilter, nil
	}
	return f, nil
}

func composeTree(tx *cache.Transaction, fs []filter.Filter, t plumbing.Hash) (plumbing.Hash, error) {
	parts := make([]tree.ComposePart, 0, len(fs))
	for _, f := range fs {
		applied, err := ApplyTree(tx, f, t)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		claimed, err := sources(tx, f, t)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		parts = append(parts, tree.ComposePart{
			Applied: applied,
			Claimed: claimed,
			Apply: func(x plumbing.Hash) (plumbing.Hash, error) {
				return ApplyTree(tx, f, x)
			},
		})
	}

	return tx.Trees().Compose(parts)
}

// subtractTree removes from the output of a what a would produce from the
// input that b selects.
func subtractTree(tx *cache.Transaction, a, b filter.Filter, t plumbing.Hash) (plumbing.Hash, error) {
	af, err := ApplyTree(tx, a, t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	bs, err := sources(tx, b, t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	ba, err := ApplyTree(tx, a, bs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return tx.Trees().Subtract(af, ba)
}

// sources returns the part of t that f reads, using a paths tree to find the
// original location of everything in the output.
func sources(tx *cache.Transaction, f filter.Filter, t plumbing.Hash) (plumbing.Hash, error) {
	return memoized(tx, tree.Key{Op: "sources", A: t, Filter: f.ID()}, func() (plumbing.Hash, error) {
		trees := tx.Trees()

		pt, err := trees.Pathstree(t, "")
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mapped, err := ApplyTree(tx, pathFilter(f), pt)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mask, err := trees.InvertPaths(mapped)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		return trees.Select(t, mask)
	})
}

// pathFilter drops the content rewrites from f so that it can be applied to a
// paths tree.
func pathFilter(f filter.Filter) filter.Filter {
	return filter.Transform(f, func(g filter.Filter) filter.Filter {
		if _, isreplace := g.Op().(filter.RegexReplaceOp); isreplace {
			return filter.NopFilter
		}
		return g
	})
}

type replacement struct {
	re  *regexp.Regexp
	rep string
}

func compileReplacements(rs []filter.Replacement) ([]replacement, error) {
	r := make([]replacement, 0, len(rs))
	for _, x := range rs {
		re, err := regexp.Compile(x.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid replacement %q: %w", x.Regex, err)
		}
		r = append(r, replacement{re: re, rep: x.Replacement})
	}
	return r, nil
}

func replaceTree(tx *cache.Transaction, id plumbing.Hash, rs []replacement, t plumbing.Hash, depth int) (plumbing.Hash, error) {
	if t == tree.EmptyTree {
		return t, nil
	}
	if depth > tree.MaxDepth {
		return plumbing.ZeroHash, tree.ErrTreeTooDeep
	}

	return memoized(tx, tree.Key{Op: "replace", A: t, Filter: id}, func() (plumbing.Hash, error) {
		trees := tx.Trees()
		entries, err := trees.Entries(t)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(entries))
		for _, e := range entries {
			switch e.Mode {
			case filemode.Dir:
				e.Hash, err = replaceTree(tx, id, rs, e.Hash, depth+1)
			case filemode.Regular, filemode.Executable:
				e.Hash, err = replaceBlob(tx, rs, e.Hash)
			}
			if err != nil {
				return plumbing.ZeroHash, err
			}
			r = append(r, e)
		}

		return trees.Write(r)
	})
}

func replaceBlob(tx *cache.Transaction, rs []replacement, h plumbing.Hash) (plumbing.Hash, error) {
	trees := tx.Trees()
	data, err := trees.ReadBlob(h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	replaced := data
	for _, r := range rs {
		replaced = r.re.ReplaceAll(replaced, []byte(r.rep))
	}
	if string(replaced) == string(data) {
		return h, nil
	}
	return trees.WriteBlob(replaced)
}

// indexTree lists every file of t with its mode and blob id, one per line.
func indexTree(tx *cache.Transaction, t plumbing.Hash) (plumbing.Hash, error) {
	trees := tx.Trees()
	files, err := trees.Files(t)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if len(files) == 0 {
		return tree.EmptyTree, nil
	}

	names := make([]string, 0, len(files))
	for p := range files {
		names = append(names, p)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, p := range names {
		e := files[p]
		fmt.Fprintf(&sb, "%s %s %s\n", e.Mode, e.Hash, p)
	}

	blob, err := trees.WriteBlob([]byte(sb.String()))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return trees.Insert(tree.EmptyTree, IndexFile, blob, filemode.Regular)
}
