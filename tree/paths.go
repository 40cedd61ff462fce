package tree

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub001/filter"
)

// WorkspaceFile is the name of the file that declares the mappings of a workspace.
const WorkspaceFile = "workspace.josh"

// FilterFileExt is the extension of files holding filters.
const FilterFileExt = ".josh"

// Pathstree replaces every file below root with a blob holding its path,
// joined to base. Filter files (workspace.josh and other *.josh files) keep
// their content after the path line so that the mappings are still readable
// from the paths tree.
func (t *Trees) Pathstree(root plumbing.Hash, base string) (plumbing.Hash, error) {
	return t.pathstree(root, base, 0)
}

func (t *Trees) pathstree(root plumbing.Hash, base string, depth int) (plumbing.Hash, error) {
	if root == EmptyTree {
		return EmptyTree, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.memoized(Key{Op: "pathstree", A: root, Filter: StringKey(base)}, func() (plumbing.Hash, error) {
		entries, err := t.Entries(root)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(entries))
		for _, e := range entries {
			p := path.Join(base, e.Name)
			if isDir(e) {
				sub, err := t.pathstree(e.Hash, p, depth+1)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				e.Hash = sub
				r = append(r, e)
				continue
			}

			content := []byte(p + "\n")
			if strings.HasSuffix(e.Name, FilterFileExt) {
				data, err := t.ReadBlob(e.Hash)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				content = append(content, data...)
			}
			h, err := t.WriteBlob(content)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			r = append(r, object.TreeEntry{Name: e.Name, Mode: filemode.Regular, Hash: h})
		}

		return t.Write(r)
	})
}

// PathOf reads the path recorded in a blob of a paths tree.
func (t *Trees) PathOf(blob plumbing.Hash) (string, error) {
	data, err := t.ReadBlob(blob)
	if err != nil {
		return "", err
	}
	line, _, _ := bytes.Cut(data, []byte("\n"))
	return string(line), nil
}

// InvertPaths turns a paths tree into the reverse mapping: the blob at the
// recorded path holds the location the entry had in paths.
func (t *Trees) InvertPaths(paths plumbing.Hash) (plumbing.Hash, error) {
	return t.memoized(Key{Op: "invertpaths", A: paths}, func() (plumbing.Hash, error) {
		files := make(map[string]object.TreeEntry)
		err := t.walkFiles(paths, "", 0, func(at string, e object.TreeEntry) error {
			src, err := t.PathOf(e.Hash)
			if err != nil {
				return err
			}
			h, err := t.WriteBlob([]byte(at + "\n"))
			if err != nil {
				return err
			}
			files[src] = object.TreeEntry{Mode: filemode.Regular, Hash: h}
			return nil
		})
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return t.FromFiles(files)
	})
}

// Populate places every file of content at the path that paths records for
// its location. A file of content without a recorded path is an error
// wrapping [ErrUnmappedPath].
func (t *Trees) Populate(paths, content plumbing.Hash) (plumbing.Hash, error) {
	return t.memoized(Key{Op: "populate", A: paths, B: content}, func() (plumbing.Hash, error) {
		files := make(map[string]object.TreeEntry)
		err := t.walkFiles(content, "", 0, func(at string, e object.TreeEntry) error {
			pe, found, err := t.Get(paths, at)
			if err != nil {
				return err
			}
			if !found || isDir(pe) {
				return fmt.Errorf("%w: %s", ErrUnmappedPath, at)
			}
			src, err := t.PathOf(pe.Hash)
			if err != nil {
				return err
			}
			files[src] = e
			return nil
		})
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return t.FromFiles(files)
	})
}

// Glob keeps the files whose full path matches pattern.
func (t *Trees) Glob(root plumbing.Hash, pattern string) (plumbing.Hash, error) {
	return t.glob(root, pattern, "", 0)
}

func (t *Trees) glob(root plumbing.Hash, pattern, base string, depth int) (plumbing.Hash, error) {
	if root == EmptyTree {
		return EmptyTree, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.memoized(Key{Op: "glob", A: root, Filter: StringKey(pattern, base)}, func() (plumbing.Hash, error) {
		entries, err := t.Entries(root)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(entries))
		for _, e := range entries {
			p := path.Join(base, e.Name)
			if isDir(e) {
				sub, err := t.glob(e.Hash, pattern, p, depth+1)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				e.Hash = sub
				r = append(r, e)
				continue
			}
			if filter.MatchGlob(pattern, p) {
				r = append(r, e)
			}
		}

		return t.Write(r)
	})
}

// Select keeps the files of root that are also files in mask.
func (t *Trees) Select(root, mask plumbing.Hash) (plumbing.Hash, error) {
	return t.sel(root, mask, 0)
}

func (t *Trees) sel(root, mask plumbing.Hash, depth int) (plumbing.Hash, error) {
	if root == EmptyTree || mask == EmptyTree {
		return EmptyTree, nil
	}
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.memoized(Key{Op: "select", A: root, B: mask}, func() (plumbing.Hash, error) {
		entries, err := t.Entries(root)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		maskEntries, err := t.Entries(mask)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		r := make([]object.TreeEntry, 0, len(entries))
		for _, e := range entries {
			m, found := find(maskEntries, e.Name)
			switch {
			case !found || isDir(m) != isDir(e):
			case isDir(e):
				sub, err := t.sel(e.Hash, m.Hash, depth+1)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				e.Hash = sub
				r = append(r, e)
			default:
				r = append(r, e)
			}
		}

		return t.Write(r)
	})
}
