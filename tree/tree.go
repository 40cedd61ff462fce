package tree

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// EmptyTree is the id of the tree without entries.
var EmptyTree = plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// MaxDepth is the deepest directory nesting the algebra descends into.
const MaxDepth = 512

var (
	ErrTreeTooDeep   = errors.New("tree nesting exceeds the maximum depth")
	ErrMergeConflict = errors.New("conflicting changes")
	ErrUnmappedPath  = errors.New("path has no mapping")
)

// Trees performs tree algebra on the objects of a single store.
// Results of the recursive operations are shared through the [Memo].
type Trees struct {
	s    storer.EncodedObjectStorer
	memo *Memo
}

// New creates a [Trees] on the store. memo may be nil to disable memoization.
func New(s storer.EncodedObjectStorer, memo *Memo) *Trees {
	return &Trees{s: s, memo: memo}
}

func (t *Trees) Store() storer.EncodedObjectStorer {
	return t.s
}

func (t *Trees) Memo() *Memo {
	return t.memo
}

func isDir(e object.TreeEntry) bool {
	return e.Mode == filemode.Dir
}

func checkDepth(depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: %d", ErrTreeTooDeep, MaxDepth)
	}
	return nil
}

// Entries reads the entries of a tree. The empty tree does not need to be present in the store.
func (t *Trees) Entries(h plumbing.Hash) ([]object.TreeEntry, error) {
	if h == EmptyTree || h.IsZero() {
		return nil, nil
	}
	tr, err := object.GetTree(t.s, h)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", h, err)
	}
	return tr.Entries, nil
}

// Write stores a tree made of the entries, in git order.
func (t *Trees) Write(entries []object.TreeEntry) (plumbing.Hash, error) {
	sorted := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if isDir(e) && e.Hash == EmptyTree {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return entryKey(sorted[i]) < entryKey(sorted[j])
	})

	obj := t.s.NewEncodedObject()
	if err := (&object.Tree{Entries: sorted}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	h, err := t.s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}

	return h, nil
}

// directories sort as if their name had a trailing slash.
func entryKey(e object.TreeEntry) string {
	if isDir(e) {
		return e.Name + "/"
	}
	return e.Name
}

// WriteBlob stores data as a blob.
func (t *Trees) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := t.s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}

	return t.s.SetEncodedObject(obj)
}

// ReadBlob returns the content of a blob.
func (t *Trees) ReadBlob(h plumbing.Hash) ([]byte, error) {
	b, err := object.GetBlob(t.s, h)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	r, err := b.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func find(entries []object.TreeEntry, name string) (object.TreeEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return object.TreeEntry{}, false
}

// Get looks up the entry at p below root.
func (t *Trees) Get(root plumbing.Hash, p string) (object.TreeEntry, bool, error) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return object.TreeEntry{Mode: filemode.Dir, Hash: root}, true, nil
	}

	current := root
	for i, seg := range segs {
		entries, err := t.Entries(current)
		if err != nil {
			return object.TreeEntry{}, false, err
		}
		e, found := find(entries, seg)
		if !found {
			return object.TreeEntry{}, false, nil
		}
		if i == len(segs)-1 {
			return e, true, nil
		}
		if !isDir(e) {
			return object.TreeEntry{}, false, nil
		}
		current = e.Hash
	}

	return object.TreeEntry{}, false, nil
}

// Subdir returns the tree at p, or the empty tree if p is missing or not a directory.
func (t *Trees) Subdir(root plumbing.Hash, p string) (plumbing.Hash, error) {
	e, found, err := t.Get(root, p)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !found || !isDir(e) {
		return EmptyTree, nil
	}
	return e.Hash, nil
}

// Prefix moves the content of root under p.
func (t *Trees) Prefix(root plumbing.Hash, p string) (plumbing.Hash, error) {
	if root == EmptyTree {
		return EmptyTree, nil
	}

	segs := splitPath(p)
	h := root
	for i := len(segs) - 1; i >= 0; i-- {
		var err error
		h, err = t.Write([]object.TreeEntry{{Name: segs[i], Mode: filemode.Dir, Hash: h}})
		if err != nil {
			return plumbing.ZeroHash, err
		}
	}

	return h, nil
}

// Insert places the object at p, replacing what was there. Inserting the empty
// tree or a zero hash removes the entry, and directories left empty are pruned.
func (t *Trees) Insert(root plumbing.Hash, p string, h plumbing.Hash, mode filemode.FileMode) (plumbing.Hash, error) {
	segs := splitPath(p)
	if len(segs) == 0 {
		if mode == filemode.Dir && !h.IsZero() {
			return h, nil
		}
		return EmptyTree, nil
	}
	return t.insert(root, segs, h, mode, 0)
}

func (t *Trees) insert(root plumbing.Hash, segs []string, h plumbing.Hash, mode filemode.FileMode, depth int) (plumbing.Hash, error) {
	if err := checkDepth(depth); err != nil {
		return plumbing.ZeroHash, err
	}

	entries, err := t.Entries(root)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	name := segs[0]
	r := make([]object.TreeEntry, 0, len(entries)+1)
	var existing object.TreeEntry
	found := false
	for _, e := range entries {
		if e.Name == name {
			existing, found = e, true
			continue
		}
		r = append(r, e)
	}

	if len(segs) == 1 {
		if !h.IsZero() && !(mode == filemode.Dir && h == EmptyTree) {
			r = append(r, object.TreeEntry{Name: name, Mode: mode, Hash: h})
		}
		return t.Write(r)
	}

	sub := EmptyTree
	if found && isDir(existing) {
		sub = existing.Hash
	}
	sub, err = t.insert(sub, segs[1:], h, mode, depth+1)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	r = append(r, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: sub})

	return t.Write(r)
}

// Files lists every non directory entry below root keyed by its slash separated path.
func (t *Trees) Files(root plumbing.Hash) (map[string]object.TreeEntry, error) {
	r := make(map[string]object.TreeEntry)
	if err := t.walkFiles(root, "", 0, func(p string, e object.TreeEntry) error {
		r[p] = e
		return nil
	}); err != nil {
		return nil, err
	}
	return r, nil
}

func (t *Trees) walkFiles(root plumbing.Hash, base string, depth int, fn func(string, object.TreeEntry) error) error {
	if err := checkDepth(depth); err != nil {
		return err
	}
	entries, err := t.Entries(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(base, e.Name)
		if isDir(e) {
			if err := t.walkFiles(e.Hash, p, depth+1, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(p, e); err != nil {
			return err
		}
	}
	return nil
}

// FromFiles builds the tree holding the files, the inverse of [Trees.Files].
func (t *Trees) FromFiles(files map[string]object.TreeEntry) (plumbing.Hash, error) {
	type dir struct {
		files map[string]object.TreeEntry
		dirs  map[string]*dir
	}
	newDir := func() *dir {
		return &dir{files: make(map[string]object.TreeEntry), dirs: make(map[string]*dir)}
	}

	root := newDir()
	for p, e := range files {
		segs := splitPath(p)
		if len(segs) == 0 {
			continue
		}
		d := root
		for _, seg := range segs[:len(segs)-1] {
			next, found := d.dirs[seg]
			if !found {
				next = newDir()
				d.dirs[seg] = next
			}
			d = next
		}
		name := segs[len(segs)-1]
		e.Name = name
		d.files[name] = e
	}

	var write func(d *dir, depth int) (plumbing.Hash, error)
	write = func(d *dir, depth int) (plumbing.Hash, error) {
		if err := checkDepth(depth); err != nil {
			return plumbing.ZeroHash, err
		}
		entries := make([]object.TreeEntry, 0, len(d.files)+len(d.dirs))
		for name, sub := range d.dirs {
			if _, clash := d.files[name]; clash {
				return plumbing.ZeroHash, fmt.Errorf("%w: %s is both a file and a directory", ErrMergeConflict, name)
			}
			h, err := write(sub, depth+1)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
		}
		for _, e := range d.files {
			entries = append(entries, e)
		}
		return t.Write(entries)
	}

	return write(root, 0)
}
