package tree_test

import (
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-cmp/cmp"

	"github.com/josh-project/josh-sub001/tree"
)

func newTrees() *tree.Trees {
	return tree.New(memory.NewStorage(), tree.NewMemo())
}

// build writes a tree of path to content.
func build(t *testing.T, tr *tree.Trees, files map[string]string) plumbing.Hash {
	t.Helper()
	entries := make(map[string]object.TreeEntry, len(files))
	for p, c := range files {
		h, err := tr.WriteBlob([]byte(c))
		if err != nil {
			t.Fatal(err)
		}
		entries[p] = object.TreeEntry{Mode: filemode.Regular, Hash: h}
	}
	h, err := tr.FromFiles(entries)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// contents reads back the files of a tree.
func contents(t *testing.T, tr *tree.Trees, h plumbing.Hash) map[string]string {
	t.Helper()
	files, err := tr.Files(h)
	if err != nil {
		t.Fatal(err)
	}
	r := make(map[string]string, len(files))
	for p, e := range files {
		data, err := tr.ReadBlob(e.Hash)
		if err != nil {
			t.Fatal(err)
		}
		r[p] = string(data)
	}
	return r
}

func TestTrees_identities(t *testing.T) {
	tr := newTrees()
	a := build(t, tr, map[string]string{"a.txt": "a", "d/b.txt": "b", "d/e/c.txt": "c"})

	if got, _ := tr.Subtract(a, a); got != tree.EmptyTree {
		t.Errorf("subtract(A,A): want empty, got %s", got)
	}
	if got, _ := tr.Subtract(a, tree.EmptyTree); got != a {
		t.Errorf("subtract(A,empty): want %s, got %s", a, got)
	}
	if got, _ := tr.Overlay(a, tree.EmptyTree); got != a {
		t.Errorf("overlay(A,empty): want %s, got %s", a, got)
	}
	if got, _ := tr.Overlay(a, a); got != a {
		t.Errorf("overlay(A,A): want %s, got %s", a, got)
	}
	empty := build(t, tr, nil)
	if empty != tree.EmptyTree {
		t.Errorf("empty tree id: want %s, got %s", tree.EmptyTree, empty)
	}
}

func TestTrees_subtractOverlay(t *testing.T) {
	tr := newTrees()
	a := build(t, tr, map[string]string{"a.txt": "a", "d/b.txt": "b", "d/c.txt": "c"})
	b := build(t, tr, map[string]string{"a.txt": "changed", "d/b.txt": "b"})

	sub, err := tr.Subtract(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"a.txt": "a", "d/c.txt": "c"}
	if diff := cmp.Diff(want, contents(t, tr, sub)); diff != "" {
		t.Fatalf("subtract mismatch (-want +got):\n%s", diff)
	}

	ov, err := tr.Overlay(b, a)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]string{"a.txt": "changed", "d/b.txt": "b", "d/c.txt": "c"}
	if diff := cmp.Diff(want, contents(t, tr, ov)); diff != "" {
		t.Fatalf("overlay mismatch (-want +got):\n%s", diff)
	}
}

func TestTrees_subdirPrefix(t *testing.T) {
	tr := newTrees()
	root := build(t, tr, map[string]string{"lib/a.txt": "a", "lib/x/b.txt": "b", "other.txt": "o"})

	sub, err := tr.Subdir(root, "lib")
	if err != nil {
		t.Fatal(err)
	}
	back, err := tr.Prefix(sub, "lib")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"lib/a.txt": "a", "lib/x/b.txt": "b"}
	if diff := cmp.Diff(want, contents(t, tr, back)); diff != "" {
		t.Fatalf("prefix(subdir) mismatch (-want +got):\n%s", diff)
	}

	if missing, _ := tr.Subdir(root, "nope"); missing != tree.EmptyTree {
		t.Fatalf("missing subdir: want empty, got %s", missing)
	}
	if file, _ := tr.Subdir(root, "other.txt"); file != tree.EmptyTree {
		t.Fatalf("subdir of file: want empty, got %s", file)
	}
}

func TestTrees_insert(t *testing.T) {
	tr := newTrees()
	root := build(t, tr, map[string]string{"a/b/c.txt": "c", "a/d.txt": "d"})
	blob, err := tr.WriteBlob([]byte("new"))
	if err != nil {
		t.Fatal(err)
	}

	root, err = tr.Insert(root, "a/b/e.txt", blob, filemode.Regular)
	if err != nil {
		t.Fatal(err)
	}
	root, err = tr.Insert(root, "a/d.txt", plumbing.ZeroHash, filemode.Regular)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"a/b/c.txt": "c", "a/b/e.txt": "new"}
	if diff := cmp.Diff(want, contents(t, tr, root)); diff != "" {
		t.Fatalf("insert mismatch (-want +got):\n%s", diff)
	}

	root, err = tr.Insert(root, "a/b", tree.EmptyTree, filemode.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if root != tree.EmptyTree {
		t.Fatalf("removing the last directory should leave the empty tree, got %s", root)
	}
}

func TestTrees_merge3(t *testing.T) {
	tr := newTrees()
	base := build(t, tr, map[string]string{"a.txt": "a", "b.txt": "b", "d/c.txt": "c"})
	ours := build(t, tr, map[string]string{"a.txt": "ours", "b.txt": "b", "d/c.txt": "c", "d/o.txt": "o"})
	theirs := build(t, tr, map[string]string{"a.txt": "theirs", "b.txt": "b2", "d/c.txt": "c"})

	m, err := tr.Merge3(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"a.txt": "theirs", "b.txt": "b2", "d/c.txt": "c", "d/o.txt": "o"}
	if diff := cmp.Diff(want, contents(t, tr, m)); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}

	clash := build(t, tr, map[string]string{"a.txt/x": "dir now", "b.txt": "b", "d/c.txt": "c"})
	if _, err := tr.Merge3(base, ours, clash); !errors.Is(err, tree.ErrMergeConflict) {
		t.Fatalf("want ErrMergeConflict, got %v", err)
	}
}

func TestTrees_pathsPopulate(t *testing.T) {
	tr := newTrees()
	root := build(t, tr, map[string]string{"lib/a.txt": "a", "lib/x/b.txt": "b"})

	paths, err := tr.Pathstree(root, "")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"lib/a.txt": "lib/a.txt\n", "lib/x/b.txt": "lib/x/b.txt\n"}
	if diff := cmp.Diff(want, contents(t, tr, paths)); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}

	// filtered view: lib moved to vendor
	filteredPaths, _ := tr.Subdir(paths, "lib")
	filteredPaths, _ = tr.Prefix(filteredPaths, "vendor")
	pushed := build(t, tr, map[string]string{"vendor/a.txt": "a2", "vendor/x/b.txt": "b"})

	populated, err := tr.Populate(filteredPaths, pushed)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]string{"lib/a.txt": "a2", "lib/x/b.txt": "b"}
	if diff := cmp.Diff(want, contents(t, tr, populated)); diff != "" {
		t.Fatalf("populate mismatch (-want +got):\n%s", diff)
	}

	inverted, err := tr.InvertPaths(filteredPaths)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]string{"lib/a.txt": "vendor/a.txt\n", "lib/x/b.txt": "vendor/x/b.txt\n"}
	if diff := cmp.Diff(want, contents(t, tr, inverted)); diff != "" {
		t.Fatalf("invert mismatch (-want +got):\n%s", diff)
	}

	extra := build(t, tr, map[string]string{"vendor/new.txt": "n"})
	if _, err := tr.Populate(filteredPaths, extra); !errors.Is(err, tree.ErrUnmappedPath) {
		t.Fatalf("want ErrUnmappedPath, got %v", err)
	}
}

func TestTrees_glob(t *testing.T) {
	tr := newTrees()
	root := build(t, tr, map[string]string{"a.txt": "a", "d/b.txt": "b", "d/c.go": "c"})

	top, err := tr.Glob(root, "*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"a.txt": "a"}, contents(t, tr, top)); diff != "" {
		t.Fatalf("glob mismatch (-want +got):\n%s", diff)
	}

	deep, err := tr.Glob(root, "**/*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"a.txt": "a", "d/b.txt": "b"}, contents(t, tr, deep)); diff != "" {
		t.Fatalf("glob mismatch (-want +got):\n%s", diff)
	}
}

func TestMemo(t *testing.T) {
	tr := newTrees()
	a := build(t, tr, map[string]string{"a.txt": "a", "b.txt": "b"})
	b := build(t, tr, map[string]string{"a.txt": "a"})

	first, _ := tr.Subtract(a, b)
	second, _ := tr.Subtract(a, b)
	if first != second {
		t.Fatalf("memoized result differs: %s %s", first, second)
	}
	if hits, _ := tr.Memo().Stats(); hits == 0 {
		t.Fatal("second subtract did not hit the memo")
	}

	var nilMemo *tree.Memo
	nilMemo.Store(tree.Key{Op: "x"}, a)
	if _, found := nilMemo.Load(tree.Key{Op: "x"}); found {
		t.Fatal("nil memo should not remember")
	}
}
