package josh_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

var upstream = map[string]string{
	"README.md":      "readme",
	"lib/a.txt":      "a",
	"lib/sub/b.txt":  "b",
	"app/main.go":    "package main",
	"docs/guide.md":  "guide",
	"secret/key.pem": "key",
}

func TestApplyTree(t *testing.T) {
	tests := []struct {
		spec string
		want map[string]string
	}{
		{spec: ":/lib:prefix=vendor", want: map[string]string{"vendor/a.txt": "a", "vendor/sub/b.txt": "b"}},
		{spec: ":/lib", want: map[string]string{"a.txt": "a", "sub/b.txt": "b"}},
		{spec: "::lib/", want: map[string]string{"lib/a.txt": "a", "lib/sub/b.txt": "b"}},
		{spec: "::README.md", want: map[string]string{"README.md": "readme"}},
		{spec: "::doc.md=docs/guide.md", want: map[string]string{"doc.md": "guide"}},
		{spec: "::lib/**/*.txt", want: map[string]string{"lib/a.txt": "a", "lib/sub/b.txt": "b"}},
		{spec: ":[::README.md,:/docs:prefix=manual]", want: map[string]string{"README.md": "readme", "manual/guide.md": "guide"}},
		{spec: ":exclude[::secret/,::app/,::lib/]", want: map[string]string{"README.md": "readme", "docs/guide.md": "guide"}},
		{spec: ":subtract[::lib/,::lib/sub/]", want: map[string]string{"lib/a.txt": "a"}},
		{spec: `:/lib:replace("a":"z")`, want: map[string]string{"a.txt": "z", "sub/b.txt": "b"}},
		{spec: ":empty", want: map[string]string{}},
		{spec: ":/", want: upstream},
		{spec: ":/lib:squash:author=\"x\";\"x@example.com\"", want: map[string]string{"a.txt": "a", "sub/b.txt": "b"}},
	}

	for _, tt := range tests {
		tx := newTx(t)
		root := writeTree(t, tx, upstream)
		f, err := filter.Parse(tt.spec)
		require.NoError(t, err, tt.spec)

		got, err := josh.ApplyTree(tx, f, root)
		require.NoError(t, err, tt.spec)
		if diff := cmp.Diff(tt.want, readTree(t, tx, got)); diff != "" {
			t.Errorf("apply %s (-want +got):\n%s", tt.spec, diff)
		}
	}
}

func TestApplyTree_composePriority(t *testing.T) {
	tx := newTx(t)
	root := writeTree(t, tx, map[string]string{"a/x.txt": "from a", "b/x.txt": "from b", "b/y.txt": "y"})

	f := filter.MustParse(":[:/a,:/b]")
	got, err := josh.ApplyTree(tx, f, root)
	require.NoError(t, err)
	want := map[string]string{"x.txt": "from a", "y.txt": "y"}
	if diff := cmp.Diff(want, readTree(t, tx, got)); diff != "" {
		t.Errorf("earlier entries win (-want +got):\n%s", diff)
	}
}

func TestApplyTree_workspace(t *testing.T) {
	tx := newTx(t)
	files := map[string]string{
		"lib/a.txt":               "a",
		"ws/app/workspace.josh":   "deps/lib = :/lib\n",
		"ws/app/main.go":          "package main",
		"unrelated/u.txt":         "u",
	}
	root := writeTree(t, tx, files)

	got, err := josh.ApplyTree(tx, filter.MustParse(":workspace=ws/app"), root)
	require.NoError(t, err)
	want := map[string]string{
		"workspace.josh": "deps/lib = :/lib\n",
		"main.go":        "package main",
		"deps/lib/a.txt": "a",
	}
	if diff := cmp.Diff(want, readTree(t, tx, got)); diff != "" {
		t.Errorf("workspace (-want +got):\n%s", diff)
	}
}

func TestApplyTree_stored(t *testing.T) {
	tx := newTx(t)
	root := writeTree(t, tx, map[string]string{
		"lib/a.txt":         "a",
		"filters/lib.josh":  ":/lib:prefix=vendor\n",
		"filters/bad.josh":  ":nope(\n",
	})

	got, err := josh.ApplyTree(tx, filter.MustParse(":+filters/lib"), root)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"vendor/a.txt": "a"}, readTree(t, tx, got)); diff != "" {
		t.Errorf("stored (-want +got):\n%s", diff)
	}

	got, err = josh.ApplyTree(tx, filter.MustParse(":+filters/bad"), root)
	require.NoError(t, err)
	if got != tree.EmptyTree {
		t.Errorf("malformed stored filter should select nothing, got %v", readTree(t, tx, got))
	}
}

func TestApplyTree_index(t *testing.T) {
	tx := newTx(t)
	root := writeTree(t, tx, map[string]string{"a.txt": "a"})

	got, err := josh.ApplyTree(tx, filter.New(filter.IndexOp{}), root)
	require.NoError(t, err)
	files := readTree(t, tx, got)
	require.Contains(t, files, josh.IndexFile)
	require.Contains(t, files[josh.IndexFile], " a.txt\n")
}

func TestUnapplyTree_roundTrip(t *testing.T) {
	specs := []string{
		":/lib",
		":/lib:prefix=vendor",
		"::lib/",
		":[::README.md,:/docs:prefix=manual]",
		":exclude[::secret/]",
		"::doc.md=docs/guide.md",
	}

	for _, spec := range specs {
		tx := newTx(t)
		parent := writeTree(t, tx, upstream)
		f := filter.MustParse(spec)

		filtered, err := josh.ApplyTree(tx, f, parent)
		require.NoError(t, err, spec)
		files := readTree(t, tx, filtered)
		for p := range files {
			files[p] += " changed"
		}
		pushed := writeTree(t, tx, files)

		back, err := josh.UnapplyTree(tx, f, pushed, parent)
		require.NoError(t, err, spec)
		again, err := josh.ApplyTree(tx, f, back)
		require.NoError(t, err, spec)
		if diff := cmp.Diff(files, readTree(t, tx, again)); diff != "" {
			t.Errorf("%s: apply(unapply(t)) != t (-want +got):\n%s", spec, diff)
		}

		unseen, err := josh.ApplyTree(tx, filter.Exclude(f), parent)
		require.NoError(t, err)
		unseenBack, err := josh.ApplyTree(tx, filter.Exclude(f), back)
		require.NoError(t, err)
		if unseen != unseenBack {
			t.Errorf("%s: content outside of the filter changed", spec)
		}
	}
}

func TestUnapplyTree_subdirScenario(t *testing.T) {
	tx := newTx(t)
	parent := writeTree(t, tx, upstream)
	pushed := writeTree(t, tx, map[string]string{"a.txt": "new a", "c.txt": "c"})

	back, err := josh.UnapplyTree(tx, filter.MustParse(":/lib"), pushed, parent)
	require.NoError(t, err)

	want := map[string]string{}
	for p, c := range upstream {
		want[p] = c
	}
	delete(want, "lib/sub/b.txt")
	want["lib/a.txt"] = "new a"
	want["lib/c.txt"] = "c"
	if diff := cmp.Diff(want, readTree(t, tx, back)); diff != "" {
		t.Errorf("unapply (-want +got):\n%s", diff)
	}
}

func TestUnapplyTree_replace(t *testing.T) {
	tx := newTx(t)
	parent := writeTree(t, tx, map[string]string{"a.txt": "foo", "b.txt": "keep"})
	f := filter.MustParse(`:replace("foo":"bar")`)

	pushed := writeTree(t, tx, map[string]string{"a.txt": "baz", "b.txt": "keep"})
	back, err := josh.UnapplyTree(tx, f, pushed, parent)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"a.txt": "baz", "b.txt": "keep"}, readTree(t, tx, back)); diff != "" {
		t.Errorf("unapply replace (-want +got):\n%s", diff)
	}

	added := writeTree(t, tx, map[string]string{"a.txt": "bar", "b.txt": "keep", "new.txt": "x"})
	_, err = josh.UnapplyTree(tx, f, added, parent)
	if !errors.Is(err, josh.ErrNotReversible) {
		t.Errorf("want ErrNotReversible, got %v", err)
	}
}

func TestCheckUnapply(t *testing.T) {
	tx := newTx(t)
	parent := writeTree(t, tx, upstream)
	f := filter.MustParse(":/lib")
	pushed := writeTree(t, tx, map[string]string{"a.txt": "x"})

	back, err := josh.UnapplyTree(tx, f, pushed, parent)
	require.NoError(t, err)
	result, err := josh.CheckUnapply(tx, f, pushed, back)
	require.NoError(t, err)
	require.NoError(t, result.ToError())

	result, err = josh.CheckUnapply(tx, f, pushed, parent)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	if diff := cmp.Diff([]string{"a.txt"}, result.Errors[0].ErrorFiles()); diff != "" {
		t.Errorf("changed file (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sub/b.txt"}, result.Errors[1].ErrorFiles()); diff != "" {
		t.Errorf("unexpected file (-want +got):\n%s", diff)
	}
	if !errors.Is(result.ToError(), josh.ErrNotReversible) {
		t.Errorf("want ErrNotReversible, got %v", result.ToError())
	}
}

func TestApplyTree_chainAfterOverlappingCompose(t *testing.T) {
	tx := newTx(t)
	root := writeTree(t, tx, map[string]string{"b/a/f": "f"})
	raw := filter.Chain(filter.Compose(filter.Prefix("c"), filter.File("b/a/f", "b/a/f")), filter.Subdir("b"))

	got, err := josh.ApplyTree(tx, raw, root)
	require.NoError(t, err)
	optimized, err := josh.ApplyTree(tx, filter.Optimize(raw), root)
	require.NoError(t, err)

	if diff := cmp.Diff(map[string]string{}, readTree(t, tx, got)); diff != "" {
		t.Errorf("raw (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(readTree(t, tx, got), readTree(t, tx, optimized)); diff != "" {
		t.Errorf("optimized (-raw +optimized):\n%s", diff)
	}
}

func TestUnapplyTree_composeMixed(t *testing.T) {
	tx := newTx(t)
	parent := writeTree(t, tx, map[string]string{"a/x.txt": "x", "b/y.txt": "foo", "c/z.txt": "z"})
	f := filter.MustParse(`:[:/a:prefix=x,:/b:replace("foo":"bar"):prefix=y]`)

	filtered, err := josh.ApplyTree(tx, f, parent)
	require.NoError(t, err)
	files := readTree(t, tx, filtered)
	if diff := cmp.Diff(map[string]string{"x/x.txt": "x", "y/y.txt": "bar"}, files); diff != "" {
		t.Fatalf("apply (-want +got):\n%s", diff)
	}

	files["x/new.txt"] = "new"
	back, err := josh.UnapplyTree(tx, f, writeTree(t, tx, files), parent)
	require.NoError(t, err)
	want := map[string]string{"a/x.txt": "x", "a/new.txt": "new", "b/y.txt": "foo", "c/z.txt": "z"}
	if diff := cmp.Diff(want, readTree(t, tx, back)); diff != "" {
		t.Errorf("new file in the invertible part (-want +got):\n%s", diff)
	}
	again, err := josh.ApplyTree(tx, f, back)
	require.NoError(t, err)
	if diff := cmp.Diff(files, readTree(t, tx, again)); diff != "" {
		t.Errorf("apply(unapply(t)) != t (-want +got):\n%s", diff)
	}

	delete(files, "y/y.txt")
	back, err = josh.UnapplyTree(tx, f, writeTree(t, tx, files), parent)
	require.NoError(t, err)
	delete(want, "b/y.txt")
	if diff := cmp.Diff(want, readTree(t, tx, back)); diff != "" {
		t.Errorf("removed file in the replaced part (-want +got):\n%s", diff)
	}

	files["y/new.txt"] = "n"
	_, err = josh.UnapplyTree(tx, f, writeTree(t, tx, files), parent)
	if !errors.Is(err, josh.ErrNotReversible) {
		t.Errorf("want ErrNotReversible for a new file in the replaced part, got %v", err)
	}
}
