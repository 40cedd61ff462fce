package filter_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/josh-project/josh-sub001/filter"
)

func TestParse_spec(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: ":/lib:prefix=vendor", want: ":/lib:prefix=vendor"},
		{in: ":/lib:prefix=lib", want: "::lib/"},
		{in: "::docs/", want: "::docs/"},
		{in: ":/a:/b", want: ":/a/b"},
		{in: ":/a/b", want: ":/a/b"},
		{in: ":prefix=a:prefix=b", want: ":prefix=b/a"},
		{in: ":prefix=x:/x", want: ":/"},
		{in: ":prefix=x:/y", want: ":empty"},
		{in: ":/", want: ":/"},
		{in: "", want: ":/"},
		{in: ":[:/a,:/b]", want: ":[:/a,:/b]"},
		{in: ":[:/a:prefix=x,:/b:prefix=x]", want: ":[:/a,:/b]:prefix=x"},
		{in: ":[:/a,:empty,:/a]", want: ":/a"},
		{in: ":exclude[:empty]", want: ":/"},
		{in: ":exclude[:/]", want: ":empty"},
		{in: ":subtract[:/a,:/a]", want: ":empty"},
		{in: ":subtract[:/,::secret]", want: ":exclude[::secret]"},
		{in: "::README.md", want: "::README.md"},
		{in: "::doc.md=README.md", want: "::doc.md=README.md"},
		{in: "::src/**/*.go", want: "::src/**/*.go"},
		{in: ":workspace=ws/app", want: ":workspace=ws/app"},
		{in: ":+filters/lib", want: ":+filters/lib"},
		{in: ":squash", want: ":squash"},
		{in: `:author="Jane Doe";"jane@example.com"`, want: `:author="Jane Doe";"jane@example.com"`},
		{in: `:message="[x] {@message}"`, want: `:message="[x] {@message}"`},
		{in: `:replace("foo":"bar")`, want: `:replace("foo":"bar")`},
		{in: ":rev(abc123:prefix=old,_:/)", want: ":rev(abc123:prefix=old,_:/)"},
		{in: `:~(url="https://example.com/r.git")[:/lib]`, want: `:~(url="https://example.com/r.git")[:/lib]`},
		{in: ":prune=trivial-merge:unsign:linear", want: ":prune=trivial-merge:unsign:linear"},
		{in: ":/a:PATHS:INVERT", want: ":/a:PATHS:INVERT"},
		{in: "a = :/x\nb = :/y\n", want: ":[:/x:prefix=a,:/y:prefix=b]"},
		{in: "# comment\nlib\n", want: "::lib/"},
	}

	for _, tt := range tests {
		f, err := filter.Parse(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if got := filter.Spec(f); got != tt.want {
			t.Errorf("parse %q: want: %s, got: %s", tt.in, tt.want, got)
		}
	}
}

func TestParse_roundTrip(t *testing.T) {
	specs := []string{
		":/lib:prefix=vendor",
		":[:/a,:/b:prefix=c,::x/y.txt]",
		":[a = :/x,b/c = :[:/y,:/z]]",
		":exclude[::secret,:/private]",
		":pin[:/vendor]",
		":subtract[:/a,:/a/b]",
		`:squash(abc:author="a";"a@b",_:/)`,
		`:message="{@message}";"(?s)^(?P<summary>[^\n]*)"`,
		`:~(remote="origin",url="git@example.com:r.git")[:workspace=ws]`,
		":/a:FOLD",
	}

	for _, s := range specs {
		f := filter.MustParse(s)
		if filter.Optimize(f) != f {
			t.Errorf("parse of %q is not optimized", s)
		}
		back, err := filter.Parse(filter.Spec(f))
		if err != nil {
			t.Fatalf("reparse %q: %v", filter.Spec(f), err)
		}
		if back != f {
			t.Errorf("spec %q does not round trip, got %q", filter.Spec(f), filter.Spec(back))
		}
		pretty, err := filter.Parse(filter.Pretty(f, 4))
		if err != nil {
			t.Fatalf("reparse pretty %q: %v", filter.Pretty(f, 4), err)
		}
		if pretty != f {
			t.Errorf("pretty %q does not round trip, got %q", filter.Pretty(f, 4), filter.Spec(pretty))
		}
	}
}

func TestFilter_identity(t *testing.T) {
	a := filter.Chain(filter.Subdir("lib"), filter.Prefix("vendor"))
	b := filter.Chain(filter.Subdir("lib"), filter.Prefix("vendor"))
	if a != b || a.ID() != b.ID() {
		t.Fatalf("structurally equal filters differ: %s %s", a.ID(), b.ID())
	}
	if a == filter.Chain(filter.Subdir("lib"), filter.Prefix("other")) {
		t.Fatal("different filters are equal")
	}
	if !filter.NopFilter.ID().IsZero() {
		t.Fatalf("nop filter id is not zero: %s", filter.NopFilter.ID())
	}
	if !filter.New(filter.NopOp{}).IsNop() {
		t.Fatal("NopOp is not nop")
	}
}

func TestParse_errors(t *testing.T) {
	for _, in := range []string{
		":prefix",
		":bogus",
		":[:/a",
		":/a]",
		":subtract[:/a]",
		`:author="a"`,
		":rev(abc)",
		"a = b",
		`:/"unterminated`,
	} {
		_, err := filter.Parse(in)
		var perr *filter.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("parse %q: want a ParseError, got: %v", in, err)
			continue
		}
		if perr.Msg == "" {
			t.Errorf("parse %q: empty message", in)
		}
	}
}

func TestOptimize_idempotent(t *testing.T) {
	for _, s := range []string{
		":[:/a/b:prefix=x/y,:/a/c:prefix=x/y]",
		":[:/a,:[:/b,:/c]]",
		":/a:[:/b,:/c]",
		":[:/a,:/b]:prefix=p",
		":subtract[:[:/a,:/b],:[:/b,:/c]]",
	} {
		f := filter.MustParse(s)
		if g := filter.Optimize(f); g != f {
			t.Errorf("optimize not idempotent for %q: %q", s, filter.Spec(g))
		}
	}
}

func TestInvert(t *testing.T) {
	inv, err := filter.Invert(filter.MustParse(":/a:prefix=b"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := filter.Spec(inv), ":/b:prefix=a"; got != want {
		t.Fatalf("want: %s, got: %s", want, got)
	}

	inv, err = filter.Invert(filter.MustParse("::x.txt=y.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := filter.Spec(inv), "::y.txt=x.txt"; got != want {
		t.Fatalf("want: %s, got: %s", want, got)
	}

	inv, err = filter.Invert(filter.MustParse(`:/a:author="x";"x@y"`))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := filter.Spec(inv), ":prefix=a"; got != want {
		t.Fatalf("want: %s, got: %s", want, got)
	}

	if _, err := filter.Invert(filter.MustParse(":workspace=ws")); !errors.Is(err, filter.ErrNonInvertible) {
		t.Fatalf("want ErrNonInvertible, got: %v", err)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		glob, path string
		want       bool
	}{
		{"*.txt", "a.txt", true},
		{"*.txt", "d/a.txt", false},
		{"**/*.txt", "d/e/a.txt", true},
		{"d/*", "d/a", true},
		{"d/*", "d/e/a", false},
		{"a?c", "abc", true},
	}
	for _, tt := range tests {
		if got := filter.MatchGlob(tt.glob, tt.path); got != tt.want {
			t.Errorf("match %q %q: want %v, got %v", tt.glob, tt.path, tt.want, got)
		}
	}
}

func TestMeta(t *testing.T) {
	f := filter.WithMeta(filter.MustParse(":/lib"), map[string]string{filter.MetaURL: "https://a", filter.MetaRemote: "r"})
	f = filter.WithMeta(f, map[string]string{filter.MetaURL: "https://b"})

	want := map[string]string{filter.MetaURL: "https://b", filter.MetaRemote: "r"}
	if diff := cmp.Diff(want, filter.Meta(f)); diff != "" {
		t.Fatalf("meta mismatch (-want +got):\n%s", diff)
	}
	if filter.Peel(f) != filter.Subdir("lib") {
		t.Fatalf("peel: got %s", filter.Spec(filter.Peel(f)))
	}
	if !filter.IsTreeOnly(f) {
		t.Fatal("annotated subdir is not tree only")
	}
	if filter.IsTreeOnly(filter.MustParse(":/lib:squash")) {
		t.Fatal("squash is tree only")
	}
}

func TestFlatten_chainOverCompose(t *testing.T) {
	tests := []struct {
		name string
		in   filter.Filter
		want filter.Filter
	}{
		{
			name: "overlapping parts keep the chain",
			in:   filter.Chain(filter.Compose(filter.Prefix("c"), filter.File("b/a/f", "b/a/f")), filter.Subdir("b")),
			want: filter.Chain(filter.Compose(filter.Prefix("c"), filter.File("b/a/f", "b/a/f")), filter.Subdir("b")),
		},
		{
			name: "disjoint parts",
			in:   filter.Chain(filter.Compose(filter.Subdir("a"), filter.Subdir("b")), filter.Subdir("x")),
			want: filter.Compose(filter.Chain(filter.Subdir("a"), filter.Subdir("x")), filter.Chain(filter.Subdir("b"), filter.Subdir("x"))),
		},
		{
			name: "prefix keeps everything",
			in:   filter.Chain(filter.Compose(filter.Prefix("c"), filter.File("b/a/f", "b/a/f")), filter.Prefix("p")),
			want: filter.Compose(filter.Chain(filter.Prefix("c"), filter.Prefix("p")), filter.Chain(filter.File("b/a/f", "b/a/f"), filter.Prefix("p"))),
		},
	}

	for _, tt := range tests {
		if diff := cmp.Diff(filter.Spec(tt.want), filter.Spec(filter.Flatten(tt.in))); diff != "" {
			t.Errorf("%s (-want +got):\n%s", tt.name, diff)
		}
	}
}
