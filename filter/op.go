package filter

import (
	"slices"
	"sort"
)

// Op is the closed set of operations a [Filter] resolves to.
type Op interface {
	encode(e *encoder)
}

type (
	// NopOp passes the input through unchanged.
	NopOp struct{}
	// EmptyOp produces the empty tree.
	EmptyOp struct{}

	// SubdirOp selects the content of a subdirectory.
	SubdirOp struct{ Path string }
	// PrefixOp moves the content under a directory.
	PrefixOp struct{ Path string }
	// FileOp selects a single file at Src and places it at Dst.
	FileOp struct{ Dst, Src string }
	// PatternOp selects the files whose paths match a glob.
	PatternOp struct{ Glob string }
	// WorkspaceOp selects a directory and the mappings listed in its workspace.josh.
	WorkspaceOp struct{ Path string }
	// StoredOp applies the filter stored in the file Path + ".josh".
	StoredOp struct{ Path string }

	// ComposeOp is the union of several filters applied to the same input.
	// Earlier filters take priority.
	ComposeOp struct{ Filters []Filter }
	// ChainOp applies First and then Second.
	ChainOp struct{ First, Second Filter }
	// SubtractOp removes from the output of A what B would select.
	SubtractOp struct{ A, B Filter }
	// ExcludeOp removes the content selected by Filter.
	ExcludeOp struct{ Filter Filter }
	// PinOp holds the content selected by Filter at the state of the first filtered parent.
	PinOp struct{ Filter Filter }

	// SquashOp collapses history. With nil Points all history is squashed into the
	// filtered commit, otherwise only the listed revisions are kept.
	SquashOp struct{ Points []RevFilter }
	// AuthorOp rewrites the author of commits.
	AuthorOp struct{ Name, Email string }
	// CommitterOp rewrites the committer of commits.
	CommitterOp struct{ Name, Email string }
	// MessageOp rewrites commit messages. Format may reference {@message}, {@commit}
	// and named groups of Regex.
	MessageOp struct{ Format, Regex string }
	// RegexReplaceOp rewrites the content of every file.
	RegexReplaceOp struct{ Replacements []Replacement }
	// PruneOp drops merges that do not change the filtered tree.
	PruneOp struct{}
	// UnsignOp strips signatures from commits.
	UnsignOp struct{}
	// LinearOp keeps only the first parent of every commit.
	LinearOp struct{}

	// PathsOp replaces every file with a blob naming its path.
	PathsOp struct{}
	// IndexOp produces a listing of all files and their blob ids.
	IndexOp struct{}
	// InvertOp turns a paths tree into the reverse mapping.
	InvertOp struct{}
	// FoldOp accumulates the trees of all filtered ancestors.
	FoldOp struct{}

	// RevOp applies a filter selected by the revision the commit descends into.
	RevOp struct{ Entries []RevFilter }

	// MetaOp attaches key/value annotations to a filter.
	MetaOp struct {
		Values map[string]string
		Inner  Filter
	}
)

// RevFilter pairs a revision with a filter. An empty Rev is the default entry.
type RevFilter struct {
	Rev    string
	Filter Filter
}

// Replacement is a single regular expression replacement.
type Replacement struct {
	Regex       string
	Replacement string
}

func (NopOp) encode(e *encoder)   { e.tag("nop") }
func (EmptyOp) encode(e *encoder) { e.tag("empty") }

func (o SubdirOp) encode(e *encoder) {
	e.tag("subdir")
	e.str(o.Path)
}
func (o PrefixOp) encode(e *encoder) {
	e.tag("prefix")
	e.str(o.Path)
}
func (o FileOp) encode(e *encoder) {
	e.tag("file")
	e.str(o.Dst)
	e.str(o.Src)
}
func (o PatternOp) encode(e *encoder) {
	e.tag("pattern")
	e.str(o.Glob)
}

func (o WorkspaceOp) encode(e *encoder) {
	e.tag("workspace")
	e.str(o.Path)
}
func (o StoredOp) encode(e *encoder) {
	e.tag("stored")
	e.str(o.Path)
}

func (o ComposeOp) encode(e *encoder) {
	e.tag("compose")
	e.filters(o.Filters)
}
func (o ChainOp) encode(e *encoder) {
	e.tag("chain")
	e.filter(o.First)
	e.filter(o.Second)
}
func (o SubtractOp) encode(e *encoder) {
	e.tag("subtract")
	e.filter(o.A)
	e.filter(o.B)
}
func (o ExcludeOp) encode(e *encoder) {
	e.tag("exclude")
	e.filter(o.Filter)
}
func (o PinOp) encode(e *encoder) {
	e.tag("pin")
	e.filter(o.Filter)
}

func (o SquashOp) encode(e *encoder) {
	e.tag("squash")
	if o.Points == nil {
		e.num(0)
		return
	}
	e.num(1)
	encodeRevFilters(e, o.Points)
}

func (o AuthorOp) encode(e *encoder) {
	e.tag("author")
	e.str(o.Name)
	e.str(o.Email)
}
func (o CommitterOp) encode(e *encoder) {
	e.tag("committer")
	e.str(o.Name)
	e.str(o.Email)
}
func (o MessageOp) encode(e *encoder) {
	e.tag("message")
	e.str(o.Format)
	e.str(o.Regex)
}

func (o RegexReplaceOp) encode(e *encoder) {
	e.tag("replace")
	e.num(len(o.Replacements))
	for _, r := range o.Replacements {
		e.str(r.Regex)
		e.str(r.Replacement)
	}
}

func (PruneOp) encode(e *encoder)  { e.tag("prune") }
func (UnsignOp) encode(e *encoder) { e.tag("unsign") }
func (LinearOp) encode(e *encoder) { e.tag("linear") }
func (PathsOp) encode(e *encoder)  { e.tag("paths") }
func (IndexOp) encode(e *encoder)  { e.tag("index") }
func (InvertOp) encode(e *encoder) { e.tag("invert") }
func (FoldOp) encode(e *encoder)   { e.tag("fold") }

func (o RevOp) encode(e *encoder) {
	e.tag("rev")
	encodeRevFilters(e, o.Entries)
}

func (o MetaOp) encode(e *encoder) {
	e.tag("meta")
	keys := sortedKeys(o.Values)
	e.num(len(keys))
	for _, k := range keys {
		e.str(k)
		e.str(o.Values[k])
	}
	e.filter(o.Inner)
}

func encodeRevFilters(e *encoder, entries []RevFilter) {
	e.num(len(entries))
	for _, r := range entries {
		e.str(r.Rev)
		e.filter(r.Filter)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// children returns the direct sub filters of op.
func children(op Op) []Filter {
	switch o := op.(type) {
	case ComposeOp:
		return slices.Clone(o.Filters)
	case ChainOp:
		return []Filter{o.First, o.Second}
	case SubtractOp:
		return []Filter{o.A, o.B}
	case ExcludeOp:
		return []Filter{o.Filter}
	case PinOp:
		return []Filter{o.Filter}
	case MetaOp:
		return []Filter{o.Inner}
	case RevOp:
		r := make([]Filter, 0, len(o.Entries))
		for _, e := range o.Entries {
			r = append(r, e.Filter)
		}
		return r
	case SquashOp:
		r := make([]Filter, 0, len(o.Points))
		for _, e := range o.Points {
			r = append(r, e.Filter)
		}
		return r
	default:
		return nil
	}
}

// mapChildren rebuilds op with fn applied to every direct sub filter.
func mapChildren(op Op, fn func(Filter) Filter) Op {
	switch o := op.(type) {
	case ComposeOp:
		fs := make([]Filter, 0, len(o.Filters))
		for _, f := range o.Filters {
			fs = append(fs, fn(f))
		}
		return ComposeOp{Filters: fs}
	case ChainOp:
		return ChainOp{First: fn(o.First), Second: fn(o.Second)}
	case SubtractOp:
		return SubtractOp{A: fn(o.A), B: fn(o.B)}
	case ExcludeOp:
		return ExcludeOp{Filter: fn(o.Filter)}
	case PinOp:
		return PinOp{Filter: fn(o.Filter)}
	case MetaOp:
		return MetaOp{Values: o.Values, Inner: fn(o.Inner)}
	case RevOp:
		return RevOp{Entries: mapRevFilters(o.Entries, fn)}
	case SquashOp:
		if o.Points == nil {
			return o
		}
		return SquashOp{Points: mapRevFilters(o.Points, fn)}
	default:
		return op
	}
}

func mapRevFilters(entries []RevFilter, fn func(Filter) Filter) []RevFilter {
	r := make([]RevFilter, 0, len(entries))
	for _, e := range entries {
		r = append(r, RevFilter{Rev: e.Rev, Filter: fn(e.Filter)})
	}
	return r
}

// Contains reports if any filter in the tree rooted at f satisfies pred.
func Contains(f Filter, pred func(Op) bool) bool {
	op := f.Op()
	if pred(op) {
		return true
	}
	for _, c := range children(op) {
		if Contains(c, pred) {
			return true
		}
	}
	return false
}

// IsTreeOnly reports if the filter only transforms trees, so the commit-level
// metadata and history of the input are preserved.
func IsTreeOnly(f Filter) bool {
	return !Contains(f, func(op Op) bool {
		switch op.(type) {
		case SquashOp, AuthorOp, CommitterOp, MessageOp, UnsignOp, LinearOp, PruneOp, PinOp, FoldOp, RevOp:
			return true
		default:
			return false
		}
	})
}

// Transform rebuilds f bottom up, replacing every node with the result of fn.
func Transform(f Filter, fn func(Filter) Filter) Filter {
	op := f.Op()
	if len(children(op)) > 0 {
		f = New(mapChildren(op, func(c Filter) Filter {
			return Transform(c, fn)
		}))
	}
	return fn(f)
}
