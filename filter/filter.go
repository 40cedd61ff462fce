package filter

import (
	"bytes"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
)

// Filter is a handle to an interned filter AST node.
//
// Two filters with the same structure have the same [Filter.ID] and compare equal with ==.
// The zero value is the [NopOp] filter.
type Filter struct {
	id plumbing.Hash
}

// arena maps structural hashes to the ops they were computed from.
// Entries are never removed.
var arena = struct {
	sync.RWMutex
	ops map[plumbing.Hash]Op
}{
	ops: make(map[plumbing.Hash]Op),
}

// New interns op and returns its handle.
func New(op Op) Filter {
	if _, isnop := op.(NopOp); isnop || op == nil {
		return Filter{}
	}

	e := &encoder{}
	op.encode(e)
	id := plumbing.ComputeHash(plumbing.BlobObject, e.buf.Bytes())

	arena.RLock()
	_, found := arena.ops[id]
	arena.RUnlock()
	if found {
		return Filter{id: id}
	}

	arena.Lock()
	if _, found := arena.ops[id]; !found {
		arena.ops[id] = op
	}
	arena.Unlock()

	return Filter{id: id}
}

// ID returns the structural hash of the filter, which is used as the cache key.
func (f Filter) ID() plumbing.Hash {
	return f.id
}

// Op resolves the handle. It panics if the handle was not created by [New],
// which can only happen through a bug.
func (f Filter) Op() Op {
	if f.id.IsZero() {
		return NopOp{}
	}

	arena.RLock()
	op, found := arena.ops[f.id]
	arena.RUnlock()
	if !found {
		panic("filter: unknown filter id " + f.id.String())
	}

	return op
}

// IsNop reports if f is the identity filter.
func (f Filter) IsNop() bool {
	return f.id.IsZero()
}

// IsEmpty reports if f is the [EmptyOp] filter.
func (f Filter) IsEmpty() bool {
	_, isempty := f.Op().(EmptyOp)
	return isempty
}

// String returns the canonical textual form of the filter, see [Spec].
func (f Filter) String() string {
	return Spec(f)
}

// Chain builds the sequential pipeline of the filters, right nested.
func Chain(filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return Filter{}
	case 1:
		return filters[0]
	}

	r := filters[len(filters)-1]
	for i := len(filters) - 2; i >= 0; i-- {
		r = New(ChainOp{First: filters[i], Second: r})
	}

	return r
}

// Compose builds the parallel union of the filters.
func Compose(filters ...Filter) Filter {
	return New(ComposeOp{Filters: slices.Clone(filters)})
}

// Subdir, Prefix and the other small constructors are shorthands for [New].
func Subdir(p string) Filter { return New(SubdirOp{Path: p}) }

func Prefix(p string) Filter { return New(PrefixOp{Path: p}) }

func File(dst, src string) Filter { return New(FileOp{Dst: dst, Src: src}) }

func Pattern(glob string) Filter { return New(PatternOp{Glob: glob}) }

func Exclude(f Filter) Filter { return New(ExcludeOp{Filter: f}) }

func Subtract(a, b Filter) Filter { return New(SubtractOp{A: a, B: b}) }

// Nop and Empty filters.
var (
	NopFilter   = Filter{}
	EmptyFilter = New(EmptyOp{})
)

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) tag(name string) {
	e.str(name)
}

func (e *encoder) str(s string) {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(s)))
	e.buf.Write(l[:n])
	e.buf.WriteString(s)
}

func (e *encoder) num(n int) {
	var l [binary.MaxVarintLen64]byte
	m := binary.PutUvarint(l[:], uint64(n))
	e.buf.Write(l[:m])
}

func (e *encoder) filter(f Filter) {
	e.buf.Write(f.id[:])
}

func (e *encoder) filters(fs []Filter) {
	e.num(len(fs))
	for _, f := range fs {
		e.filter(f)
	}
}
