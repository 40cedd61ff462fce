package filter

import (
	"strings"
	"sync"
)

// maxIterations bounds every fixed point loop of the optimizer.
const maxIterations = 1000

var optimized = struct {
	sync.RWMutex
	m map[Filter]Filter
}{
	m: make(map[Filter]Filter),
}

// Optimize rewrites f into its canonical form: paths are split into single
// segments, chains are right nested, shared chain heads and prefix tails of
// composes are factored out, and trivial filters are removed.
//
// Optimize is idempotent. Results are memoized so repeated calls are cheap.
func Optimize(f Filter) Filter {
	optimized.RLock()
	r, found := optimized.m[f]
	optimized.RUnlock()
	if found {
		return r
	}

	r = Flatten(f)
	for i := 0; ; i++ {
		next := fix(Step, Simplify(r))
		if next == r {
			break
		}
		if i >= maxIterations {
			logger.Warn("giving up on filter", "err", ErrOptimizeDiverged, "filter", Spec(f))
			break
		}
		r = next
	}

	optimized.Lock()
	optimized.m[f] = r
	optimized.m[r] = r
	optimized.Unlock()

	return r
}

func fix(fn func(Filter) Filter, f Filter) Filter {
	for i := 0; i < maxIterations; i++ {
		next := fn(f)
		if next == f {
			return f
		}
		f = next
	}
	return f
}

func mapCh(f Filter, fn func(Filter) Filter) Filter {
	return New(mapChildren(f.Op(), fn))
}

// Flatten splices nested composes and distributes chains over composes.
func Flatten(f Filter) Filter {
	f = mapCh(f, Flatten)
	switch o := f.Op().(type) {
	case ComposeOp:
		fs := spliceComposes(o.Filters)
		if len(fs) == 1 {
			return fs[0]
		}
		return Compose(fs...)
	case ChainOp:
		if c, iscompose := o.Second.Op().(ComposeOp); iscompose && len(c.Filters) > 0 {
			fs := make([]Filter, 0, len(c.Filters))
			for _, x := range c.Filters {
				fs = append(fs, Chain(o.First, x))
			}
			return Flatten(Compose(fs...))
		}
		if c, iscompose := o.First.Op().(ComposeOp); iscompose && len(c.Filters) > 0 && isPathMap(o.Second) && distributes(c.Filters, o.Second) {
			fs := make([]Filter, 0, len(c.Filters))
			for _, x := range c.Filters {
				fs = append(fs, Chain(x, o.Second))
			}
			return Flatten(Compose(fs...))
		}
	}
	return f
}

// isPathMap reports if f only moves and selects paths, so applying it to a
// union is the union of applying it to every part.
func isPathMap(f Filter) bool {
	return !Contains(f, func(op Op) bool {
		switch op.(type) {
		case NopOp, EmptyOp, SubdirOp, PrefixOp, FileOp, PatternOp, ChainOp, ComposeOp:
			return false
		default:
			return true
		}
	})
}

// distributes reports if Chain(Compose(fs...), g) equals the compose of every
// part chained with g. Compose priority is decided on the input, so this holds
// when g keeps everything it is given or when no two parts read the same paths.
func distributes(fs []Filter, g Filter) bool {
	if keepsAll(g) {
		return true
	}
	var reads []string
	for _, f := range fs {
		ps := readPaths(f)
		for _, p := range ps {
			for _, q := range reads {
				if overlaps(p, q) {
					return false
				}
			}
		}
		reads = append(reads, ps...)
	}
	return true
}

func keepsAll(f Filter) bool {
	return !Contains(f, func(op Op) bool {
		switch op.(type) {
		case NopOp, PrefixOp, ChainOp:
			return false
		default:
			return true
		}
	})
}

// readPaths returns directories or files covering every input path f reads.
// "" stands for the whole tree.
func readPaths(f Filter) []string {
	switch o := f.Op().(type) {
	case EmptyOp:
		return nil
	case SubdirOp:
		return []string{strings.Trim(o.Path, "/")}
	case FileOp:
		return []string{strings.Trim(o.Src, "/")}
	case PatternOp:
		return []string{globBase(o.Glob)}
	case ChainOp:
		return readPaths(o.First)
	case ComposeOp:
		var r []string
		for _, x := range o.Filters {
			r = append(r, readPaths(x)...)
		}
		return r
	default:
		return []string{""}
	}
}

// globBase returns the leading directories of glob without wildcards.
func globBase(glob string) string {
	glob = strings.Trim(glob, "/")
	if !strings.ContainsAny(glob, "*?[{\\") {
		return glob
	}
	segs := strings.Split(glob, "/")
	n := 0
	for n < len(segs)-1 && !strings.ContainsAny(segs[n], "*?[{\\") {
		n++
	}
	return strings.Join(segs[:n], "/")
}

func overlaps(p, q string) bool {
	return p == "" || q == "" || p == q || strings.HasPrefix(p, q+"/") || strings.HasPrefix(q, p+"/")
}

func spliceComposes(fs []Filter) []Filter {
	r := make([]Filter, 0, len(fs))
	for _, f := range fs {
		if c, iscompose := f.Op().(ComposeOp); iscompose {
			r = append(r, c.Filters...)
			continue
		}
		r = append(r, f)
	}
	return r
}

// Simplify right nests chains, merges runs of prefixes and subdirs and splices
// nested composes.
func Simplify(f Filter) Filter {
	f = mapCh(f, Simplify)
	switch o := f.Op().(type) {
	case ChainOp:
		return Chain(mergeRuns(flattenChain(f))...)
	case ComposeOp:
		return Compose(spliceComposes(o.Filters)...)
	}
	return f
}

// mergeRuns joins adjacent subdirs and adjacent prefixes of a chain and drops nops.
func mergeRuns(elems []Filter) []Filter {
	r := make([]Filter, 0, len(elems))
	for _, e := range elems {
		if e.IsNop() {
			continue
		}
		if len(r) == 0 {
			r = append(r, e)
			continue
		}
		last := r[len(r)-1]
		switch o := e.Op().(type) {
		case SubdirOp:
			if l, issubdir := last.Op().(SubdirOp); issubdir {
				r[len(r)-1] = Subdir(l.Path + "/" + o.Path)
				continue
			}
		case PrefixOp:
			if l, isprefix := last.Op().(PrefixOp); isprefix {
				r[len(r)-1] = Prefix(o.Path + "/" + l.Path)
				continue
			}
		}
		r = append(r, e)
	}
	return r
}

// Step applies a single bottom up pass of the rewrite rules.
func Step(f Filter) Filter {
	f = mapCh(f, Step)
	switch o := f.Op().(type) {
	case SubdirOp:
		p := strings.Trim(o.Path, "/")
		if p == "" {
			return NopFilter
		}
		if first, rest, found := strings.Cut(p, "/"); found {
			return Chain(Subdir(first), Subdir(rest))
		}
		if p != o.Path {
			return Subdir(p)
		}
	case PrefixOp:
		p := strings.Trim(o.Path, "/")
		if p == "" {
			return NopFilter
		}
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			return Chain(Prefix(p[i+1:]), Prefix(p[:i]))
		}
		if p != o.Path {
			return Prefix(p)
		}
	case ChainOp:
		return stepChain(o)
	case ComposeOp:
		return stepCompose(o)
	case SubtractOp:
		return stepSubtract(o)
	case ExcludeOp:
		switch {
		case o.Filter.IsEmpty():
			return NopFilter
		case o.Filter.IsNop():
			return EmptyFilter
		}
	case PinOp:
		if o.Filter.IsEmpty() {
			return NopFilter
		}
	}
	return f
}

func stepChain(o ChainOp) Filter {
	a, b := o.First, o.Second
	switch {
	case a.IsNop():
		return b
	case b.IsNop():
		return a
	case a.IsEmpty() || b.IsEmpty():
		return EmptyFilter
	}

	if c, ischain := a.Op().(ChainOp); ischain {
		return Chain(c.First, Chain(c.Second, b))
	}

	if p, isprefix := a.Op().(PrefixOp); isprefix {
		switch s := b.Op().(type) {
		case SubdirOp:
			if s.Path == p.Path {
				return NopFilter
			}
			if !strings.Contains(s.Path, "/") && !strings.Contains(p.Path, "/") {
				return EmptyFilter
			}
		case ChainOp:
			if sd, issubdir := s.First.Op().(SubdirOp); issubdir {
				if sd.Path == p.Path {
					return s.Second
				}
				if !strings.Contains(sd.Path, "/") && !strings.Contains(p.Path, "/") {
					return EmptyFilter
				}
			}
		}
	}

	return New(o)
}

func stepCompose(o ComposeOp) Filter {
	fs := make([]Filter, 0, len(o.Filters))
	seen := make(map[Filter]empty, len(o.Filters))
	for _, f := range o.Filters {
		if f.IsEmpty() {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = empty{}
		fs = append(fs, f)
	}

	switch len(fs) {
	case 0:
		return EmptyFilter
	case 1:
		return fs[0]
	}

	for i := 0; i+1 < len(fs); i++ {
		if g, ok := groupPair(fs[i], fs[i+1]); ok {
			r := make([]Filter, 0, len(fs)-1)
			r = append(r, fs[:i]...)
			r = append(r, g)
			r = append(r, fs[i+2:]...)
			if len(r) == 1 {
				return r[0]
			}
			return Compose(r...)
		}
	}

	return Compose(fs...)
}

type empty struct{}

// head splits a chain into its first element and the rest.
func head(f Filter) (Filter, Filter) {
	if c, ischain := f.Op().(ChainOp); ischain {
		return c.First, c.Second
	}
	return f, NopFilter
}

// tail splits a chain into everything but a trailing prefix and that prefix.
func tail(f Filter) (Filter, string, bool) {
	elems := flattenChain(f)
	p, isprefix := elems[len(elems)-1].Op().(PrefixOp)
	if !isprefix {
		return f, "", false
	}
	return Chain(elems[:len(elems)-1]...), p.Path, true
}

func groupPair(x, y Filter) (Filter, bool) {
	hx, rx := head(x)
	hy, ry := head(y)
	if hx == hy && !(rx.IsNop() && ry.IsNop()) && isGroupHead(hx) {
		return Chain(hx, Compose(rx, ry)), true
	}

	bx, px, okx := tail(x)
	by, py, oky := tail(y)
	if okx && oky && px == py {
		return Chain(Compose(bx, by), Prefix(px)), true
	}

	return NopFilter, false
}

// isGroupHead reports if the chain head can be factored out of a compose.
// Heads reading the input tree as a whole are kept per entry.
func isGroupHead(f Filter) bool {
	switch f.Op().(type) {
	case SubdirOp, PrefixOp:
		return true
	}
	return false
}

func stepSubtract(o SubtractOp) Filter {
	a, b := o.A, o.B
	switch {
	case a == b:
		return EmptyFilter
	case b.IsEmpty():
		return a
	case a.IsEmpty():
		return EmptyFilter
	case b.IsNop():
		return EmptyFilter
	case a.IsNop():
		return Exclude(b)
	}

	ha, ra := head(a)
	hb, rb := head(b)
	if ha == hb && isGroupHead(ha) {
		return Chain(ha, Subtract(ra, rb))
	}

	ba, pa, oka := tail(a)
	bb, pb, okb := tail(b)
	if oka && okb && pa == pb {
		return Chain(Subtract(ba, bb), Prefix(pa))
	}

	if cb, iscompose := b.Op().(ComposeOp); iscompose {
		inB := make(map[Filter]empty, len(cb.Filters))
		for _, f := range cb.Filters {
			inB[f] = empty{}
		}
		if _, found := inB[a]; found {
			return EmptyFilter
		}
		if ca, iscompose := a.Op().(ComposeOp); iscompose {
			var rest []Filter
			for _, f := range ca.Filters {
				if _, found := inB[f]; !found {
					rest = append(rest, f)
				}
			}
			switch {
			case len(rest) == 0:
				return EmptyFilter
			case len(rest) < len(ca.Filters):
				return Subtract(Compose(rest...), b)
			}
		}
	}

	return New(o)
}
