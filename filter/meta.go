package filter

import "maps"

// Well known keys of remote definitions stored with [MetaOp].
const (
	MetaURL    = "url"
	MetaFetch  = "fetch"
	MetaForge  = "forge"
	MetaRemote = "remote"
	MetaTarget = "target"
	MetaCommit = "commit"
)

// WithMeta annotates f with values. Annotating a filter that already carries
// annotations merges them, values given here win.
func WithMeta(f Filter, values map[string]string) Filter {
	if len(values) == 0 {
		return f
	}

	merged := make(map[string]string, len(values))
	inner := f
	if m, ismeta := f.Op().(MetaOp); ismeta {
		maps.Copy(merged, m.Values)
		inner = m.Inner
	}
	maps.Copy(merged, values)

	return New(MetaOp{Values: merged, Inner: Peel(inner)})
}

// Peel strips all [MetaOp] layers and returns the innermost filter.
func Peel(f Filter) Filter {
	for {
		m, ismeta := f.Op().(MetaOp)
		if !ismeta {
			return f
		}
		f = m.Inner
	}
}

// Meta returns the merged annotations of all [MetaOp] layers around f.
// Outer layers win.
func Meta(f Filter) map[string]string {
	var layers []map[string]string
	for {
		m, ismeta := f.Op().(MetaOp)
		if !ismeta {
			break
		}
		layers = append(layers, m.Values)
		f = m.Inner
	}

	r := make(map[string]string)
	for i := len(layers) - 1; i >= 0; i-- {
		maps.Copy(r, layers[i])
	}

	return r
}

// MetaValue returns a single annotation.
func MetaValue(f Filter, key string) (string, bool) {
	v, found := Meta(f)[key]
	return v, found
}
