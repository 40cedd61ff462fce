package filter

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Quote always returns the JSON form of s.
func Quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// QuoteIf quotes s only if it can not be read back as a bare token.
func QuoteIf(s string) string {
	if s == "" || strings.ContainsAny(s, reserved+" \t\r\n\\") {
		return Quote(s)
	}
	return s
}

// Spec returns the single line canonical text of f.
// Parsing the result yields f again for every optimized filter.
func Spec(f Filter) string {
	var sb strings.Builder
	writeSpec(&sb, f)
	return sb.String()
}

func writeSpec(sb *strings.Builder, f Filter) {
	switch o := f.Op().(type) {
	case NopOp:
		sb.WriteString(":/")
	case EmptyOp:
		sb.WriteString(":empty")
	case SubdirOp:
		sb.WriteString(":/")
		sb.WriteString(QuoteIf(o.Path))
	case PrefixOp:
		sb.WriteString(":prefix=")
		sb.WriteString(QuoteIf(o.Path))
	case FileOp:
		sb.WriteString("::")
		sb.WriteString(QuoteIf(o.Dst))
		if o.Dst != o.Src || hasGlob(o.Dst) || strings.HasSuffix(o.Dst, "/") {
			sb.WriteString("=")
			sb.WriteString(QuoteIf(o.Src))
		}
	case PatternOp:
		sb.WriteString("::")
		sb.WriteString(QuoteIf(o.Glob))
	case WorkspaceOp:
		sb.WriteString(":workspace=")
		sb.WriteString(QuoteIf(o.Path))
	case StoredOp:
		sb.WriteString(":+")
		sb.WriteString(QuoteIf(o.Path))
	case ComposeOp:
		sb.WriteString(":[")
		writeList(sb, o.Filters)
		sb.WriteString("]")
	case ChainOp:
		writeChain(sb, flattenChain(f))
	case SubtractOp:
		sb.WriteString(":subtract[")
		writeList(sb, []Filter{o.A, o.B})
		sb.WriteString("]")
	case ExcludeOp:
		sb.WriteString(":exclude[")
		writeList(sb, listOf(o.Filter))
		sb.WriteString("]")
	case PinOp:
		sb.WriteString(":pin[")
		writeList(sb, listOf(o.Filter))
		sb.WriteString("]")
	case SquashOp:
		sb.WriteString(":squash")
		if o.Points != nil {
			sb.WriteString("(")
			writeRevFilters(sb, o.Points)
			sb.WriteString(")")
		}
	case AuthorOp:
		sb.WriteString(":author=")
		sb.WriteString(Quote(o.Name))
		sb.WriteString(";")
		sb.WriteString(Quote(o.Email))
	case CommitterOp:
		sb.WriteString(":committer=")
		sb.WriteString(Quote(o.Name))
		sb.WriteString(";")
		sb.WriteString(Quote(o.Email))
	case MessageOp:
		sb.WriteString(":message=")
		sb.WriteString(Quote(o.Format))
		if o.Regex != "" {
			sb.WriteString(";")
			sb.WriteString(Quote(o.Regex))
		}
	case RegexReplaceOp:
		sb.WriteString(":replace(")
		for i, r := range o.Replacements {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(Quote(r.Regex))
			sb.WriteString(":")
			sb.WriteString(Quote(r.Replacement))
		}
		sb.WriteString(")")
	case PruneOp:
		sb.WriteString(":prune=trivial-merge")
	case UnsignOp:
		sb.WriteString(":unsign")
	case LinearOp:
		sb.WriteString(":linear")
	case PathsOp:
		sb.WriteString(":PATHS")
	case IndexOp:
		sb.WriteString(":INDEX")
	case InvertOp:
		sb.WriteString(":INVERT")
	case FoldOp:
		sb.WriteString(":FOLD")
	case RevOp:
		sb.WriteString(":rev(")
		writeRevFilters(sb, o.Entries)
		sb.WriteString(")")
	case MetaOp:
		sb.WriteString(":~(")
		for i, k := range sortedKeys(o.Values) {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(Quote(o.Values[k]))
		}
		sb.WriteString(")[")
		writeList(sb, listOf(o.Inner))
		sb.WriteString("]")
	}
}

func writeList(sb *strings.Builder, fs []Filter) {
	for i, f := range fs {
		if i > 0 {
			sb.WriteString(",")
		}
		writeSpec(sb, f)
	}
}

func writeRevFilters(sb *strings.Builder, entries []RevFilter) {
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(",")
		}
		if e.Rev == "" {
			sb.WriteString("_")
		} else {
			sb.WriteString(QuoteIf(e.Rev))
		}
		writeSpec(sb, e.Filter)
	}
}

// listOf returns the entries a bracketed list is printed with. A compose of
// several filters is spelled out, anything else is a single entry.
func listOf(f Filter) []Filter {
	if c, iscompose := f.Op().(ComposeOp); iscompose && len(c.Filters) > 1 {
		return c.Filters
	}
	return []Filter{f}
}

// writeChain prints chain elements with runs of subdirs and prefixes joined
// into single paths, and a subdir followed by the same prefix as "::dir/".
func writeChain(sb *strings.Builder, elems []Filter) {
	units := mergeRuns(elems)
	if len(units) == 0 {
		sb.WriteString(":/")
		return
	}
	for i := 0; i < len(units); i++ {
		if i+1 < len(units) {
			s, issubdir := units[i].Op().(SubdirOp)
			p, isprefix := units[i+1].Op().(PrefixOp)
			if issubdir && isprefix && s.Path == p.Path {
				sb.WriteString("::")
				sb.WriteString(QuoteIf(s.Path + "/"))
				i++
				continue
			}
		}
		writeSpec(sb, units[i])
	}
}

// splitPrefixTail splits the trailing prefixes off a chain. It returns the
// joined destination and the remaining filter.
func splitPrefixTail(f Filter) (string, Filter, bool) {
	elems := flattenChain(f)
	i := len(elems)
	var parts []string
	for i > 0 {
		p, isprefix := elems[i-1].Op().(PrefixOp)
		if !isprefix {
			break
		}
		parts = append(parts, p.Path)
		i--
	}
	if len(parts) == 0 {
		return "", f, false
	}
	return strings.Join(parts, "/"), Chain(elems[:i]...), true
}

// Pretty renders f over multiple lines, indenting nested lists by indent spaces.
// A top level compose is rendered in the workspace file form, one
// "dst = filter" mapping per line.
func Pretty(f Filter, indent int) string {
	pp := &pretty{indent: indent}
	if c, iscompose := f.Op().(ComposeOp); iscompose && len(c.Filters) > 0 {
		for i, e := range c.Filters {
			if i > 0 {
				pp.sb.WriteString("\n")
			}
			pp.entry(e, 0)
		}
		return pp.sb.String()
	}
	pp.filter(f, 0)
	return pp.sb.String()
}

// AsFile renders f with [Pretty] so it can be stored as a .josh file.
func AsFile(f Filter, indent int) string {
	s := Pretty(f, indent)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}

type pretty struct {
	sb     strings.Builder
	indent int
}

func (pp *pretty) pad(level int) {
	pp.sb.WriteString(strings.Repeat(" ", pp.indent*level))
}

func (pp *pretty) entry(f Filter, level int) {
	dst, rest, ok := splitPrefixTail(f)
	if !ok || strings.HasPrefix(dst, "/") || dst == "" {
		pp.filter(f, level)
		return
	}
	pp.sb.WriteString(QuoteIf(dst))
	pp.sb.WriteString(" = ")
	pp.filter(rest, level)
}

func (pp *pretty) list(open string, fs []Filter, level int) {
	pp.sb.WriteString(open)
	if len(fs) == 1 && !isBracketed(fs[0]) {
		pp.entry(fs[0], level)
		pp.sb.WriteString("]")
		return
	}
	pp.sb.WriteString("\n")
	for _, e := range fs {
		pp.pad(level + 1)
		pp.entry(e, level+1)
		pp.sb.WriteString("\n")
	}
	pp.pad(level)
	pp.sb.WriteString("]")
}

func isBracketed(f Filter) bool {
	switch f.Op().(type) {
	case ComposeOp, ExcludeOp, PinOp, SubtractOp, MetaOp:
		return true
	case ChainOp:
		return Contains(f, func(op Op) bool {
			_, iscompose := op.(ComposeOp)
			return iscompose
		})
	}
	return false
}

func (pp *pretty) filter(f Filter, level int) {
	switch o := f.Op().(type) {
	case ComposeOp:
		pp.list(":[", o.Filters, level)
	case ChainOp:
		var run []Filter
		for _, e := range flattenChain(f) {
			if !isBracketed(e) {
				run = append(run, e)
				continue
			}
			if len(run) > 0 {
				writeChain(&pp.sb, run)
				run = nil
			}
			pp.filter(e, level)
		}
		if len(run) > 0 {
			writeChain(&pp.sb, run)
		}
	case SubtractOp:
		pp.list(":subtract[", []Filter{o.A, o.B}, level)
	case ExcludeOp:
		pp.list(":exclude[", listOf(o.Filter), level)
	case PinOp:
		pp.list(":pin[", listOf(o.Filter), level)
	case MetaOp:
		var sb strings.Builder
		writeSpec(&sb, New(MetaOp{Values: o.Values, Inner: EmptyFilter}))
		head := strings.TrimSuffix(sb.String(), ":empty]")
		pp.list(head, listOf(o.Inner), level)
	default:
		writeSpec(&pp.sb, f)
	}
}
