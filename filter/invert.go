package filter

// Invert returns the filter that maps the output of f back onto the input.
// Commit level filters invert to [NopOp]. Filters that depend on tree content,
// such as workspaces, have no structural inverse and return [ErrNonInvertible].
func Invert(f Filter) (Filter, error) {
	r, err := invert(f)
	if err != nil {
		return NopFilter, err
	}
	return Optimize(r), nil
}

func invert(f Filter) (Filter, error) {
	switch o := f.Op().(type) {
	case NopOp, EmptyOp, PatternOp:
		return f, nil
	case SubdirOp:
		return Prefix(o.Path), nil
	case PrefixOp:
		return Subdir(o.Path), nil
	case FileOp:
		return File(o.Src, o.Dst), nil
	case ChainOp:
		a, err := invert(o.First)
		if err != nil {
			return NopFilter, err
		}
		b, err := invert(o.Second)
		if err != nil {
			return NopFilter, err
		}
		return Chain(b, a), nil
	case ComposeOp:
		fs := make([]Filter, 0, len(o.Filters))
		for _, c := range o.Filters {
			i, err := invert(c)
			if err != nil {
				return NopFilter, err
			}
			fs = append(fs, i)
		}
		return Compose(fs...), nil
	case ExcludeOp:
		return f, nil
	case PinOp:
		return Exclude(o.Filter), nil
	case SubtractOp:
		if o.A.IsNop() {
			return Exclude(o.B), nil
		}
		return NopFilter, nonInvertible(f)
	case AuthorOp, CommitterOp, MessageOp, UnsignOp, SquashOp, LinearOp, PruneOp, FoldOp:
		return NopFilter, nil
	case MetaOp:
		return invert(o.Inner)
	default:
		return NopFilter, nonInvertible(f)
	}
}

// IsInvertible reports if [Invert] succeeds for f.
func IsInvertible(f Filter) bool {
	_, err := invert(f)
	return err == nil
}
