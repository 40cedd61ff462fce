// Package filter implements the filter language: an interned AST, a parser and
// printer for the textual form, and an optimizer that rewrites filters to a
// canonical form so that equivalent filters share cache entries.
//
// Filters are values. Two filters built from the same structure compare equal and
// have the same [Filter.ID].
//
//	f := filter.MustParse(":/lib:prefix=vendor")
//	fmt.Println(f.ID(), filter.Spec(f))
package filter
