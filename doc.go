// josh re-exposes a git history as filtered, path scoped histories and maps
// changes made to a filtered history back to the original one.
//
// A [filter.Filter] describes the transformation. [ApplyTree] and
// [UnapplyTree] act on single trees, [FilterCommit] and [Walk] produce the
// filtered counterpart of a commit and its history, and [UnapplyFilter]
// reconstructs upstream commits from commits pushed to a filtered history.
//
// Results are cached by a [cache.Transaction], which must be opened first:
//
//	tx, err := cache.Open(".", "refs/josh/filtered/")
//	f, err := filter.Parse(":/lib:prefix=vendor")
//	filtered, err := josh.FilterCommit(ctx, tx, f, head)
//
// See [FilterRefs] and [UpdateRefs] for filtering branches.
package josh
