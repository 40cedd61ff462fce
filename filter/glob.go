package filter

import "github.com/bmatcuk/doublestar/v4"

// MatchGlob reports if the slash separated path p matches glob.
// The glob is matched against the full path, so "*.txt" only matches files at
// the top level and "**/*.txt" matches at any depth.
func MatchGlob(glob, p string) bool {
	matched, err := doublestar.Match(glob, p)
	return err == nil && matched
}

// ValidGlob reports if glob is well formed.
func ValidGlob(glob string) bool {
	return doublestar.ValidatePattern(glob)
}
