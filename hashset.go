package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
)

type empty = struct{}

// HashSet is simply map from [plumbing.Hash] to [empty]
type HashSet = map[plumbing.Hash]empty

// NewHashSet creates a new set of Hash. Zero hashes are skipped.
func NewHashSet(hashes ...plumbing.Hash) HashSet {
	result := make(HashSet, len(hashes))

	for _, v := range hashes {
		if v.IsZero() {
			continue
		}
		result[v] = empty{}
	}

	return result
}
