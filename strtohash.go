package josh

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// DecodeHashHex decodes a full hex encoded object id.
// It differs from [plumbing.NewHash] for [plumbing.NewHash] silently returns
// a truncated or zero hash on malformed input.
func DecodeHashHex(str string) (plumbing.Hash, error) {
	if len(str) != 2*len(plumbing.ZeroHash) || !plumbing.IsHash(str) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %q is not an object id", ErrInvalidRef, str)
	}

	return plumbing.NewHash(str), nil
}

// MustDecodeHashHex decodes the input str to [plumbing.Hash] and
// panics if any error is encountered.
func MustDecodeHashHex(str string) plumbing.Hash {
	v, err := DecodeHashHex(str)
	if err != nil {
		panic(err)
	}

	return v
}
