package josh

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub001/cache"
)

// Change identifies a commit across amends by the change id in its trailers.
type Change struct {
	ID     string
	Author string
	Commit plumbing.Hash
}

var changeTrailers = []string{"Change:", "Change-Id:"}

// ChangeFromCommit reads the change id from the last paragraph of the commit
// message. It returns false if the commit carries none.
func ChangeFromCommit(c *object.Commit) (Change, bool) {
	msg := strings.TrimSpace(strings.ReplaceAll(c.Message, "\r\n", "\n"))
	paragraphs := strings.Split(msg, "\n\n")
	last := paragraphs[len(paragraphs)-1]

	for _, line := range strings.Split(last, "\n") {
		line = strings.TrimSpace(line)
		for _, t := range changeTrailers {
			if id, found := strings.CutPrefix(line, t); found {
				id = strings.TrimSpace(id)
				if id == "" {
					continue
				}
				return Change{ID: id, Author: c.Author.Email, Commit: c.Hash}, true
			}
		}
	}

	return Change{}, false
}

// ChangeAmends maps every change id found in the history of tip to the newest
// commit that carries it, looking at no more than limit commits when limit is
// positive.
func ChangeAmends(ctx context.Context, tx *cache.Transaction, tip plumbing.Hash, limit int) (map[string]plumbing.Hash, error) {
	head, err := commitObject(tx, tip)
	if err != nil {
		return nil, err
	}
	path, err := GetDFSPath(ctx, head, nil)
	if err != nil {
		return nil, err
	}

	r := make(map[string]plumbing.Hash)
	n := 0
	for i := len(path) - 1; i >= 0; i-- {
		if limit > 0 && n >= limit {
			break
		}
		n++
		ch, found := ChangeFromCommit(path[i])
		if !found {
			continue
		}
		if _, seen := r[ch.ID]; !seen {
			r[ch.ID] = ch.Commit
		}
	}

	return r, nil
}
