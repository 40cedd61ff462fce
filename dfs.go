package josh

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type dfsBuilderNode struct {
	data      *object.Commit
	nparent   int
	nextvisit int
}

type dfsBuilder struct {
	seen  HashSet
	known func(plumbing.Hash) bool
	stack []*dfsBuilderNode
}

func newDFSBuilder(known func(plumbing.Hash) bool) *dfsBuilder {
	if known == nil {
		known = func(plumbing.Hash) bool { return false }
	}
	return &dfsBuilder{
		stack: make([]*dfsBuilderNode, 0),
		seen:  make(HashSet),
		known: known,
	}
}

// add pushes the commit unless it was seen before or is known.
func (gb *dfsBuilder) add(v *object.Commit) {
	hash := v.Hash
	if _, seen := gb.seen[hash]; seen {
		return
	}
	gb.seen[hash] = empty{}
	if gb.known(hash) {
		return
	}

	gb.stack = append(gb.stack, &dfsBuilderNode{
		data:      v,
		nparent:   v.NumParents(),
		nextvisit: 0,
	})
}

func (gb *dfsBuilder) pop() error {
	if len(gb.stack) == 0 {
		return fmt.Errorf("failed to pop empty stack")
	}

	gb.stack = gb.stack[:len(gb.stack)-1]

	return nil
}

func (gb *dfsBuilder) top() *dfsBuilderNode {
	if len(gb.stack) == 0 {
		return nil
	}

	return gb.stack[len(gb.stack)-1]
}

// GetDFSPath gets a deterministic depth first search path from a head commit,
// the returned slice has the head commit as the last one in the slice,
// and every commit comes after all of its parents.
// The search always search the first parent, then second, and so-on, therefore the commits first returned
// are history from git command with "--first-parent" parameter.
//
// The search does not descend into commits for which known returns true, and
// those commits are not part of the path. known may be nil. The head is always
// part of the path.
func GetDFSPath(
	ctx context.Context,
	head *object.Commit,
	known func(plumbing.Hash) bool,
) ([]*object.Commit, error) {
	result := make([]*object.Commit, 0)
	gb := newDFSBuilder(known)

	gb.seen[head.Hash] = empty{}
	gb.stack = append(gb.stack, &dfsBuilderNode{data: head, nparent: head.NumParents()})

addloop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := gb.top()

		if current == nil {
			break addloop
		}

		switch {
		case current.nextvisit == current.nparent:
			result = append(result, current.data)
			if err := gb.pop(); err != nil {
				return nil, err
			}
		default:
			p, err := current.data.Parent(current.nextvisit)
			if err != nil {
				return nil, fmt.Errorf(
					"cannot get parent %d for %s: %w",
					current.nextvisit,
					current.data.Hash.String(),
					err)
			}
			current.nextvisit += 1
			gb.add(p)
		}
	}

	return result, nil
}

// ancestors collects head and all of its history.
func ancestors(ctx context.Context, head *object.Commit) (HashSet, error) {
	commits, err := GetDFSPath(ctx, head, nil)
	if err != nil {
		return nil, err
	}

	result := make(HashSet, len(commits))
	for _, c := range commits {
		result[c.Hash] = empty{}
	}
	return result, nil
}
