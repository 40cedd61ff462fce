package cache

import (
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

const (
	// every commit with a sequence number divisible by sparseModulus is persisted
	// by the sparse backends, in addition to merges and roots.
	sparseModulus = 100
	// mappings are grouped in buckets of bucketSize sequence numbers.
	bucketSize = 10000
)

// Sequence numbers commits by the length of their longest parent chain, roots are 0.
// It is safe for concurrent use.
type Sequence struct {
	s storer.EncodedObjectStorer

	mu sync.Mutex
	m  map[plumbing.Hash]uint64
}

func NewSequence(s storer.EncodedObjectStorer) *Sequence {
	return &Sequence{s: s, m: make(map[plumbing.Hash]uint64)}
}

func (q *Sequence) load(h plumbing.Hash) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, found := q.m[h]
	return v, found
}

func (q *Sequence) store(h plumbing.Hash, v uint64) {
	q.mu.Lock()
	q.m[h] = v
	q.mu.Unlock()
}

// Number returns the sequence number of the commit.
func (q *Sequence) Number(h plumbing.Hash) (uint64, error) {
	if v, found := q.load(h); found {
		return v, nil
	}

	type frame struct {
		c    *object.Commit
		next int
		max  uint64
	}

	c, err := object.GetCommit(q.s, h)
	if err != nil {
		return 0, fmt.Errorf("failed to number commit %s: %w", h, err)
	}
	stack := []*frame{{c: c}}

stackloop:
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		for top.next < top.c.NumParents() {
			p := top.c.ParentHashes[top.next]
			v, found := q.load(p)
			if !found {
				pc, err := object.GetCommit(q.s, p)
				if err != nil {
					return 0, fmt.Errorf("failed to number parent %s of %s: %w", p, top.c.Hash, err)
				}
				stack = append(stack, &frame{c: pc})
				continue stackloop
			}
			if v+1 > top.max {
				top.max = v + 1
			}
			top.next++
		}
		q.store(top.c.Hash, top.max)
		stack = stack[:len(stack)-1]
	}

	v, _ := q.load(h)
	return v, nil
}

// Eligible reports if the sparse backends persist mappings of the commit,
// and the bucket they go to.
func (q *Sequence) Eligible(h plumbing.Hash) (bool, uint64, error) {
	n, err := q.Number(h)
	if err != nil {
		return false, 0, err
	}
	if n%sparseModulus == 0 {
		return true, n / bucketSize, nil
	}
	c, err := object.GetCommit(q.s, h)
	if err != nil {
		return false, 0, err
	}
	return c.NumParents() != 1, n / bucketSize, nil
}
