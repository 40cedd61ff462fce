package tree

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
)

// Key identifies a memoized result. Filter carries the identity of whatever
// parametrizes the operation besides its operands, such as a filter or a pattern.
type Key struct {
	Op     string
	A, B   plumbing.Hash
	Filter plumbing.Hash
}

// Memo is a concurrency safe cache of tree algebra results. The lock is held
// only while reading or writing the map, never while computing a result.
//
// A nil *Memo disables memoization.
type Memo struct {
	mu           sync.RWMutex
	m            map[Key]plumbing.Hash
	hits, misses atomic.Uint64
}

func NewMemo() *Memo {
	return &Memo{m: make(map[Key]plumbing.Hash)}
}

func (m *Memo) Load(k Key) (plumbing.Hash, bool) {
	if m == nil {
		return plumbing.ZeroHash, false
	}
	m.mu.RLock()
	v, found := m.m[k]
	m.mu.RUnlock()
	if found {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return v, found
}

func (m *Memo) Store(k Key, v plumbing.Hash) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[k] = v
	m.mu.Unlock()
}

// Len returns the number of memoized results.
func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Stats returns the number of hits and misses of [Memo.Load].
func (m *Memo) Stats() (hits, misses uint64) {
	if m == nil {
		return 0, 0
	}
	return m.hits.Load(), m.misses.Load()
}

// memoized runs fn on a miss and records its result.
func (t *Trees) memoized(k Key, fn func() (plumbing.Hash, error)) (plumbing.Hash, error) {
	if v, found := t.memo.Load(k); found {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	t.memo.Store(k, v)
	return v, nil
}

// StringKey derives a hash usable as [Key.Filter] from strings.
func StringKey(parts ...string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(strings.Join(parts, "\x00")))
}
