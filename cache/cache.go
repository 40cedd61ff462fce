package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

// Backend kinds accepted by [WithKinds].
const (
	KindBolt    = "bolt"
	KindBadger  = "badger"
	KindNotes   = "notes"
	KindSharded = "sharded"
)

var ErrUnknownBackend = errors.New("unknown cache backend")

type options struct {
	kinds      []string
	backends   []Backend
	memo       *tree.Memo
	shardBatch int
}

type Option func(*options)

// WithKinds selects the persistent backends [Open] creates, tried in the given order.
func WithKinds(kinds ...string) Option {
	return func(o *options) {
		o.kinds = kinds
	}
}

// WithBackends adds already opened backends, tried after the ones from [WithKinds].
// The transaction does not close them.
func WithBackends(backends ...Backend) Option {
	return func(o *options) {
		o.backends = append(o.backends, backends...)
	}
}

// WithMemo shares a tree algebra memo between transactions.
func WithMemo(m *tree.Memo) Option {
	return func(o *options) {
		o.memo = m
	}
}

// WithShardBatch sets the write batch of the sharded backend.
func WithShardBatch(n int) Option {
	return func(o *options) {
		o.shardBatch = n
	}
}

type key struct {
	filter filter.Filter
	oid    plumbing.Hash
}

// Missing is a lookup that missed every tier.
type Missing struct {
	Filter filter.Filter
	From   plumbing.Hash
}

// shared is the state every clone of a transaction uses.
type shared struct {
	repo      *git.Repository
	refPrefix string
	stack     *Stack
	owned     *Stack
	memo      *tree.Memo
	seq       *Sequence
	locks     *refLocks
}

// Transaction is the entry point of the filter engine: it holds the repository
// and caches filter results in memory and in the persistent backends.
//
// A Transaction must not be used concurrently. Use [Transaction.Clone] to get a
// transaction for another goroutine sharing the same backends.
type Transaction struct {
	*shared

	trees   *tree.Trees
	apply   map[key]plumbing.Hash
	unapply map[key]plumbing.Hash

	missing   []Missing
	misses    int
	walkDepth int
}

// Open opens the repository at path and the backends selected with [WithKinds],
// by default a bbolt database under <git dir>/josh/<version>/.
func Open(path, refPrefix string, opts ...Option) (*Transaction, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}

	o := &options{kinds: []string{KindBolt}}
	for _, opt := range opts {
		opt(o)
	}

	dir := path
	if fs, ok := repo.Storer.(*filesystem.Storage); ok {
		dir = fs.Filesystem().Root()
	}
	dir = filepath.Join(dir, "josh", Version)

	return newTransaction(repo, refPrefix, dir, o)
}

// New creates a transaction on an open repository. Without options only the
// in memory tier is used.
func New(repo *git.Repository, refPrefix string, opts ...Option) (*Transaction, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newTransaction(repo, refPrefix, "", o)
}

func newTransaction(repo *git.Repository, refPrefix, dir string, o *options) (*Transaction, error) {
	seq := NewSequence(repo.Storer)

	var owned []Backend
	closeOwned := func() {
		_ = NewStack(owned...).Close()
	}
	for _, kind := range o.kinds {
		switch kind {
		case KindBolt:
			if dir == "" {
				closeOwned()
				return nil, fmt.Errorf("%w: %s needs a repository on disk", ErrUnknownBackend, kind)
			}
			b, err := OpenBolt(dir)
			if err != nil {
				closeOwned()
				return nil, err
			}
			owned = append(owned, b)
		case KindBadger:
			bdir := ""
			if dir != "" {
				bdir = filepath.Join(dir, "badger")
			}
			b, err := OpenBadger(bdir)
			if err != nil {
				closeOwned()
				return nil, err
			}
			owned = append(owned, b)
		case KindNotes:
			owned = append(owned, NewNotesBackend(repo.Storer, seq))
		case KindSharded:
			owned = append(owned, NewShardedBackend(repo.Storer, seq, o.shardBatch))
		default:
			closeOwned()
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
		}
	}

	memo := o.memo
	if memo == nil {
		memo = tree.NewMemo()
	}

	s := &shared{
		repo:      repo,
		refPrefix: refPrefix,
		stack:     NewStack(append(owned, o.backends...)...),
		owned:     NewStack(owned...),
		memo:      memo,
		seq:       seq,
		locks:     newRefLocks(),
	}

	return newFromShared(s), nil
}

func newFromShared(s *shared) *Transaction {
	return &Transaction{
		shared:  s,
		trees:   tree.New(s.repo.Storer, s.memo),
		apply:   make(map[key]plumbing.Hash),
		unapply: make(map[key]plumbing.Hash),
	}
}

// Clone returns a transaction with fresh in memory maps, sharing the repository
// and the backends.
func (t *Transaction) Clone() *Transaction {
	return newFromShared(t.shared)
}

func (t *Transaction) Repo() *git.Repository {
	return t.repo
}

func (t *Transaction) RefPrefix() string {
	return t.refPrefix
}

// Trees returns the tree algebra bound to the repository and the shared memo.
func (t *Transaction) Trees() *tree.Trees {
	return t.trees
}

// SequenceNumber returns the length of the longest parent chain of the commit.
func (t *Transaction) SequenceNumber(h plumbing.Hash) (uint64, error) {
	return t.seq.Number(h)
}

// Close flushes and closes the backends opened by [Open] or [New].
// Clones share the backends, so only the original transaction should be closed.
func (t *Transaction) Close() error {
	return t.owned.Close()
}

// Flush flushes buffered backends.
func (t *Transaction) Flush() error {
	return t.stack.Flush()
}

// Get returns the cached result of f on from. A result from a persistent
// backend is only trusted if the result is still in the object store.
// Lookups missing every tier are recorded for [Transaction.GetMissing].
func (t *Transaction) Get(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool) {
	to, found := t.Lookup(f, from)
	if !found {
		t.misses++
		t.missing = append(t.missing, Missing{Filter: f, From: from})
	}
	return to, found
}

// Lookup is [Transaction.Get] without recording misses.
func (t *Transaction) Lookup(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool) {
	if f.IsNop() {
		return from, true
	}
	k := key{filter: f, oid: from}
	if to, found := t.apply[k]; found {
		lookupTotal.WithLabelValues("memory", "hit").Inc()
		return to, true
	}

	// failing backends are logged by the stack and count as misses
	to, found, _ := t.stack.Read(f, from)
	if found {
		if to.IsZero() || t.repo.Storer.HasEncodedObject(to) == nil {
			lookupTotal.WithLabelValues("backend", "hit").Inc()
			t.apply[k] = to
			return to, true
		}
		lookupTotal.WithLabelValues("backend", "stale").Inc()
		logger.Debug("ignoring cached result missing from the store", "filter", f.ID(), "from", from, "to", to)
	} else {
		lookupTotal.WithLabelValues("backend", "miss").Inc()
	}

	return plumbing.ZeroHash, false
}

// Insert records the result of f on from. It is persisted if store is set, and
// otherwise for about 1 in 256 commits picked by their id.
func (t *Transaction) Insert(f filter.Filter, from, to plumbing.Hash, store bool) {
	t.apply[key{filter: f, oid: from}] = to

	if !store && from[0] != 0 {
		insertTotal.WithLabelValues("false").Inc()
		return
	}
	insertTotal.WithLabelValues("true").Inc()
	if err := t.stack.Write(f, from, to); err != nil {
		logger.Warn("cache backend write failed", "err", err, "filter", f.ID(), "from", from)
	}
}

// GetUnapply returns the original commit previously reconstructed from the
// filtered commit.
func (t *Transaction) GetUnapply(f filter.Filter, filtered plumbing.Hash) (plumbing.Hash, bool) {
	to, found := t.unapply[key{filter: f, oid: filtered}]
	return to, found
}

func (t *Transaction) InsertUnapply(f filter.Filter, filtered, original plumbing.Hash) {
	t.unapply[key{filter: f, oid: filtered}] = original
}

// GetMissing returns the lookups that missed since the last call, without
// duplicates and without the ones that have been inserted since.
func (t *Transaction) GetMissing() []Missing {
	seen := make(map[key]struct{}, len(t.missing))
	r := make([]Missing, 0, len(t.missing))
	for _, m := range t.missing {
		k := key{filter: m.Filter, oid: m.From}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, known := t.apply[k]; known {
			continue
		}
		r = append(r, m)
	}
	t.missing = nil

	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Filter.ID().String() < r[j].Filter.ID().String()
	})
	return r
}

// Misses returns the number of lookups that missed every tier.
func (t *Transaction) Misses() int {
	return t.misses
}

// EnterWalk and LeaveWalk track the nesting of history walks.
func (t *Transaction) EnterWalk() int {
	t.walkDepth++
	return t.walkDepth
}

func (t *Transaction) LeaveWalk() {
	t.walkDepth--
}

// WalkDepth returns the current nesting of history walks.
func (t *Transaction) WalkDepth() int {
	return t.walkDepth
}
