package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"golang.org/x/sync/singleflight"

	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

// DefaultShardBatch is the number of buffered writes that triggers a flush.
const DefaultShardBatch = 1000

// ShardedBackend stores mappings of eligible commits in trees referenced from
// refs/josh/cache/, one ref per filter and bucket. Inside a ref the entries are
// fanned out by the first byte of the source commit id.
//
// Writes are buffered and flushed once the batch is full, on [ShardedBackend.Flush]
// and on [ShardedBackend.Close].
type ShardedBackend struct {
	s     storage.Storer
	seq   *Sequence
	trees *tree.Trees
	batch int

	flight singleflight.Group

	mu       sync.Mutex
	pending  map[plumbing.ReferenceName]map[plumbing.Hash]plumbing.Hash
	npending int
	shards   map[string]map[plumbing.Hash]plumbing.Hash
	// gen counts flushes, shards loaded under an older generation are not kept.
	gen uint64
}

var _ Backend = (*ShardedBackend)(nil)

func NewShardedBackend(s storage.Storer, seq *Sequence, batch int) *ShardedBackend {
	if batch <= 0 {
		batch = DefaultShardBatch
	}
	return &ShardedBackend{
		s:       s,
		seq:     seq,
		trees:   tree.New(s, nil),
		batch:   batch,
		pending: make(map[plumbing.ReferenceName]map[plumbing.Hash]plumbing.Hash),
		shards:  make(map[string]map[plumbing.Hash]plumbing.Hash),
	}
}

// ShardRef returns the ref holding the mappings of the filter in bucket.
func ShardRef(f filter.Filter, bucket uint64) plumbing.ReferenceName {
	return plumbing.ReferenceName(fmt.Sprintf("refs/josh/cache/%s/%d/%s", Version, bucket, f.ID()))
}

func shardKey(ref plumbing.ReferenceName, from plumbing.Hash) string {
	return ref.String() + ":" + from.String()[:2]
}

func (b *ShardedBackend) Read(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool, error) {
	eligible, bucket, err := b.seq.Eligible(from)
	if err != nil || !eligible {
		return plumbing.ZeroHash, false, err
	}
	ref := ShardRef(f, bucket)
	key := shardKey(ref, from)

	b.mu.Lock()
	if to, found := b.pending[ref][from]; found {
		b.mu.Unlock()
		return to, true, nil
	}
	shard, loaded := b.shards[key]
	gen := b.gen
	b.mu.Unlock()

	if !loaded {
		v, err, _ := b.flight.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
			return b.loadShard(ref, from.String()[:2])
		})
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		shard = v.(map[plumbing.Hash]plumbing.Hash)
		b.keepShard(key, gen, shard)
	}

	to, found := shard[from]
	return to, found, nil
}

// keepShard caches a shard loaded in generation gen, unless a flush happened since.
func (b *ShardedBackend) keepShard(key string, gen uint64, shard map[plumbing.Hash]plumbing.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == gen {
		b.shards[key] = shard
	}
}

func (b *ShardedBackend) shardRoot(ref plumbing.ReferenceName) (plumbing.Hash, error) {
	r, err := b.s.Reference(ref)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return tree.EmptyTree, nil
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Hash(), nil
}

func (b *ShardedBackend) loadShard(ref plumbing.ReferenceName, fanout string) (map[plumbing.Hash]plumbing.Hash, error) {
	r := make(map[plumbing.Hash]plumbing.Hash)

	root, err := b.shardRoot(ref)
	if err != nil {
		return nil, err
	}
	dir, err := b.trees.Subdir(root, fanout)
	if err != nil {
		return nil, err
	}
	entries, err := b.trees.Entries(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		from, err := parseHash(fanout + e.Name)
		if err != nil {
			logger.Warn("skipping malformed shard entry", "ref", ref, "name", fanout+e.Name)
			continue
		}
		data, err := b.trees.ReadBlob(e.Hash)
		if err != nil {
			return nil, err
		}
		to, err := parseHash(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("corrupted shard entry %s in %s: %w", from, ref, err)
		}
		r[from] = to
	}

	return r, nil
}

func (b *ShardedBackend) Write(f filter.Filter, from, to plumbing.Hash) error {
	eligible, bucket, err := b.seq.Eligible(from)
	if err != nil || !eligible {
		return err
	}
	ref := ShardRef(f, bucket)

	b.mu.Lock()
	m, found := b.pending[ref]
	if !found {
		m = make(map[plumbing.Hash]plumbing.Hash)
		b.pending[ref] = m
	}
	if _, dup := m[from]; !dup {
		b.npending++
	}
	m[from] = to
	full := b.npending >= b.batch
	b.mu.Unlock()

	if full {
		if err := b.Flush(); err != nil {
			logger.Warn("failed to flush cache shards", "err", err)
		}
	}

	return nil
}

// Flush writes the buffered mappings to their refs.
func (b *ShardedBackend) Flush() error {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[plumbing.ReferenceName]map[plumbing.Hash]plumbing.Hash)
	b.npending = 0
	b.mu.Unlock()

	var errs []error
	for ref, m := range pending {
		if err := b.flushRef(ref, m); err != nil {
			shardFlushTotal.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("failed to flush %s: %w", ref, err))
			continue
		}
		shardFlushTotal.WithLabelValues("ok").Inc()
	}

	return errors.Join(errs...)
}

func (b *ShardedBackend) flushRef(ref plumbing.ReferenceName, m map[plumbing.Hash]plumbing.Hash) error {
	root, err := b.shardRoot(ref)
	if err != nil {
		return err
	}

	files, err := b.trees.Files(root)
	if err != nil {
		return err
	}
	for from, to := range m {
		blob, err := b.trees.WriteBlob([]byte(to.String() + "\n"))
		if err != nil {
			return err
		}
		files[notePath(from)] = object.TreeEntry{Mode: filemode.Regular, Hash: blob}
	}
	root, err = b.trees.FromFiles(files)
	if err != nil {
		return err
	}
	if err := b.s.SetReference(plumbing.NewHashReference(ref, root)); err != nil {
		return err
	}

	b.mu.Lock()
	b.gen++
	for from := range m {
		delete(b.shards, shardKey(ref, from))
	}
	b.mu.Unlock()

	return nil
}

// Close flushes the buffered mappings. A failed flush is logged.
func (b *ShardedBackend) Close() error {
	if err := b.Flush(); err != nil {
		logger.Warn("failed to flush cache shards on close", "err", err)
	}
	return nil
}
