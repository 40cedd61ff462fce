package cache

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

func TestShardedBackend_staleShardAfterFlush(t *testing.T) {
	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	sig := object.Signature{Name: "a", Email: "a@example.com", When: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	c := &object.Commit{Author: sig, Committer: sig, Message: "root", TreeHash: tree.EmptyTree}
	obj := repo.Storer.NewEncodedObject()
	require.NoError(t, c.Encode(obj))
	root, err := repo.Storer.SetEncodedObject(obj)
	require.NoError(t, err)

	f := filter.MustParse(":/lib")
	b := NewShardedBackend(repo.Storer, NewSequence(repo.Storer), 10)
	ref := ShardRef(f, 0)
	key := shardKey(ref, root)

	// a reader loads the shard before the mapping is flushed ...
	gen := b.gen
	stale, err := b.loadShard(ref, root.String()[:2])
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, b.Write(f, root, tree.EmptyTree))
	require.NoError(t, b.Flush())

	// ... and keeps it only after the flush finished
	b.keepShard(key, gen, stale)

	to, found, err := b.Read(f, root)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, tree.EmptyTree, to)
}
