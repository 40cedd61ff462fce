package josh_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/tree"
)

func newTx(t *testing.T) *cache.Transaction {
	t.Helper()
	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	tx, err := cache.New(repo, "refs/josh/filtered/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Close() })
	return tx
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func writeTree(t *testing.T, tx *cache.Transaction, files map[string]string) plumbing.Hash {
	t.Helper()
	trees := tx.Trees()
	entries := make(map[string]object.TreeEntry, len(files))
	for p, c := range files {
		h, err := trees.WriteBlob([]byte(c))
		require.NoError(t, err)
		entries[p] = object.TreeEntry{Mode: filemode.Regular, Hash: h}
	}
	h, err := trees.FromFiles(entries)
	require.NoError(t, err)
	if h == tree.EmptyTree {
		_, err := trees.Write(nil)
		require.NoError(t, err)
	}
	return h
}

func readTree(t *testing.T, tx *cache.Transaction, h plumbing.Hash) map[string]string {
	t.Helper()
	trees := tx.Trees()
	files, err := trees.Files(h)
	require.NoError(t, err)
	r := make(map[string]string, len(files))
	for p, e := range files {
		data, err := trees.ReadBlob(e.Hash)
		require.NoError(t, err)
		r[p] = string(data)
	}
	return r
}

// commitFiles commits the files on top of parents. Commits are numbered by
// seq so that their ids are deterministic.
func commitFiles(t *testing.T, tx *cache.Transaction, seq int, msg string, files map[string]string, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()
	sig := object.Signature{Name: "Dev", Email: "dev@example.com", When: epoch.Add(time.Duration(seq) * time.Minute)}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     writeTree(t, tx, files),
		ParentHashes: parents,
	}
	s := tx.Repo().Storer
	obj := s.NewEncodedObject()
	require.NoError(t, c.Encode(obj))
	h, err := s.SetEncodedObject(obj)
	require.NoError(t, err)
	return h
}

func getCommit(t *testing.T, tx *cache.Transaction, h plumbing.Hash) *object.Commit {
	t.Helper()
	c, err := object.GetCommit(tx.Repo().Storer, h)
	require.NoError(t, err)
	return c
}

// linearHistory creates n commits. Every even commit changes lib/, every odd
// one changes app/.
func linearHistory(t *testing.T, tx *cache.Transaction, n int) []plumbing.Hash {
	t.Helper()
	files := map[string]string{"README.md": "readme"}
	var r []plumbing.Hash
	var parents []plumbing.Hash
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			files["lib/lib.go"] = fmt.Sprintf("package lib // %d", i)
		} else {
			files["app/main.go"] = fmt.Sprintf("package main // %d", i)
		}
		snapshot := make(map[string]string, len(files))
		for k, v := range files {
			snapshot[k] = v
		}
		h := commitFiles(t, tx, i, fmt.Sprintf("commit %d\n", i), snapshot, parents...)
		r = append(r, h)
		parents = []plumbing.Hash{h}
	}
	return r
}

// firstParentLength counts the commits following the first parents from h.
func firstParentLength(t *testing.T, tx *cache.Transaction, h plumbing.Hash) int {
	t.Helper()
	n := 0
	for !h.IsZero() {
		n++
		c := getCommit(t, tx, h)
		if c.NumParents() == 0 {
			break
		}
		h = c.ParentHashes[0]
	}
	return n
}
