package josh_test

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

func examplePanic(err error) {
	if err != nil {
		log.Panic(err)
	}
}

func exampleTx() *cache.Transaction {
	repo, err := git.Init(memory.NewStorage(), nil)
	examplePanic(err)
	tx, err := cache.New(repo, "")
	examplePanic(err)
	return tx
}

func exampleCommit(tx *cache.Transaction, seq int, files map[string]string, parents ...plumbing.Hash) plumbing.Hash {
	trees := tx.Trees()
	entries := make(map[string]object.TreeEntry, len(files))
	for p, c := range files {
		h, err := trees.WriteBlob([]byte(c))
		examplePanic(err)
		entries[p] = object.TreeEntry{Mode: filemode.Regular, Hash: h}
	}
	t, err := trees.FromFiles(entries)
	examplePanic(err)

	sig := object.Signature{Name: "Dev", Email: "dev@example.com", When: time.Unix(int64(seq)*60, 0).UTC()}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      fmt.Sprintf("commit %d\n", seq),
		TreeHash:     t,
		ParentHashes: parents,
	}
	s := tx.Repo().Storer
	obj := s.NewEncodedObject()
	examplePanic(c.Encode(obj))
	h, err := s.SetEncodedObject(obj)
	examplePanic(err)
	return h
}

// Example building a path over a small merge history. Parents always come
// before their children and first parents are visited first.
func ExampleGetDFSPath() {
	tx := exampleTx()
	base := exampleCommit(tx, 0, map[string]string{"a.txt": "a"})
	left := exampleCommit(tx, 1, map[string]string{"a.txt": "left"}, base)
	right := exampleCommit(tx, 2, map[string]string{"a.txt": "a", "b.txt": "b"}, base)
	merge := exampleCommit(tx, 3, map[string]string{"a.txt": "left", "b.txt": "b"}, left, right)

	head, err := tx.Repo().CommitObject(merge)
	examplePanic(err)

	path, err := josh.GetDFSPath(context.Background(), head, nil)
	examplePanic(err)

	for _, c := range path {
		fmt.Println(strings.TrimSpace(c.Message))
	}

	// Output:
	// commit 0
	// commit 1
	// commit 2
	// commit 3
}

// Example filtering a history down to one directory. Commits that do not
// touch lib/ are dropped from the result.
func ExampleFilterCommit() {
	tx := exampleTx()
	var head plumbing.Hash
	files := map[string]string{"README.md": "readme"}
	for i := 0; i < 4; i++ {
		if i%2 == 0 {
			files["lib/lib.go"] = fmt.Sprintf("package lib // %d", i)
		} else {
			files["app/main.go"] = fmt.Sprintf("package main // %d", i)
		}
		snapshot := make(map[string]string, len(files))
		for k, v := range files {
			snapshot[k] = v
		}
		if head.IsZero() {
			head = exampleCommit(tx, i, snapshot)
		} else {
			head = exampleCommit(tx, i, snapshot, head)
		}
	}

	filtered, err := josh.FilterCommit(context.Background(), tx, filter.MustParse(":/lib"), head)
	examplePanic(err)

	for h := filtered; !h.IsZero(); {
		c, err := tx.Repo().CommitObject(h)
		examplePanic(err)
		fmt.Println(strings.TrimSpace(c.Message))
		t, err := c.Tree()
		examplePanic(err)
		for _, e := range t.Entries {
			fmt.Println("-", e.Name)
		}
		h = plumbing.ZeroHash
		if c.NumParents() > 0 {
			h = c.ParentHashes[0]
		}
	}

	// Output:
	// commit 2
	// - lib.go
	// commit 0
	// - lib.go
}
