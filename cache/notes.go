package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"github.com/josh-project/josh-sub001/filter"
	"github.com/josh-project/josh-sub001/tree"
)

var notesSignature = object.Signature{Name: "josh", Email: "josh@localhost"}

// NotesBackend stores mappings of eligible commits as git notes, one notes ref
// per filter and bucket under refs/josh/cache/notes/.
type NotesBackend struct {
	s     storage.Storer
	seq   *Sequence
	trees *tree.Trees

	mu sync.Mutex
}

var _ Backend = (*NotesBackend)(nil)

func NewNotesBackend(s storage.Storer, seq *Sequence) *NotesBackend {
	return &NotesBackend{s: s, seq: seq, trees: tree.New(s, nil)}
}

// NotesRef returns the notes ref holding the mappings of the filter in bucket.
func NotesRef(f filter.Filter, bucket uint64) plumbing.ReferenceName {
	return plumbing.ReferenceName(fmt.Sprintf("refs/josh/cache/notes/%s/%d/%s", Version, bucket, f.ID()))
}

// notePath fans out like git notes does for large note trees.
func notePath(from plumbing.Hash) string {
	s := from.String()
	return s[:2] + "/" + s[2:]
}

func (n *NotesBackend) notesTree(ref plumbing.ReferenceName) (plumbing.Hash, plumbing.Hash, error) {
	r, err := n.s.Reference(ref)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, tree.EmptyTree, nil
	}
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}
	c, err := object.GetCommit(n.s, r.Hash())
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, fmt.Errorf("failed to read notes commit of %s: %w", ref, err)
	}
	return c.Hash, c.TreeHash, nil
}

func (n *NotesBackend) Read(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool, error) {
	eligible, bucket, err := n.seq.Eligible(from)
	if err != nil || !eligible {
		return plumbing.ZeroHash, false, err
	}

	_, root, err := n.notesTree(NotesRef(f, bucket))
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	e, found, err := n.trees.Get(root, notePath(from))
	if err != nil || !found {
		return plumbing.ZeroHash, false, err
	}
	data, err := n.trees.ReadBlob(e.Hash)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}

	to, err := parseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("corrupted note for %s: %w", from, err)
	}
	return to, true, nil
}

func (n *NotesBackend) Write(f filter.Filter, from, to plumbing.Hash) error {
	eligible, bucket, err := n.seq.Eligible(from)
	if err != nil || !eligible {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ref := NotesRef(f, bucket)
	parent, root, err := n.notesTree(ref)
	if err != nil {
		return err
	}
	blob, err := n.trees.WriteBlob([]byte(to.String() + "\n"))
	if err != nil {
		return err
	}
	root, err = n.trees.Insert(root, notePath(from), blob, filemode.Regular)
	if err != nil {
		return err
	}

	sig := notesSignature
	sig.When = time.Now()
	c := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   "Notes added by josh\n",
		TreeHash:  root,
	}
	if !parent.IsZero() {
		c.ParentHashes = []plumbing.Hash{parent}
	}
	h, err := storeCommit(n.s, c)
	if err != nil {
		return err
	}

	return n.s.SetReference(plumbing.NewHashReference(ref, h))
}

func parseHash(s string) (plumbing.Hash, error) {
	if len(s) != 40 || !plumbing.IsHash(s) {
		return plumbing.ZeroHash, fmt.Errorf("invalid object id %q", s)
	}
	return plumbing.NewHash(s), nil
}

func storeCommit(s storage.Storer, c *object.Commit) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	return s.SetEncodedObject(obj)
}
