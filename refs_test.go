package josh_test

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

func TestFilterRefs(t *testing.T) {
	ctx := context.Background()
	tx := newTx(t)
	heads := linearHistory(t, tx, 4)
	s := tx.Repo().Storer
	require.NoError(t, s.SetReference(plumbing.NewHashReference("refs/heads/main", heads[3])))
	docsOnly := commitFiles(t, tx, 50, "docs\n", map[string]string{"docs/a.md": "a"})
	require.NoError(t, s.SetReference(plumbing.NewHashReference("refs/heads/docs", docsOnly)))

	refs, err := josh.ListRefs(tx, "refs/heads/")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	f := filter.MustParse(":/lib")
	updated, errs := josh.FilterRefs(ctx, tx, f, refs)
	assert.Empty(t, errs)
	require.Len(t, updated, 1, "refs without lib/ have no filtered counterpart")
	assert.Equal(t, plumbing.ReferenceName("refs/heads/main"), updated[0].Name)

	require.NoError(t, josh.UpdateRefs(ctx, tx, updated))
	ref, err := s.Reference("refs/josh/filtered/refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, updated[0].Hash, ref.Hash())

	require.NoError(t, josh.UpdateRefs(ctx, tx, []josh.Ref{{Name: "refs/heads/main"}}))
	_, err = s.Reference("refs/josh/filtered/refs/heads/main")
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)

	_, errs = josh.FilterRefs(ctx, tx, f, []josh.Ref{{Name: "refs/heads/gone", Hash: josh.MustDecodeHashHex("1234567890123456789012345678901234567890")}})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], josh.ErrObjectNotFound)
}

func TestLinks(t *testing.T) {
	tx := newTx(t)
	root := writeTree(t, tx, map[string]string{"README.md": "readme"})
	link := filter.WithMeta(filter.MustParse(":/lib"), map[string]string{filter.MetaURL: "https://example.com/lib.git"})

	withLink, err := josh.InsertLink(tx, root, "deps/lib", link)
	require.NoError(t, err)

	links, err := josh.Links(tx, withLink)
	require.NoError(t, err)
	require.Contains(t, links, "deps/lib")
	url, _ := filter.MetaValue(links["deps/lib"], filter.MetaURL)
	assert.Equal(t, "https://example.com/lib.git", url)

	_, err = josh.InsertLink(tx, root, "deps/lib", filter.MustParse(":/lib"))
	assert.ErrorIs(t, err, josh.ErrInvalidLink)
}

func TestRemotes(t *testing.T) {
	repo, err := git.PlainInit(t.TempDir(), true)
	require.NoError(t, err)
	tx, err := cache.New(repo, "")
	require.NoError(t, err)

	names, err := josh.Remotes(tx)
	require.NoError(t, err)
	assert.Empty(t, names)

	f := filter.WithMeta(filter.MustParse(":/lib"), map[string]string{filter.MetaURL: "https://example.com/lib.git"})
	require.NoError(t, josh.StoreRemote(tx, "lib", f))
	require.Error(t, josh.StoreRemote(tx, "../escape", f))

	got, err := josh.LoadRemote(tx, "lib")
	require.NoError(t, err)
	assert.Equal(t, filter.Spec(f), filter.Spec(got))

	names, err = josh.Remotes(tx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, names)
}
