package josh

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

// LinkFileName is the file recording the remote a directory is linked to.
const LinkFileName = ".link.josh"

var ErrInvalidLink = errors.New("invalid link file")

// ParseLinkFile parses a link file. A link is a filter with a url annotation,
// telling which remote history the directory follows.
func ParseLinkFile(content string) (filter.Filter, error) {
	f, err := filter.Parse(content)
	if err != nil {
		return filter.NopFilter, err
	}
	if _, found := filter.MetaValue(f, filter.MetaURL); !found {
		return filter.NopFilter, fmt.Errorf("%w: missing %s", ErrInvalidLink, filter.MetaURL)
	}
	return f, nil
}

// FormatLinkFile is the content of the link file for f.
func FormatLinkFile(f filter.Filter) string {
	return filter.AsFile(f, 4)
}

// Links finds the link files in the tree and returns their filters keyed by
// the linked directory. Malformed link files are skipped.
func Links(tx *cache.Transaction, root plumbing.Hash) (map[string]filter.Filter, error) {
	trees := tx.Trees()
	files, err := trees.Files(root)
	if err != nil {
		return nil, err
	}

	r := make(map[string]filter.Filter)
	for p, e := range files {
		if path.Base(p) != LinkFileName {
			continue
		}
		data, err := trees.ReadBlob(e.Hash)
		if err != nil {
			return nil, err
		}
		f, err := ParseLinkFile(string(data))
		if err != nil {
			logger.Warn("ignoring invalid link file", "path", p, "err", err)
			continue
		}
		r[path.Dir(p)] = f
	}

	return r, nil
}

// InsertLink records f as the link of dir in the tree root.
func InsertLink(tx *cache.Transaction, root plumbing.Hash, dir string, f filter.Filter) (plumbing.Hash, error) {
	if _, found := filter.MetaValue(f, filter.MetaURL); !found {
		return plumbing.ZeroHash, fmt.Errorf("%w: missing %s", ErrInvalidLink, filter.MetaURL)
	}
	trees := tx.Trees()
	blob, err := trees.WriteBlob([]byte(FormatLinkFile(f)))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return trees.Insert(root, path.Join(dir, LinkFileName), blob, filemode.Regular)
}

const remotesDir = "josh/remotes"

func remoteFS(tx *cache.Transaction) (billy.Filesystem, error) {
	fs, ok := tx.Repo().Storer.(*filesystem.Storage)
	if !ok {
		return nil, fmt.Errorf("remotes need a repository on disk")
	}
	return fs.Filesystem(), nil
}

func remoteFile(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid remote name %q", name)
	}
	return path.Join(remotesDir, name+".josh"), nil
}

// StoreRemote saves the filter of a named remote in the git directory.
func StoreRemote(tx *cache.Transaction, name string, f filter.Filter) error {
	fs, err := remoteFS(tx)
	if err != nil {
		return err
	}
	p, err := remoteFile(name)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(remotesDir, 0o755); err != nil {
		return err
	}
	return util.WriteFile(fs, p, []byte(FormatLinkFile(f)), 0o644)
}

// LoadRemote reads the filter saved with [StoreRemote].
func LoadRemote(tx *cache.Transaction, name string) (filter.Filter, error) {
	fs, err := remoteFS(tx)
	if err != nil {
		return filter.NopFilter, err
	}
	p, err := remoteFile(name)
	if err != nil {
		return filter.NopFilter, err
	}
	data, err := util.ReadFile(fs, p)
	if err != nil {
		return filter.NopFilter, fmt.Errorf("failed to read remote %s: %w", name, err)
	}
	return filter.Parse(string(data))
}

// Remotes lists the names of the saved remotes.
func Remotes(tx *cache.Transaction) ([]string, error) {
	fs, err := remoteFS(tx)
	if err != nil {
		return nil, err
	}
	infos, err := fs.ReadDir(remotesDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r []string
	for _, info := range infos {
		if name, found := strings.CutSuffix(info.Name(), ".josh"); found && !info.IsDir() {
			r = append(r, name)
		}
	}
	sort.Strings(r)
	return r, nil
}
