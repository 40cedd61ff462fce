package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub001/filter"
)

// BadgerBackend keeps every written mapping in a badger database. Keys are the
// filter id followed by the source commit id.
type BadgerBackend struct {
	db *badger.DB
}

var _ Backend = (*BadgerBackend)(nil)

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens or creates a database in dir. An empty dir keeps the database in memory.
func OpenBadger(dir string) (*BadgerBackend, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache in %q: %w", dir, err)
	}

	return &BadgerBackend{db: db}, nil
}

func badgerKey(f filter.Filter, from plumbing.Hash) []byte {
	id := f.ID()
	k := make([]byte, 0, len(id)+len(from))
	k = append(k, id[:]...)
	return append(k, from[:]...)
}

func (b *BadgerBackend) Read(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool, error) {
	var to plumbing.Hash
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(f, from))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := unmarshalHash(val, &to); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read %s from badger cache: %w", from, err)
	}

	return to, found, nil
}

func (b *BadgerBackend) Write(f filter.Filter, from, to plumbing.Hash) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(f, from), to[:])
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to badger cache: %w", from, err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
