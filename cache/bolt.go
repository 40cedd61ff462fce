package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"go.etcd.io/bbolt"

	"github.com/josh-project/josh-sub001/filter"
)

var ErrNilDB = errors.New("nil db")

// BoltBackend keeps every written mapping in a bbolt database, one bucket per filter.
type BoltBackend struct {
	db *bbolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// OpenBolt opens or creates the database file cache.db in dir.
func OpenBolt(dir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	db, err := bbolt.Open(filepath.Join(dir, "cache.db"), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db in %s: %w", dir, err)
	}

	return &BoltBackend{db: db}, nil
}

// getFromDb returns the typed value stored under id, or nil.
func getFromDb[T any](db *bbolt.DB, bucket []byte, id []byte,
	unmarshal func(data []byte, v *T) error,
) (*T, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	r := (*T)(nil)

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		v := b.Get(id)
		if v == nil {
			return nil
		}
		r = new(T)
		if err := unmarshal(v, r); err != nil {
			r = nil
			return err
		}

		return nil
	})

	return r, err
}

func putToDb[T any](db *bbolt.DB, bucket []byte, id []byte, v T, marshal func(v T) ([]byte, error)) error {
	if db == nil {
		return ErrNilDB
	}

	return db.Update(
		func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
			data, err := marshal(v)
			if err != nil {
				return err
			}
			return b.Put(id, data)
		})
}

func unmarshalHash(data []byte, h *plumbing.Hash) error {
	if len(data) != len(h) {
		return fmt.Errorf("corrupted cache entry of %d bytes", len(data))
	}
	copy(h[:], data)
	return nil
}

func marshalHash(h plumbing.Hash) ([]byte, error) {
	return h[:], nil
}

func bucketName(f filter.Filter) []byte {
	id := f.ID()
	return []byte(id.String())
}

func (b *BoltBackend) Read(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool, error) {
	to, err := getFromDb(b.db, bucketName(f), from[:], unmarshalHash)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read %s from cache db: %w", from, err)
	}
	if to == nil {
		return plumbing.ZeroHash, false, nil
	}
	return *to, true, nil
}

func (b *BoltBackend) Write(f filter.Filter, from, to plumbing.Hash) error {
	if err := putToDb(b.db, bucketName(f), from[:], to, marshalHash); err != nil {
		return fmt.Errorf("failed to write %s to cache db: %w", from, err)
	}
	return nil
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
