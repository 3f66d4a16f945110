// Package blobstore fetches content payloads by reference, either over
// HTTP or from a local content-addressed badger store.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeebo/blake3"

	"reader/internal/domain"
)

var keyPrefix = []byte("blob/")

// Ref returns the content address of data: base64url BLAKE3-256.
func Ref(data []byte) string {
	sum := blake3.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Local is a content-addressed blob store backed by badger.
type Local struct {
	db *badger.DB
}

// OpenLocal opens a store in dir, or an in-memory store when dir is empty.
func OpenLocal(dir string) (*Local, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	return &Local{db: db}, nil
}

// Close releases the underlying database.
func (l *Local) Close() error { return l.db.Close() }

// Put stores data and returns its reference. Storing the same bytes twice
// is a no-op.
func (l *Local) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := Ref(data)
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(ref), data)
	})
	if err != nil {
		return "", fmt.Errorf("storing blob %s: %w: %w", ref, domain.ErrUnavailable, err)
	}
	return ref, nil
}

// Fetch returns the blob for ref after checking it still hashes to ref.
func (l *Local) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(ref))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("blob %s: %w: %w", ref, domain.ErrUnavailable, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w: %w", ref, domain.ErrUnavailable, err)
	}
	if Ref(data) != ref {
		return nil, fmt.Errorf("%w: blob %s does not match its reference", domain.ErrCorrupt, ref)
	}
	return data, nil
}

func key(ref string) []byte {
	return append(append([]byte(nil), keyPrefix...), ref...)
}
