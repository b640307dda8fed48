package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key namespaces inside a shared BadgerDB.
const (
	DurableNamespace = "durable:"
	SessionNamespace = "session:"
)

// OpenBadger opens a BadgerDB at dir. An empty dir opens an in-memory
// database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// Badger implements Store on a BadgerDB, isolating its keys under a
// namespace prefix so one database can hold both areas.
type Badger struct {
	db        *badger.DB
	namespace string
}

// NewBadger creates a namespaced store on db.
func NewBadger(db *badger.DB, namespace string) *Badger {
	return &Badger{db: db, namespace: namespace}
}

// NewBadgerAreas returns durable and session areas sharing db.
func NewBadgerAreas(db *badger.DB) Areas {
	return Areas{
		Durable: NewBadger(db, DurableNamespace),
		Session: NewBadger(db, SessionNamespace),
	}
}

func (b *Badger) key(k string) []byte {
	return []byte(b.namespace + k)
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.key(key), value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

func (b *Badger) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(b.key(key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// ClearNamespace deletes every key in the store's namespace and leaves
// other namespaces sharing the database untouched.
func (b *Badger) ClearNamespace() error {
	return b.db.DropPrefix([]byte(b.namespace))
}
