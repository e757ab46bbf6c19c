package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "deployment/"

// Badger keeps one JSON-encoded record per key in a Badger database.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// NewBadger opens a Badger database at dir, or an in-memory one.
func NewBadger(dir string, inMemory bool) (*Badger, error) {
	var opts badger.Options
	switch {
	case inMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case dir == "":
		return nil, fmt.Errorf("badger store requires a directory or in-memory mode")
	default:
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Badger{db: db}, nil
}

func recordKey(pipeline string) []byte {
	return []byte(keyPrefix + pipeline)
}

func (b *Badger) Get(_ context.Context, pipeline string) (Record, error) {
	var r Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(pipeline))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", pipeline, err)
	}
	return r, nil
}

func (b *Badger) Put(_ context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.Pipeline, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Pipeline), data)
	})
}

func (b *Badger) Delete(_ context.Context, pipeline string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(pipeline))
	})
}

func (b *Badger) List(context.Context) ([]Record, error) {
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r Record
			if err := it.Item().Value(func(data []byte) error {
				return json.Unmarshal(data, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pipeline < out[j].Pipeline })
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
