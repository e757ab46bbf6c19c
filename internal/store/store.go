// Package store persists deployment records. A record exists for exactly as
// long as its pipeline is deployed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
)

// ErrNotFound is returned when no record exists for a pipeline.
var ErrNotFound = errors.New("deployment record not found")

// Record describes one deployed pipeline.
type Record struct {
	ID       string `json:"id"`
	Pipeline string `json:"pipeline"`
	// Document is the YAML document the pipeline was deployed from.
	Document  []byte                  `json:"document"`
	Instances []pipeline.InstanceSpec `json:"instances"`
	CreatedAt time.Time               `json:"created_at"`
}

// Validate ensures the record can be stored.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("deployment record for %q has no id", r.Pipeline)
	}
	if r.Pipeline == "" {
		return fmt.Errorf("deployment record %s has no pipeline name", r.ID)
	}
	return nil
}

// Store keeps deployment records by pipeline name. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the record of pipeline or ErrNotFound.
	Get(ctx context.Context, pipeline string) (Record, error)
	// Put creates or replaces the record of r.Pipeline.
	Put(ctx context.Context, r Record) error
	// Delete removes the record of pipeline. A missing record is not an error.
	Delete(ctx context.Context, pipeline string) error
	// List returns every record sorted by pipeline name.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindBadger = "badger"
	KindBolt   = "bolt"
)

// Options selects and configures a store implementation.
type Options struct {
	Kind string
	// Path is the JSON file of a file store, the bbolt file of a bolt store
	// or the directory of a Badger store.
	Path string
	// InMemory runs Badger without touching disk.
	InMemory bool
}

// Open builds the store described by opts.
func Open(opts Options) (Store, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindFile:
		return NewFile(opts.Path)
	case KindBadger:
		return NewBadger(opts.Path, opts.InMemory)
	case KindBolt:
		return NewBolt(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store kind %q (expected %s, %s, %s or %s)", opts.Kind, KindMemory, KindFile, KindBadger, KindBolt)
	}
}
