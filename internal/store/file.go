package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const fileVersion = "1.0"

// recordsFile is the JSON layout of a file store.
type recordsFile struct {
	Version string   `json:"version"`
	Records []Record `json:"records"`
}

// File keeps records in one JSON file, rewritten atomically on every change.
type File struct {
	path    string
	mu      sync.RWMutex
	version string
	records map[string]Record
}

var _ Store = (*File)(nil)

// NewFile opens the store at path, creating its directory when needed. A
// missing file is an empty store.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	f := &File{
		path:    path,
		version: fileVersion,
		records: make(map[string]Record),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var file recordsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse store %s: %w", f.path, err)
	}

	f.version = file.Version
	for _, r := range file.Records {
		f.records[r.Pipeline] = r
	}
	return nil
}

// save writes the records to disk. Callers hold the write lock.
func (f *File) save() error {
	file := recordsFile{Version: f.version, Records: f.sorted()}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func (f *File) sorted() []Record {
	out := make([]Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pipeline < out[j].Pipeline })
	return out
}

func (f *File) Get(_ context.Context, pipeline string) (Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.records[pipeline]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (f *File) Put(_ context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, existed := f.records[r.Pipeline]
	f.records[r.Pipeline] = r
	if err := f.save(); err != nil {
		if existed {
			f.records[r.Pipeline] = previous
		} else {
			delete(f.records, r.Pipeline)
		}
		return err
	}
	return nil
}

func (f *File) Delete(_ context.Context, pipeline string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, ok := f.records[pipeline]
	if !ok {
		return nil
	}
	delete(f.records, pipeline)
	if err := f.save(); err != nil {
		f.records[pipeline] = previous
		return err
	}
	return nil
}

func (f *File) List(context.Context) ([]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sorted(), nil
}

func (f *File) Close() error { return nil }
