// Package objstore keeps uploaded files (avatars, chat images) in a
// PebbleDB key-value store.
package objstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

var (
	ErrNotFound    = errors.New("objstore: object not found")
	ErrInvalidPath = errors.New("objstore: invalid object path")
)

const (
	dataPrefix = "d/"
	metaPrefix = "m/"
)

// Object describes a stored file.
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Updated     time.Time `json:"updated"`
}

// Store is safe for concurrent use; pebble serializes the writes.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if needed) a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func cleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" || strings.Contains(p, "..") || strings.Contains(p, "//") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return p, nil
}

// Put stores data at p, replacing any previous object.
func (s *Store) Put(p, contentType string, data []byte) (*Object, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	obj := &Object{
		Path:        p,
		ContentType: contentType,
		Size:        int64(len(data)),
		Updated:     time.Now().UTC(),
	}
	meta, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(dataPrefix+p), data, nil); err != nil {
		return nil, err
	}
	if err := b.Set([]byte(metaPrefix+p), meta, nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("commit object %s: %w", p, err)
	}
	return obj, nil
}

// Stat returns the metadata of the object at p.
func (s *Store) Stat(p string) (*Object, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	raw, err := s.get(metaPrefix + p)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", p, err)
	}
	return &obj, nil
}

// Get returns the object's metadata and contents.
func (s *Store) Get(p string) (*Object, []byte, error) {
	obj, err := s.Stat(p)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.get(dataPrefix + obj.Path)
	if err != nil {
		return nil, nil, err
	}
	return obj, data, nil
}

func (s *Store) get(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) Delete(p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(dataPrefix+p), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(metaPrefix+p), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// List returns the metadata of every object under prefix, in path order.
func (s *Store) List(prefix string) ([]Object, error) {
	lower := []byte(metaPrefix + strings.Trim(prefix, "/"))
	upper := append(append([]byte(nil), lower...), 0xff)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []Object
	for it.First(); it.Valid(); it.Next() {
		var obj Object
		if err := json.Unmarshal(it.Value(), &obj); err != nil {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
