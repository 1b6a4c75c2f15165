// Package store indexes very large line-oriented record files by key and
// materializes individual records on first access.
package store

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/log"
)

// ErrNotFound is returned for keys that were not seen by the index scan.
var ErrNotFound = xerrors.New("store: key not found")

// KeyFunc extracts the identifying key of a line. ok is false for lines that carry no key.
type KeyFunc[K ~string] func(line []byte) (key K, ok bool, err error)

// MatchFunc reports whether line is the record for key.
type MatchFunc[K ~string] func(line []byte, key K) bool

// ParseFunc fully parses one record line.
type ParseFunc[V any] func(line []byte) (V, error)

// LazyStore maps every key of a file to its record. Construction reads only
// keys; Get parses a record on its first lookup and caches it. Keys are
// string-based so that concurrent first lookups are deduplicated on the key's
// own value.
type LazyStore[K ~string, V any] struct {
	path  string
	match MatchFunc[K]
	parse ParseFunc[V]

	mu    sync.RWMutex
	index map[K]*V // nil until materialized
	keys  []K

	group singleflight.Group
	scans atomic.Int64
}

// Open scans path once, recording the key of every line.
func Open[K ~string, V any](path string, key KeyFunc[K], match MatchFunc[K], parse ParseFunc[V]) (*LazyStore[K, V], error) {
	s := &LazyStore[K, V]{
		path:  path,
		match: match,
		parse: parse,
		index: make(map[K]*V),
	}

	lineNo := 0
	err := eachLine(path, func(line []byte) (bool, error) {
		lineNo++
		k, ok, err := key(line)
		if err != nil {
			return false, xerrors.Errorf("store: %s line %d: %w", path, lineNo, err)
		}
		if !ok {
			return true, nil
		}
		if _, dup := s.index[k]; dup {
			return false, xerrors.Errorf("store: %s line %d: duplicate key %v", path, lineNo, k)
		}
		s.index[k] = nil
		s.keys = append(s.keys, k)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("Indexed %d records in %s", len(s.keys), path)
	return s, nil
}

// Get returns the record for key, scanning the file for it on first access.
// Concurrent first lookups of the same key share a single scan.
func (s *LazyStore[K, V]) Get(key K) (V, error) {
	var zero V

	s.mu.RLock()
	cached, known := s.index[key]
	s.mu.RUnlock()
	if !known {
		return zero, xerrors.Errorf("%w: %v", ErrNotFound, key)
	}
	if cached != nil {
		return *cached, nil
	}

	v, err, _ := s.group.Do(string(key), func() (any, error) {
		s.mu.RLock()
		cached := s.index[key]
		s.mu.RUnlock()
		if cached != nil {
			return *cached, nil
		}

		v, err := s.materialize(key)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.index[key] = &v
		s.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(V), nil
}

// materialize performs the targeted scan. It holds no lock while reading.
func (s *LazyStore[K, V]) materialize(key K) (V, error) {
	var (
		result V
		found  bool
	)
	s.scans.Add(1)
	log.Trace("Scanning %s for %v", s.path, key)
	err := eachLine(s.path, func(line []byte) (bool, error) {
		if !s.match(line, key) {
			return true, nil
		}
		v, err := s.parse(line)
		if err != nil {
			return false, xerrors.Errorf("store: parsing record %v: %w", key, err)
		}
		result, found = v, true
		return false, nil
	})
	if err != nil {
		return result, err
	}
	if !found {
		return result, xerrors.Errorf("store: %v indexed but no longer present in %s", key, s.path)
	}
	return result, nil
}

// Contains reports whether key was indexed.
func (s *LazyStore[K, V]) Contains(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[key]
	return ok
}

// Keys returns the indexed keys in file order.
func (s *LazyStore[K, V]) Keys() []K {
	return append([]K(nil), s.keys...)
}

func (s *LazyStore[K, V]) Len() int {
	return len(s.keys)
}

// Materialized returns the number of cached records.
func (s *LazyStore[K, V]) Materialized() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.index {
		if v != nil {
			n++
		}
	}
	return n
}

// Scans returns how many targeted scans have been performed.
func (s *LazyStore[K, V]) Scans() int64 {
	return s.scans.Load()
}

// eachLine calls f for every non-empty line until f returns false or an error.
func eachLine(path string, f func(line []byte) (bool, error)) error {
	file, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("store: %w", err)
	}
	defer file.Close()

	r := bufio.NewReaderSize(file, 1<<16)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			more, ferr := f(bytes.TrimRight(line, "\r\n"))
			if ferr != nil {
				return ferr
			}
			if !more {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("store: reading %s: %w", path, err)
		}
	}
}
