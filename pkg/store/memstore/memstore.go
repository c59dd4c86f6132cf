// Package memstore is an in-process [store.Store]. Recordings are lost when
// the process exits; it backs tests and the default development config.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/padelcore/padelcore/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps recordings in a map.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	recs   map[int64]store.Recording
}

// New returns an empty Store.
func New() *Store {
	return &Store{recs: make(map[int64]store.Recording)}
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, rec store.Recording) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.Media = slices.Clone(rec.Media)
	rec.Size = int64(len(rec.Media))
	s.recs[rec.ID] = rec
	return rec.ID, nil
}

// List implements [store.Store].
func (s *Store) List(_ context.Context) ([]store.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Recording, 0, len(s.recs))
	for _, r := range s.recs {
		r.Media = nil
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b store.Recording) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id int64) (store.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return store.Recording{}, store.ErrNotFound
	}
	r.Media = slices.Clone(r.Media)
	return r, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }
