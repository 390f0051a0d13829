package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/collection"
)

var _ collection.Repository = (*CollectionStore)(nil)

// CollectionStore implements collection.Repository.
type CollectionStore struct {
	db *DB
}

// List returns collections ordered by name.
func (s *CollectionStore) List(_ context.Context) ([]collection.Collection, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]collection.Collection, 0, len(s.db.collections))
	for _, c := range s.db.collections {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b collection.Collection) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Create inserts c.
func (s *CollectionStore) Create(_ context.Context, c *collection.Collection) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.collections[c.ID] = *c
	return nil
}

// Rename sets a new name on an existing collection.
func (s *CollectionStore) Rename(_ context.Context, id, name string, at time.Time) (*collection.Collection, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.collections[id]
	if !ok {
		return nil, apperr.NotFound("collection", id)
	}
	c.Name = name
	c.UpdatedAt = at
	s.db.collections[id] = c
	return &c, nil
}

// Delete removes a collection.
func (s *CollectionStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.collections[id]; !ok {
		return apperr.NotFound("collection", id)
	}
	delete(s.db.collections, id)
	return nil
}
