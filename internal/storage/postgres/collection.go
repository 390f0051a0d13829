package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/collection"
)

const (
	listCollectionsSQL = `SELECT id, name, created_at, updated_at FROM collections ORDER BY name, id`

	createCollectionSQL = `INSERT INTO collections (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`

	renameCollectionSQL = `UPDATE collections SET name = $2, updated_at = $3 WHERE id = $1
		RETURNING id, name, created_at, updated_at`

	deleteCollectionSQL = `DELETE FROM collections WHERE id = $1`
)

var _ collection.Repository = (*CollectionStore)(nil)

// CollectionStore implements collection.Repository.
type CollectionStore struct {
	q Querier
}

// NewCollectionStore returns a CollectionStore that runs on q.
func NewCollectionStore(q Querier) *CollectionStore {
	return &CollectionStore{q: q}
}

// List returns collections ordered by name.
func (s *CollectionStore) List(ctx context.Context) ([]collection.Collection, error) {
	rows, err := s.q.Query(ctx, listCollectionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[collection.Collection])
}

// Create inserts c.
func (s *CollectionStore) Create(ctx context.Context, c *collection.Collection) error {
	if _, err := s.q.Exec(ctx, createCollectionSQL, c.ID, c.Name, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("creating collection %q: %w", c.ID, err)
	}
	return nil
}

// Rename sets a new name on an existing collection.
func (s *CollectionStore) Rename(ctx context.Context, id, name string, at time.Time) (*collection.Collection, error) {
	rows, err := s.q.Query(ctx, renameCollectionSQL, id, name, at)
	if err != nil {
		return nil, fmt.Errorf("renaming collection %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[collection.Collection])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("collection", id)
		}
		return nil, fmt.Errorf("renaming collection %q: %w", id, err)
	}
	return &c, nil
}

// Delete removes a collection. Products in it keep existing without one.
func (s *CollectionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, deleteCollectionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting collection %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("collection", id)
	}
	return nil
}
