// Package collection manages the product collections used to group the catalog.
package collection

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// MaxNameLength bounds collection names.
const MaxNameLength = 120

// Collection groups products.
type Collection struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository defines collection persistence. Rename and Delete return an
// apperr not-found error when id does not exist.
type Repository interface {
	List(ctx context.Context) ([]Collection, error)
	Create(ctx context.Context, c *Collection) error
	Rename(ctx context.Context, id, name string, at time.Time) (*Collection, error)
	Delete(ctx context.Context, id string) error
}

// Service validates collection changes before persisting them.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a collection Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("collection name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Validation("collection name should be at most %d characters", MaxNameLength)
	}
	return name, nil
}

// List returns all collections.
func (s *Service) List(ctx context.Context) ([]Collection, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}
	return out, nil
}

// Create adds a collection.
func (s *Service) Create(ctx context.Context, name string) (*Collection, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &Collection{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create collection")
	}
	return c, nil
}

// Rename changes the name of an existing collection.
func (s *Service) Rename(ctx context.Context, id, name string) (*Collection, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Rename(ctx, id, name, s.now().UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "rename collection %s", id)
	}
	return c, nil
}

// Delete removes a collection.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete collection %s", id)
	}
	return nil
}
