package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service implements catalog management on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a catalog Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns every product in the catalog.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return p, nil
}

// Create validates and persists a new product with its initial stock.
func (s *Service) Create(ctx context.Context, d Draft) (*Product, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &Product{
		ID:           uuid.NewString(),
		Name:         d.Name,
		Description:  d.Description,
		Brand:        d.Brand,
		CollectionID: d.CollectionID,
		Price:        d.Price,
		Stock:        d.Stock,
		Photos:       d.Photos,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// Update replaces the editable fields of an existing product. The stock
// value of the draft is ignored; stock only moves through the ledger.
func (s *Service) Update(ctx context.Context, id string, d Draft) (*Product, error) {
	d.Stock = 0
	if err := d.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	p.Name = d.Name
	p.Description = d.Description
	p.Brand = d.Brand
	p.CollectionID = d.CollectionID
	p.Price = d.Price
	p.Photos = d.Photos
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "update product %s", id)
	}
	return p, nil
}
