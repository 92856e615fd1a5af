package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidProduct = errors.New("invalid product")

type Repository interface {
	FindProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	CreateProduct(ctx context.Context, p *domain.Product) (int64, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}

type Service struct {
	repo Repository
	log  *slog.Logger
	sfg  singleflight.Group // collapses concurrent lookups of the same product
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "catalog"),
	}
}

// GetProduct reads one product. Concurrent callers asking for the same id share a single
// query and the returned value; treat it as read-only.
func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		return s.repo.FindProductByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Product), nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: category name is required", ErrInvalidProduct)
	}
	return s.repo.CreateCategory(ctx, name)
}

func (s *Service) CreateProduct(ctx context.Context, p *domain.Product) (int64, error) {
	if err := validateProduct(p); err != nil {
		return 0, err
	}
	id, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "product created", "product_id", id, "stock", p.Stock)
	return id, nil
}

func (s *Service) UpdateProduct(ctx context.Context, p *domain.Product) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	return s.repo.UpdateProduct(ctx, p)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "product deleted", "product_id", id)
	return nil
}

func validateProduct(p *domain.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	return nil
}
