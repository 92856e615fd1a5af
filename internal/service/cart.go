package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/session"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

// CartService applies cart operations to the session store.
type CartService struct {
	products ProductReader
	carts    session.Store
	log      *slog.Logger
}

func NewCartService(products ProductReader, carts session.Store, log *slog.Logger) *CartService {
	return &CartService{
		products: products,
		carts:    carts,
		log:      log.With("component", "cart"),
	}
}

func (s *CartService) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, s.storeFailure(ctx, "read", err)
	}
	return cart, nil
}

// AddItem snapshots the product's current name, price and image into the cart. Adding a
// product that is already in the cart increases its quantity.
func (s *CartService) AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	p, err := s.products.GetProduct(ctx, productID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, newError(ErrNotFound, err)
	}
	if err != nil {
		return nil, s.storeFailure(ctx, "product lookup", err)
	}

	cart, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing, ok := cart.Line(productID); ok && existing.Quantity+quantity > domain.MaxLineQuantity {
		return nil, validationError(map[string]string{
			"quantity": fmt.Sprintf("quantity must not exceed %d", domain.MaxLineQuantity),
		})
	}
	if err := cart.Add(domain.LineFromProduct(p, quantity)); err != nil {
		return nil, validationError(map[string]string{"quantity": err.Error()})
	}

	return cart, s.save(ctx, sessionID, cart)
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error) {
	if quantity > domain.MaxLineQuantity {
		return nil, validationError(map[string]string{"quantity": fmt.Sprintf("quantity must not exceed %d", domain.MaxLineQuantity)})
	}

	cart, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cart.UpdateQuantity(productID, quantity) {
		return nil, newError(ErrNotFound, nil)
	}

	return cart, s.save(ctx, sessionID, cart)
}

func (s *CartService) RemoveItem(ctx context.Context, sessionID string, productID int64) (*domain.Cart, error) {
	cart, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cart.Remove(productID) {
		return nil, newError(ErrNotFound, nil)
	}

	return cart, s.save(ctx, sessionID, cart)
}

func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	if err := s.carts.Clear(ctx, sessionID); err != nil {
		return s.storeFailure(ctx, "clear", err)
	}
	return nil
}

func (s *CartService) save(ctx context.Context, sessionID string, cart *domain.Cart) error {
	if err := s.carts.Set(ctx, sessionID, cart); err != nil {
		return s.storeFailure(ctx, "write", err)
	}
	return nil
}

func (s *CartService) storeFailure(ctx context.Context, op string, err error) *Error {
	s.log.ErrorContext(ctx, "cart "+op+" failed", "error", err)
	return newError(ErrTransientStoreFailure, err)
}

func validateQuantity(quantity int) error {
	if quantity < 1 || quantity > domain.MaxLineQuantity {
		return validationError(map[string]string{
			"quantity": fmt.Sprintf("quantity must be between 1 and %d", domain.MaxLineQuantity),
		})
	}
	return nil
}
