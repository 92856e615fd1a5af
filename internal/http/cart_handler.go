package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

type Carts interface {
	GetCart(ctx context.Context, sessionID string) (*domain.Cart, error)
	AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, sessionID string, productID int64, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, sessionID string, productID int64) (*domain.Cart, error)
	ClearCart(ctx context.Context, sessionID string) error
}

type CartHandler struct {
	carts   Carts
	timeout time.Duration
}

func NewCartHandler(carts Carts, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	Lines     []domain.CartLine `json:"lines"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
}

func toCartResponse(c *domain.Cart) CartResponseDTO {
	lines := c.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		Lines:     lines,
		Total:     c.Total(),
		ItemCount: c.ItemCount(),
	}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, sessionFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	cart, err := h.carts.AddItem(ctx, sessionFromContext(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(cart))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := idParam(w, r, "product_id")
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, sessionFromContext(r.Context()), productID, req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := idParam(w, r, "product_id")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(ctx, sessionFromContext(r.Context()), productID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.ClearCart(ctx, sessionFromContext(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(&domain.Cart{}))
}
