package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/pkg/logger"
)

const idempotencyHeader = "Idempotency-Key"

type Checkout interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (int64, error)
}

type CheckoutHandler struct {
	checkout Checkout
	carts    Carts
	timeout  time.Duration
}

func NewCheckoutHandler(checkout Checkout, carts Carts, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		carts:    carts,
		timeout:  timeout,
	}
}

type CheckoutFormDTO struct {
	Cart     CartResponseDTO     `json:"cart"`
	Shipping domain.ShippingInfo `json:"shipping"`
}

type PlaceOrderResponseDTO struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// GET /api/v1/checkout
func (h *CheckoutHandler) Form(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, sessionFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	user := identity.UserFromContext(r.Context())
	respondJSON(w, http.StatusOK, CheckoutFormDTO{
		Cart:     toCartResponse(cart),
		Shipping: user.ShippingInfo(),
	})
}

// POST /api/v1/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var shipping domain.ShippingInfo
	if !decodeJSON(w, r, &shipping) {
		return
	}

	orderID, err := h.checkout.PlaceOrder(ctx, service.PlaceOrderRequest{
		SessionID:      sessionFromContext(r.Context()),
		Shipping:       shipping,
		User:           identity.UserFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		status, resp := errorResponse(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).ErrorContext(r.Context(), "checkout failed", "error", err)
		}
		resp.Shipping = &shipping
		respondJSON(w, status, resp)
		return
	}

	respondJSON(w, http.StatusCreated, PlaceOrderResponseDTO{
		OrderID: orderID,
		Status:  domain.OrderStatusPending.String(),
	})
}
