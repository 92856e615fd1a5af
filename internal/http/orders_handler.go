package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
)

type Orders interface {
	CancelOrder(ctx context.Context, orderID int64, user *domain.User) error
	ReOrder(ctx context.Context, orderID int64, sessionID string, user *domain.User) (*domain.Cart, error)
	ListMyOrders(ctx context.Context, user *domain.User) ([]*domain.Order, error)
	GetMyOrder(ctx context.Context, orderID int64, user *domain.User) (*domain.Order, error)
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
}

type OrdersHandler struct {
	orders  Orders
	timeout time.Duration
}

func NewOrdersHandler(orders Orders, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

type OrdersResponse struct {
	Orders []*domain.Order `json:"orders"`
}

func ordersResponse(orders []*domain.Order) OrdersResponse {
	if orders == nil {
		orders = []*domain.Order{}
	}
	return OrdersResponse{Orders: orders}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListMyOrders(ctx, identity.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ordersResponse(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := idParam(w, r, "order_id")
	if !ok {
		return
	}

	order, err := h.orders.GetMyOrder(ctx, orderID, identity.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := idParam(w, r, "order_id")
	if !ok {
		return
	}

	if err := h.orders.CancelOrder(ctx, orderID, identity.UserFromContext(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"status":   domain.OrderStatusCancelled.String(),
	})
}

// POST /api/v1/orders/{order_id}/reorder
func (h *OrdersHandler) ReOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := idParam(w, r, "order_id")
	if !ok {
		return
	}

	cart, err := h.orders.ReOrder(ctx, orderID, sessionFromContext(r.Context()), identity.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// GET /api/v1/admin/orders?status=
func (h *OrdersHandler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := domain.OrderStatus(strings.ToUpper(r.URL.Query().Get("status")))
	orders, err := h.orders.ListOrders(ctx, status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ordersResponse(orders))
}

// GET /api/v1/admin/orders/{order_id}
func (h *OrdersHandler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := idParam(w, r, "order_id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// PUT /api/v1/admin/orders/{order_id}/status
func (h *OrdersHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := idParam(w, r, "order_id")
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := h.orders.UpdateStatus(ctx, orderID, status); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"status":   status.String(),
	})
}
