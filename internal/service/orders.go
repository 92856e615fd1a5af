package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/session"
	"go.opentelemetry.io/otel/attribute"
)

// OrderService handles everything that happens to an order after checkout.
type OrderService struct {
	store   Store
	carts   session.Store
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOrderService(store Store, carts session.Store, cfg Config, log *slog.Logger, m *metrics.Metrics) *OrderService {
	return &OrderService{
		store:   store,
		carts:   carts,
		cfg:     cfg.withDefaults(),
		log:     log.With("component", "orders"),
		metrics: m,
		now:     time.Now,
	}
}

// CancelOrder lets the owner cancel a Pending order. The status change and the restock of
// every line commit in one transaction.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, user *domain.User) (err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder")
	span.SetAttributes(attribute.Int64("order.id", orderID))
	defer func() {
		endSpan(span, err)
		if s.metrics != nil {
			s.metrics.Cancellations.WithLabelValues(outcome(err)).Inc()
		}
	}()

	order, err := s.ownedOrder(ctx, orderID, user)
	if err != nil {
		return err
	}
	if !order.Status.IsCancellable() {
		return newError(ErrInvalidStateTransition, nil)
	}

	return s.cancel(ctx, order)
}

func (s *OrderService) cancel(ctx context.Context, order *domain.Order) error {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var skipped []int64
	err := s.store.InTx(txCtx, func(tx repository.TxStore) error {
		skipped = skipped[:0]

		ok, err := tx.TransitionOrderStatus(txCtx, order.ID, order.Status, domain.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			// someone else moved the order since it was read
			return newError(ErrInvalidStateTransition, nil)
		}

		lines, err := tx.OrderLines(txCtx, order.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			restocked, err := tx.IncrementStock(txCtx, l.ProductID, l.Quantity)
			if err != nil {
				return err
			}
			if !restocked {
				skipped = append(skipped, l.ProductID)
			}
		}

		order.Status = domain.OrderStatusCancelled
		return writeOrderEvent(txCtx, tx, repository.EventOrderCancelled, order, lines, s.now())
	})
	if err != nil {
		return s.fail(ctx, "cancel", asError(err))
	}

	if len(skipped) > 0 {
		s.log.InfoContext(ctx, "restock skipped for deleted products", "order_id", order.ID, "product_ids", skipped)
	}
	s.log.InfoContext(ctx, "order cancelled", "order_id", order.ID)
	return nil
}

// ReOrder copies the lines of a past order into the session cart at today's catalog price.
// Products that were deleted or are out of stock are skipped. Neither the order nor stock
// is modified.
func (s *OrderService) ReOrder(ctx context.Context, orderID int64, sessionID string, user *domain.User) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ReOrder")
	span.SetAttributes(attribute.Int64("order.id", orderID))
	defer func() { endSpan(span, err) }()

	order, err := s.ownedOrder(ctx, orderID, user)
	if err != nil {
		return nil, err
	}

	cart, err = s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, s.fail(ctx, "reorder", newError(ErrTransientStoreFailure, fmt.Errorf("read session cart: %w", err)))
	}

	added := 0
	for _, l := range order.Lines {
		p, err := s.store.FindProductByID(ctx, l.ProductID)
		if errors.Is(err, repository.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, s.fail(ctx, "reorder", asError(err))
		}
		if !p.InStock() {
			continue
		}
		if err := cart.Add(domain.LineFromProduct(p, l.Quantity)); err != nil {
			continue
		}
		added++
	}

	if added > 0 {
		if err := s.carts.Set(ctx, sessionID, cart); err != nil {
			return nil, s.fail(ctx, "reorder", newError(ErrTransientStoreFailure, fmt.Errorf("write session cart: %w", err)))
		}
	}

	s.log.InfoContext(ctx, "order re-added to cart",
		"order_id", orderID,
		"added", added,
		"skipped", len(order.Lines)-added)
	return cart, nil
}

// ListMyOrders returns the user's orders, newest first.
func (s *OrderService) ListMyOrders(ctx context.Context, user *domain.User) ([]*domain.Order, error) {
	if user == nil {
		return nil, newError(ErrOwnershipViolation, nil)
	}
	orders, err := s.store.ListOrdersByUser(ctx, user.ID)
	if err != nil {
		return nil, s.fail(ctx, "list orders", asError(err))
	}
	return orders, nil
}

func (s *OrderService) GetMyOrder(ctx context.Context, orderID int64, user *domain.User) (*domain.Order, error) {
	return s.ownedOrder(ctx, orderID, user)
}

// ListOrders is the back-office listing; an empty status lists everything.
func (s *OrderService) ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if status != "" && !status.IsValid() {
		return nil, validationError(map[string]string{"status": "unknown status"})
	}
	orders, err := s.store.ListOrders(ctx, status)
	if err != nil {
		return nil, s.fail(ctx, "list orders", asError(err))
	}
	return orders, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.store.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, s.fail(ctx, "get order", asError(err))
	}
	return order, nil
}

// UpdateStatus is the back-office status change. Moving an order to Cancelled restocks it
// the same way CancelOrder does.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (err error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateStatus")
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", status.String()))
	defer func() { endSpan(span, err) }()

	if !status.IsValid() {
		return validationError(map[string]string{"status": "unknown status"})
	}

	order, err := s.store.FindOrderByID(ctx, orderID)
	if err != nil {
		return s.fail(ctx, "update status", asError(err))
	}
	if !domain.CanTransitionTo(order.Status, status) {
		return newError(ErrInvalidStateTransition, nil)
	}

	if status == domain.OrderStatusCancelled {
		return s.cancel(ctx, order)
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	err = s.store.InTx(txCtx, func(tx repository.TxStore) error {
		ok, err := tx.TransitionOrderStatus(txCtx, order.ID, order.Status, status)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrInvalidStateTransition, nil)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, "update status", asError(err))
	}

	s.log.InfoContext(ctx, "order status updated", "order_id", order.ID, "from", order.Status.String(), "to", status.String())
	return nil
}

// ownedOrder loads the order and checks that user placed it.
func (s *OrderService) ownedOrder(ctx context.Context, orderID int64, user *domain.User) (*domain.Order, error) {
	order, err := s.store.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, s.fail(ctx, "load order", asError(err))
	}
	if user == nil || !order.OwnedBy(user.ID) {
		var userID int64
		if user != nil {
			userID = user.ID
		}
		s.log.WarnContext(ctx, "order ownership violation", "order_id", orderID, "user_id", userID)
		return nil, newError(ErrOwnershipViolation, nil)
	}
	return order, nil
}

func (s *OrderService) fail(ctx context.Context, op string, e *Error) *Error {
	if e.Kind == ErrTransientStoreFailure || e.Kind == ErrConcurrencyConflict {
		s.log.ErrorContext(ctx, op+" failed", "kind", e.Kind.Error(), "error", e.Cause())
	}
	return e
}
