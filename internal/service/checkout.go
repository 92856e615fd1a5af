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

type PlaceOrderRequest struct {
	SessionID string
	Shipping  domain.ShippingInfo
	// nil for a guest checkout
	User *domain.User
	// repeated keys from the same user return the order placed first
	IdempotencyKey string
}

type CheckoutService struct {
	store   Store
	carts   session.Store
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCheckoutService(store Store, carts session.Store, cfg Config, log *slog.Logger, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{
		store:   store,
		carts:   carts,
		cfg:     cfg.withDefaults(),
		log:     log.With("component", "checkout"),
		metrics: m,
		now:     time.Now,
	}
}

// PlaceOrder turns the session cart into a Pending order. Order row, order lines, stock
// decrements and the order.placed event commit together or not at all. On success the
// session cart is cleared; on failure it is left as it was.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (int64, error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.PlaceOrder")
	start := s.now()

	orderID, err := s.placeOrder(ctx, req)

	span.SetAttributes(attribute.Int64("order.id", orderID))
	endSpan(span, err)
	s.observe(start, err)
	return orderID, err
}

func (s *CheckoutService) placeOrder(ctx context.Context, req PlaceOrderRequest) (int64, error) {
	if req.IdempotencyKey != "" && req.User != nil {
		existing, err := s.store.FindOrderByIdempotencyKey(ctx, req.User.ID, req.IdempotencyKey)
		if err == nil {
			s.log.InfoContext(ctx, "checkout replayed", "order_id", existing.ID, "user_id", req.User.ID)
			return existing.ID, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return 0, s.fail(ctx, asError(err))
		}
	}

	cart, err := s.carts.Get(ctx, req.SessionID)
	if err != nil {
		return 0, s.fail(ctx, newError(ErrTransientStoreFailure, fmt.Errorf("read session cart: %w", err)))
	}

	info := req.Shipping.Normalize()
	if fields := validateCheckout(cart, info); fields != nil {
		return 0, validationError(fields)
	}

	order := domain.NewPendingOrder(cart, info, req.User, s.now())
	if req.User != nil {
		order.IdempotencyKey = req.IdempotencyKey
	}

	for attempt := 1; ; attempt++ {
		err = s.commitOrder(ctx, order, cart)
		if err == nil || !repository.IsConflict(err) || attempt >= s.cfg.MaxAttempts {
			break
		}
		s.log.WarnContext(ctx, "checkout conflict, retrying", "attempt", attempt, "error", err)
	}

	if errors.Is(err, repository.ErrDuplicateOrder) {
		// a concurrent request with the same key committed first
		existing, findErr := s.store.FindOrderByIdempotencyKey(ctx, req.User.ID, req.IdempotencyKey)
		if findErr != nil {
			return 0, s.fail(ctx, asError(findErr))
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, s.fail(ctx, asError(err))
	}

	if err := s.carts.Clear(ctx, req.SessionID); err != nil {
		// the order is already committed
		s.log.ErrorContext(ctx, "order placed but session cart not cleared", "order_id", order.ID, "error", err)
	}

	s.log.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"lines", len(order.Lines),
		"total", order.TotalAmount.String())
	return order.ID, nil
}

// commitOrder runs one transaction attempt. Lines are taken in product id order so that
// concurrent checkouts lock shared products in the same order.
func (s *CheckoutService) commitOrder(ctx context.Context, order *domain.Order, cart *domain.Cart) error {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	return s.store.InTx(txCtx, func(tx repository.TxStore) error {
		order.ID = 0
		order.Lines = nil

		orderID, err := tx.CreateOrder(txCtx, order)
		if err != nil {
			return err
		}

		for _, line := range cart.SortedLines() {
			ok, err := tx.DecrementStock(txCtx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return insufficientStock(line.ProductName)
			}

			ol := domain.OrderLine{
				OrderID:     orderID,
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Quantity:    line.Quantity,
				Price:       line.UnitPrice,
			}
			if err := tx.AddOrderLine(txCtx, &ol); err != nil {
				return err
			}
			order.Lines = append(order.Lines, ol)
		}

		return writeOrderEvent(txCtx, tx, repository.EventOrderPlaced, order, order.Lines, order.OrderDate)
	})
}

func validateCheckout(cart *domain.Cart, info domain.ShippingInfo) map[string]string {
	fields := info.Validate()
	if fields == nil {
		fields = make(map[string]string)
	}

	if cart.IsEmpty() {
		fields["cart"] = "cart is empty"
	} else {
		for _, l := range cart.Lines {
			if l.Quantity < 1 {
				fields["cart"] = fmt.Sprintf("invalid quantity for %q", l.ProductName)
				break
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (s *CheckoutService) fail(ctx context.Context, e *Error) *Error {
	switch e.Kind {
	case ErrTransientStoreFailure, ErrConcurrencyConflict:
		s.log.ErrorContext(ctx, "checkout failed", "kind", e.Kind.Error(), "error", e.Cause())
	case ErrInsufficientStock:
		s.log.InfoContext(ctx, "checkout rejected", "product", e.ProductName)
	}
	return e
}

func (s *CheckoutService) observe(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Checkouts.WithLabelValues(outcome(err)).Inc()
	s.metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	case errors.Is(err, ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrOwnershipViolation):
		return metrics.OutcomeForbidden
	case errors.Is(err, ErrInvalidStateTransition):
		return metrics.OutcomeInvalidState
	default:
		return metrics.OutcomeTransient
	}
}
