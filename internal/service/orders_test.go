package service

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOrder_RestoresStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	a := f.product(t, "A", "10.00", 5)
	b := f.product(t, "B", "20.00", 5)
	f.addToCart(t, "sess", a, 2)
	f.addToCart(t, "sess", b, 3)
	orderID := f.placeOrder(t, "sess", user)
	require.Equal(t, 3, f.stock(t, a.ID))
	require.Equal(t, 2, f.stock(t, b.ID))

	require.NoError(t, f.orders.CancelOrder(ctx, orderID, user))

	order, err := f.repo.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, b.ID))

	events, err := f.repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, repository.EventOrderCancelled, events[1].EventType)

	// a second cancel must not restock twice
	err = f.orders.CancelOrder(ctx, orderID, user)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, 5, f.stock(t, a.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cancellations.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cancellations.WithLabelValues(metrics.OutcomeInvalidState)))
}

func TestCancelOrder_Ownership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "sess", p, 1)
	orderID := f.placeOrder(t, "sess", testUser(1))

	err := f.orders.CancelOrder(ctx, orderID, testUser(2))
	assert.ErrorIs(t, err, ErrOwnershipViolation)

	err = f.orders.CancelOrder(ctx, orderID, nil)
	assert.ErrorIs(t, err, ErrOwnershipViolation)

	order, err := f.repo.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestCancelOrder_GuestOrderHasNoOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "guest", p, 1)
	orderID, err := f.checkout.PlaceOrder(ctx, PlaceOrderRequest{SessionID: "guest", Shipping: validShipping()})
	require.NoError(t, err)

	err = f.orders.CancelOrder(ctx, orderID, testUser(1))
	assert.ErrorIs(t, err, ErrOwnershipViolation)
}

func TestCancelOrder_NotFound(t *testing.T) {
	f := setup(t)

	err := f.orders.CancelOrder(context.Background(), 4242, testUser(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOrder_OnlyPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "sess", p, 2)
	orderID := f.placeOrder(t, "sess", user)
	require.NoError(t, f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCompleted))

	err := f.orders.CancelOrder(ctx, orderID, user)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestCancelOrder_DeletedProductStillCancels(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	kept := f.product(t, "Kept", "1.00", 5)
	gone := f.product(t, "Gone", "1.00", 5)
	f.addToCart(t, "sess", kept, 1)
	f.addToCart(t, "sess", gone, 1)
	orderID := f.placeOrder(t, "sess", user)
	require.NoError(t, f.repo.DeleteProduct(ctx, gone.ID))

	require.NoError(t, f.orders.CancelOrder(ctx, orderID, user))

	order, err := f.repo.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Len(t, order.Lines, 2)
	assert.Equal(t, 5, f.stock(t, kept.ID))
}

func TestCancelOrder_TransientFailureLeavesOrderPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "sess", p, 1)
	orderID := f.placeOrder(t, "sess", user)

	flaky := &FlakyStore{Store: f.repo, Err: errors.New("connection reset"), Failures: -1}
	svc := NewOrderService(flaky, f.carts, Config{}, discardLogger(), nil)

	err := svc.CancelOrder(ctx, orderID, user)
	assert.ErrorIs(t, err, ErrTransientStoreFailure)

	order, err := f.repo.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestReOrder_SkipsUnavailableProducts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	avail := f.product(t, "Available", "5.00", 10)
	soldOut := f.product(t, "Sold Out", "5.00", 2)
	gone := f.product(t, "Gone", "5.00", 5)
	f.addToCart(t, "old", avail, 2)
	f.addToCart(t, "old", soldOut, 2)
	f.addToCart(t, "old", gone, 1)
	orderID := f.placeOrder(t, "old", user)

	require.Equal(t, 0, f.stock(t, soldOut.ID))
	require.NoError(t, f.repo.DeleteProduct(ctx, gone.ID))

	cart, err := f.orders.ReOrder(ctx, orderID, "new", user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, avail.ID, cart.Lines[0].ProductID)
	assert.Equal(t, 2, cart.Lines[0].Quantity)

	// stock and order untouched
	assert.Equal(t, 8, f.stock(t, avail.ID))
	order, err := f.repo.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestReOrder_MergesWithExistingCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	p := f.product(t, "Pen", "1.00", 20)
	other := f.product(t, "Paper", "3.00", 20)
	f.addToCart(t, "old", p, 3)
	orderID := f.placeOrder(t, "old", user)

	f.addToCart(t, "new", p, 1)
	f.addToCart(t, "new", other, 1)

	cart, err := f.orders.ReOrder(ctx, orderID, "new", user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)

	line, ok := cart.Line(p.ID)
	require.True(t, ok)
	assert.Equal(t, 4, line.Quantity)
	assert.Len(t, f.carts.Lines("new"), 2)
}

func TestReOrder_UsesCurrentPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := testUser(1)

	p := f.product(t, "Lamp", "30.00", 10)
	f.addToCart(t, "old", p, 1)
	orderID := f.placeOrder(t, "old", user)

	p.Price = decimal.RequireFromString("35.00")
	p.Stock = f.stock(t, p.ID)
	require.NoError(t, f.repo.UpdateProduct(ctx, p))

	cart, err := f.orders.ReOrder(ctx, orderID, "new", user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.True(t, decimal.RequireFromString("35.00").Equal(cart.Lines[0].UnitPrice))
}

func TestReOrder_Ownership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "Lamp", "30.00", 10)
	f.addToCart(t, "old", p, 1)
	orderID := f.placeOrder(t, "old", testUser(1))

	_, err := f.orders.ReOrder(ctx, orderID, "new", testUser(2))
	assert.ErrorIs(t, err, ErrOwnershipViolation)
	assert.Empty(t, f.carts.Lines("new"))
}

func TestUpdateStatus_Transitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "sess", p, 1)
	orderID := f.placeOrder(t, "sess", testUser(1))

	require.NoError(t, f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusProcessing))
	require.NoError(t, f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusShipped))

	err := f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusPending)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	err = f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	require.NoError(t, f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCompleted))

	order, err := f.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestUpdateStatus_AdminCancelRestocks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "A", "10.00", 5)
	f.addToCart(t, "sess", p, 4)
	orderID := f.placeOrder(t, "sess", testUser(1))
	require.Equal(t, 1, f.stock(t, p.ID))

	require.NoError(t, f.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled))
	assert.Equal(t, 5, f.stock(t, p.ID))
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	f := setup(t)

	err := f.orders.UpdateStatus(context.Background(), 1, domain.OrderStatus("LOST"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.orders.ListOrders(context.Background(), domain.OrderStatus("LOST"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListMyOrders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.product(t, "A", "1.00", 50)
	f.addToCart(t, "s1", p, 1)
	first := f.placeOrder(t, "s1", testUser(1))
	f.addToCart(t, "s2", p, 1)
	second := f.placeOrder(t, "s2", testUser(1))
	f.addToCart(t, "s3", p, 1)
	f.placeOrder(t, "s3", testUser(2))

	orders, err := f.orders.ListMyOrders(ctx, testUser(1))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	ids := []int64{orders[0].ID, orders[1].ID}
	assert.ElementsMatch(t, []int64{first, second}, ids)

	_, err = f.orders.GetMyOrder(ctx, first, testUser(2))
	assert.ErrorIs(t, err, ErrOwnershipViolation)

	order, err := f.orders.GetMyOrder(ctx, first, testUser(1))
	require.NoError(t, err)
	assert.Len(t, order.Lines, 1)

	all, err := f.orders.ListOrders(ctx, domain.OrderStatusPending)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
