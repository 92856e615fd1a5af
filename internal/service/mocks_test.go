package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MemoryCarts implements session.Store for testing. Reads hand out copies like a real store.
type MemoryCarts struct {
	mu     sync.Mutex
	carts  map[string][]domain.CartLine
	GetErr error
	SetErr error
}

func NewMemoryCarts() *MemoryCarts {
	return &MemoryCarts{carts: make(map[string][]domain.CartLine)}
}

func (m *MemoryCarts) Get(_ context.Context, sessionID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	lines := make([]domain.CartLine, len(m.carts[sessionID]))
	copy(lines, m.carts[sessionID])
	return &domain.Cart{Lines: lines}, nil
}

func (m *MemoryCarts) Set(_ context.Context, sessionID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	lines := make([]domain.CartLine, len(cart.Lines))
	copy(lines, cart.Lines)
	m.carts[sessionID] = lines
	return nil
}

func (m *MemoryCarts) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

func (m *MemoryCarts) Lines(sessionID string) []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[sessionID]
}

// FlakyStore wraps a real Store and fails the first Failures calls to InTx with Err.
type FlakyStore struct {
	Store
	Err      error
	Failures int32
	calls    atomic.Int32
}

func (f *FlakyStore) InTx(ctx context.Context, fn func(tx repository.TxStore) error) error {
	n := f.calls.Add(1)
	if f.Failures < 0 || n <= f.Failures {
		return f.Err
	}
	return f.Store.InTx(ctx, fn)
}

func (f *FlakyStore) Calls() int32 {
	return f.calls.Load()
}

type fixture struct {
	repo     *repository.Repository
	carts    *MemoryCarts
	metrics  *metrics.Metrics
	checkout *CheckoutService
	orders   *OrderService
	cart     *CartService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *fixture {
	t.Helper()

	creds := &repository.Credentials{
		Driver:            repository.DriverSQLite,
		SQLitePath:        filepath.Join(t.TempDir(), "storefront.db"),
		MigrationsDirPath: "../repository/migrations/sqlite",
	}
	repo, err := repository.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })

	log := discardLogger()
	carts := NewMemoryCarts()
	m := metrics.New(prometheus.NewRegistry())

	return &fixture{
		repo:     repo,
		carts:    carts,
		metrics:  m,
		checkout: NewCheckoutService(repo, carts, Config{}, log, m),
		orders:   NewOrderService(repo, carts, Config{}, log, m),
		cart:     NewCartService(catalog.NewService(repo, log), carts, log),
	}
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	_, err := f.repo.CreateProduct(context.Background(), p)
	require.NoError(t, err)
	return p
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.repo.FindProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) addToCart(t *testing.T, sessionID string, p *domain.Product, qty int) {
	t.Helper()
	_, err := f.cart.AddItem(context.Background(), sessionID, p.ID, qty)
	require.NoError(t, err)
}

func (f *fixture) placeOrder(t *testing.T, sessionID string, user *domain.User) int64 {
	t.Helper()
	id, err := f.checkout.PlaceOrder(context.Background(), PlaceOrderRequest{
		SessionID: sessionID,
		Shipping:  validShipping(),
		User:      user,
	})
	require.NoError(t, err)
	return id
}

func validShipping() domain.ShippingInfo {
	return domain.ShippingInfo{
		CustomerName: "Jane Roe",
		Address:      "1 Main St, Springfield",
		Phone:        "0912345678",
		Email:        "jane@example.com",
	}
}

func testUser(id int64) *domain.User {
	return &domain.User{ID: id, FullName: "Jane Roe", Email: "jane@example.com", Role: domain.RoleCustomer}
}
