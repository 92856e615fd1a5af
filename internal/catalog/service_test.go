package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	findCalls atomic.Int32
	release   chan struct{}
	products  map[int64]*domain.Product
	created   *domain.Product
}

var errNotFound = errors.New("product not found")

func (m *mockRepo) FindProductByID(_ context.Context, id int64) (*domain.Product, error) {
	m.findCalls.Add(1)
	if m.release != nil {
		<-m.release
	}
	p, ok := m.products[id]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

func (m *mockRepo) ListProducts(context.Context, domain.ProductFilter) ([]*domain.Product, error) {
	return nil, nil
}

func (m *mockRepo) ListCategories(context.Context) ([]*domain.Category, error) { return nil, nil }

func (m *mockRepo) CreateCategory(context.Context, string) (int64, error) { return 1, nil }

func (m *mockRepo) CreateProduct(_ context.Context, p *domain.Product) (int64, error) {
	m.created = p
	return 10, nil
}

func (m *mockRepo) UpdateProduct(context.Context, *domain.Product) error { return nil }

func (m *mockRepo) DeleteProduct(context.Context, int64) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetProduct_CoalescesConcurrentLookups(t *testing.T) {
	repo := &mockRepo{
		release:  make(chan struct{}),
		products: map[int64]*domain.Product{1: {ID: 1, Name: "Laptop"}},
	}
	svc := NewService(repo, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.GetProduct(context.Background(), 1)
			assert.NoError(t, err)
			assert.Equal(t, "Laptop", p.Name)
		}()
	}

	// let the goroutines pile up behind the first lookup
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	assert.Less(t, repo.findCalls.Load(), int32(10))
}

func TestGetProduct_NotFound(t *testing.T) {
	svc := NewService(&mockRepo{products: map[int64]*domain.Product{}}, discardLogger())

	p, err := svc.GetProduct(context.Background(), 5)
	assert.ErrorIs(t, err, errNotFound)
	assert.Nil(t, p)
}

func TestCreateProduct_Validation(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, discardLogger())
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, &domain.Product{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	_, err = svc.CreateProduct(ctx, &domain.Product{Name: "x", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	_, err = svc.CreateProduct(ctx, &domain.Product{Name: "x", Stock: -1})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	id, err := svc.CreateProduct(ctx, &domain.Product{Name: " Desk ", Price: decimal.NewFromInt(10), Stock: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
	assert.Equal(t, "Desk", repo.created.Name)

	_, err = svc.CreateCategory(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidProduct)
}
