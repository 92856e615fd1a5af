package service

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fjod/storefront/internal/service")

const (
	DefaultTxTimeout   = 5 * time.Second
	DefaultMaxAttempts = 3
)

// Store is the durable side of checkout: inventory plus the order ledger.
type Store interface {
	InTx(ctx context.Context, fn func(tx repository.TxStore) error) error
	FindProductByID(ctx context.Context, id int64) (*domain.Product, error)
	FindOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
}

type Config struct {
	// upper bound for one database transaction
	TxTimeout time.Duration
	// attempts for a transaction that hit a serialization failure or deadlock
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.TxTimeout <= 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
