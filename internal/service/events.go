package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/shopspring/decimal"
)

type orderEvent struct {
	OrderID     int64              `json:"order_id"`
	UserID      *int64             `json:"user_id,omitempty"`
	Status      domain.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Lines       []domain.OrderLine `json:"lines,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func writeOrderEvent(ctx context.Context, tx repository.TxStore, eventType string, order *domain.Order, lines []domain.OrderLine, at time.Time) error {
	payload, err := json.Marshal(orderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Lines:       lines,
		OccurredAt:  at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return tx.InsertOutboxEvent(ctx, &repository.OutboxEvent{
		AggregateId: strconv.FormatInt(order.ID, 10),
		EventType:   eventType,
		Payload:     payload,
	})
}
