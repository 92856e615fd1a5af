package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const orderSelect = `SELECT o.id, o.user_id, o.customer_name, o.address, o.phone, o.email, o.order_date,
	       o.total_amount, o.status, l.id, l.product_id, l.product_name, l.quantity, l.price
	FROM orders o
	LEFT JOIN order_lines l ON l.order_id = o.id`

func (r *Repository) FindOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := orderSelect + ` WHERE o.id = $1 ORDER BY l.id`

	orders, err := r.queryOrders(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *Repository) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	query := orderSelect + ` WHERE o.user_id = $1 AND o.idempotency_key = $2 ORDER BY l.id`

	orders, err := r.queryOrders(ctx, query, userID, key)
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	query := orderSelect + ` WHERE o.user_id = $1 ORDER BY o.order_date DESC, o.id DESC, l.id`

	orders, err := r.queryOrders(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	return orders, nil
}

// ListOrders returns every order, newest first. An empty status matches all statuses.
func (r *Repository) ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	var (
		query = orderSelect
		args  []any
	)
	if status != "" {
		query += ` WHERE o.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY o.order_date DESC, o.id DESC, l.id`

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return orders, nil
}

// queryOrders folds joined order/line rows back into orders, keeping row order.
func (r *Repository) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	byID := make(map[int64]*domain.Order)
	for rows.Next() {
		var (
			o           domain.Order
			userID      sql.NullInt64
			lineID      sql.NullInt64
			productID   sql.NullInt64
			productName sql.NullString
			quantity    sql.NullInt64
			price       decimal.NullDecimal
		)
		if err := rows.Scan(
			&o.ID,
			&userID,
			&o.CustomerName,
			&o.Address,
			&o.Phone,
			&o.Email,
			&o.OrderDate,
			&o.TotalAmount,
			&o.Status,
			&lineID,
			&productID,
			&productName,
			&quantity,
			&price,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		current, ok := byID[o.ID]
		if !ok {
			if userID.Valid {
				id := userID.Int64
				o.UserID = &id
			}
			current = &o
			byID[o.ID] = current
			orders = append(orders, current)
		}
		if lineID.Valid {
			current.Lines = append(current.Lines, domain.OrderLine{
				ID:          lineID.Int64,
				OrderID:     current.ID,
				ProductID:   productID.Int64,
				ProductName: productName.String,
				Quantity:    int(quantity.Int64),
				Price:       price.Decimal,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func nullableKey(key string) sql.NullString {
	if key == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: key, Valid: true}
}
