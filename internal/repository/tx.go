package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

type txStore struct {
	tx *sql.Tx
}

// InTx runs fn inside one database transaction. Any error returned by fn, or a failed commit,
// rolls back every write made through the TxStore.
func (r *Repository) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *txStore) CreateOrder(ctx context.Context, order *domain.Order) (int64, error) {
	query := `INSERT INTO orders (user_id, customer_name, address, phone, email, order_date, total_amount, status, idempotency_key, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`

	err := s.tx.QueryRowContext(ctx, query,
		nullableID(order.UserID),
		order.CustomerName,
		order.Address,
		order.Phone,
		order.Email,
		order.OrderDate,
		order.TotalAmount,
		order.Status,
		nullableKey(order.IdempotencyKey),
		order.OrderDate,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateOrder
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return order.ID, nil
}

func (s *txStore) AddOrderLine(ctx context.Context, line *domain.OrderLine) error {
	query := `INSERT INTO order_lines (order_id, product_id, product_name, quantity, price)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id`

	err := s.tx.QueryRowContext(ctx, query,
		line.OrderID,
		line.ProductID,
		line.ProductName,
		line.Quantity,
		line.Price,
	).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	return nil
}

func (s *txStore) OrderLines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	query := `SELECT id, order_id, product_id, product_name, quantity, price
	          FROM order_lines WHERE order_id = $1 ORDER BY product_id`

	rows, err := s.tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.Price); err != nil {
			return nil, fmt.Errorf("scan order line row: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

// DecrementStock takes qty units only if that many are available. It returns false,
// without touching the row, when the product is gone or short on stock.
func (s *txStore) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
		qty, productID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return affectedOne(res)
}

// IncrementStock returns false when the product no longer exists.
func (s *txStore) IncrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1 WHERE id = $2`,
		qty, productID)
	if err != nil {
		return false, fmt.Errorf("increment stock: %w", err)
	}
	return affectedOne(res)
}

// TransitionOrderStatus moves the order to `to` only while it is still in `from`.
func (s *txStore) TransitionOrderStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), orderID, from)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
