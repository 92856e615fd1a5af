package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is a frozen copy of a cart line. Price never follows the catalog.
type OrderLine struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID             int64           `json:"id"`
	UserID         *int64          `json:"user_id,omitempty"`
	CustomerName   string          `json:"customer_name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email"`
	OrderDate      time.Time       `json:"order_date"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey string          `json:"-"`
	Lines          []OrderLine     `json:"lines,omitempty"`
}

// OwnedBy reports whether the order was placed by the given user. Guest orders are owned by nobody.
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID != nil && *o.UserID == userID
}

// NewPendingOrder builds an order from the cart snapshot. The total is taken from the cart,
// not from live product prices.
func NewPendingOrder(cart *Cart, info ShippingInfo, user *User, now time.Time) *Order {
	order := &Order{
		CustomerName: info.CustomerName,
		Address:      info.Address,
		Phone:        info.Phone,
		Email:        info.Email,
		OrderDate:    now.UTC(),
		TotalAmount:  cart.Total(),
		Status:       OrderStatusPending,
	}
	if user != nil {
		id := user.ID
		order.UserID = &id
	}
	return order
}
