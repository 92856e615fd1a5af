package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (p *Product) InStock() bool {
	return p.Stock > 0
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProductFilter narrows catalog listings. Zero values match everything.
type ProductFilter struct {
	Search     string
	CategoryID int64
}
