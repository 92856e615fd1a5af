package domain

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

const MaxLineQuantity = 99

var ErrInvalidQuantity = errors.New("quantity must be positive")

// CartLine holds the product data captured when the item was added.
type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineFromProduct snapshots the current catalog state of p.
func LineFromProduct(p *Product, quantity int) CartLine {
	return CartLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		UnitPrice:   p.Price,
		Quantity:    quantity,
		ImageURL:    p.ImageURL,
	}
}

// Cart is owned by a single session. Lines are unique by product id.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) Line(productID int64) (CartLine, bool) {
	if i := c.index(productID); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

// Add inserts the line or, when the product is already present, adds to its quantity.
// An existing line keeps its original snapshot.
func (c *Cart) Add(line CartLine) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if i := c.index(line.ProductID); i >= 0 {
		c.Lines[i].Quantity += line.Quantity
		return nil
	}
	c.Lines = append(c.Lines, line)
	return nil
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
// Returns false when the product is not in the cart.
func (c *Cart) UpdateQuantity(productID int64, quantity int) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return true
	}
	c.Lines[i].Quantity = quantity
	return true
}

func (c *Cart) Remove(productID int64) bool {
	return c.UpdateQuantity(productID, 0)
}

func (c *Cart) Clear() {
	c.Lines = nil
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) ItemCount() int {
	n := 0
	if c == nil {
		return n
	}
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// SortedLines returns a copy of the lines ordered by product id.
func (c *Cart) SortedLines() []CartLine {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (c *Cart) index(productID int64) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
