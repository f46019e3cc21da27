package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product, color or size does not exist.
var ErrNotFound = errors.New("product not found")

// Key identifies a single stock-keeping size of a product variation.
type Key struct {
	ProductID string
	Color     string
	Size      string
}

// SizeFacts are the current catalog facts for one size of a product variation.
// Price is GST-inclusive. SalePrice, when positive and below Price, is the
// effective unit price and the difference is a per-line discount.
type SizeFacts struct {
	SKU       string
	Name      string
	Price     decimal.Decimal
	SalePrice decimal.Decimal
	Stock     int
}

// UnitPrice returns the effective unit price after any sale markdown.
func (f SizeFacts) UnitPrice() decimal.Decimal {
	if f.SalePrice.IsPositive() && f.SalePrice.LessThan(f.Price) {
		return f.SalePrice
	}
	return f.Price
}

// Sizes maps size label to its facts.
type Sizes map[string]SizeFacts

// Colors maps a variation color to its sizes.
type Colors map[string]Sizes

// Catalog is a snapshot of catalog facts keyed product ID → color → size.
type Catalog map[string]Colors

// Lookup returns the facts stored for key.
func (c Catalog) Lookup(k Key) (SizeFacts, bool) {
	colors, ok := c[k.ProductID]
	if !ok {
		return SizeFacts{}, false
	}
	sizes, ok := colors[k.Color]
	if !ok {
		return SizeFacts{}, false
	}
	f, ok := sizes[k.Size]
	return f, ok
}

// Put stores facts for key, creating intermediate levels as needed.
func (c Catalog) Put(k Key, f SizeFacts) {
	colors, ok := c[k.ProductID]
	if !ok {
		colors = make(Colors)
		c[k.ProductID] = colors
	}
	sizes, ok := colors[k.Color]
	if !ok {
		sizes = make(Sizes)
		colors[k.Color] = sizes
	}
	sizes[k.Size] = f
}

// Repository reads current catalog facts.
type Repository interface {
	// Facts returns the facts for the requested keys. Keys that do not exist
	// are simply absent from the result.
	Facts(ctx context.Context, keys []Key) (Catalog, error)
}
