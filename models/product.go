package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category"`
	StockQuantity int             `json:"stock_quantity"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p *Product) IsAvailable() bool {
	return p.Active && p.StockQuantity > 0
}

// StockMovement is an immutable record of one change to a product's stock.
type StockMovement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"movement_type"`
	Quantity      int          `json:"quantity"`
	PreviousStock int          `json:"previous_stock"`
	NewStock      int          `json:"new_stock"`
	Reason        string       `json:"reason"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (m StockMovement) Variation() int {
	return m.NewStock - m.PreviousStock
}

// PriceHistory is an immutable record of one price change.
type PriceHistory struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

func (h PriceHistory) Difference() decimal.Decimal {
	return h.NewPrice.Sub(h.OldPrice)
}

// PercentageChange is rounded to four places before scaling to percent.
func (h PriceHistory) PercentageChange() decimal.Decimal {
	if h.OldPrice.IsZero() {
		return decimal.Zero
	}
	return h.Difference().DivRound(h.OldPrice, 4).Mul(decimal.NewFromInt(100))
}
