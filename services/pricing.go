package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"order-fulfillment/models"
	"order-fulfillment/repository"
)

// RecordPriceChange appends a PriceHistory row when newPrice differs from the
// product's current price. Prices are compared as decimals, so 10.0 and 10.00
// are the same price. It returns nil when nothing changed and never modifies
// the product itself.
func RecordPriceChange(ctx context.Context, products repository.ProductRepository, product *models.Product,
	newPrice decimal.Decimal, actor string, now time.Time) (*models.PriceHistory, error) {
	if newPrice.Equal(product.Price) {
		return nil, nil
	}
	h := &models.PriceHistory{
		ProductID: product.ID,
		OldPrice:  product.Price,
		NewPrice:  newPrice,
		ChangedBy: actor,
		ChangedAt: now,
	}
	if err := products.AppendPriceHistory(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}
