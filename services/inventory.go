package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/models"
	"order-fulfillment/observability"
	"order-fulfillment/repository"
)

// Inventory is the stock ledger. Every change to a product's stock goes
// through it and leaves exactly one StockMovement behind.
type Inventory struct {
	store    repository.Store
	products cache.Cache
	logger   *zap.Logger
	now      func() time.Time
}

func NewInventory(store repository.Store, products cache.Cache, logger *zap.Logger) *Inventory {
	return &Inventory{store: store, products: products, logger: logger, now: time.Now}
}

// ApplyMovement runs a single movement in its own transaction.
func (inv *Inventory) ApplyMovement(ctx context.Context, p models.Principal, productID int64,
	kind models.MovementType, quantity int, reason string) (product *models.Product, err error) {
	ctx, span := observability.StartSpan(ctx, "Inventory.ApplyMovement", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.String("movement.type", string(kind)),
		attribute.Int("movement.quantity", quantity),
	))
	defer func() { observability.EndSpan(span, err) }()

	if err := requireElevated(p, "stock movements"); err != nil {
		return nil, err
	}

	err = inv.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		product, _, err = inv.Apply(ctx, repos, productID, kind, quantity, reason, p.Actor())
		return err
	})
	if err != nil {
		return nil, err
	}

	evict(ctx, inv.products, inv.logger, cache.IDKey(productID))
	inv.logger.Info("Stock movement applied",
		zap.Int64("product_id", productID),
		zap.String("type", string(kind)),
		zap.Int("quantity", quantity),
		zap.Int("new_stock", product.StockQuantity),
		zap.String("actor", p.Actor()),
	)
	return product, nil
}

// Apply runs a movement inside the caller's transaction. The product row is
// locked for the rest of that transaction.
func (inv *Inventory) Apply(ctx context.Context, repos repository.Repositories, productID int64,
	kind models.MovementType, quantity int, reason, actor string) (*models.Product, *models.StockMovement, error) {
	if err := validateMovement(kind, quantity); err != nil {
		return nil, nil, err
	}
	product, err := repos.Products.FindByIDForUpdate(ctx, productID)
	if err != nil {
		return nil, nil, lookupErr(err, "Product", productID)
	}
	m, err := inv.move(ctx, repos, product, kind, quantity, reason, actor)
	if err != nil {
		return nil, nil, err
	}
	return product, m, nil
}

func validateMovement(kind models.MovementType, quantity int) error {
	switch kind {
	case models.MovementInbound, models.MovementOutbound:
		if quantity <= 0 {
			return apperrors.InvalidQuantity("quantity must be greater than zero, got %d", quantity)
		}
	case models.MovementAbsoluteAdjustment:
		if quantity < 0 {
			return apperrors.InvalidQuantity("adjustment quantity cannot be negative, got %d", quantity)
		}
	default:
		return apperrors.Validation("unknown movement type: "+string(kind), "movement_type")
	}
	return nil
}

// move applies a movement to an already locked product and persists both the
// movement and the new stock level.
func (inv *Inventory) move(ctx context.Context, repos repository.Repositories, product *models.Product,
	kind models.MovementType, quantity int, reason, actor string) (*models.StockMovement, error) {
	if err := validateMovement(kind, quantity); err != nil {
		return nil, err
	}

	previous := product.StockQuantity
	var next int
	switch kind {
	case models.MovementInbound:
		next = previous + quantity
	case models.MovementOutbound:
		if previous < quantity {
			return nil, apperrors.InsufficientStock(product.Name, previous, quantity)
		}
		next = previous - quantity
	case models.MovementAbsoluteAdjustment:
		next = quantity
	}

	now := inv.now()
	m := &models.StockMovement{
		ProductID:     product.ID,
		Type:          kind,
		Quantity:      quantity,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        reason,
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	if err := repos.Products.AppendStockMovement(ctx, m); err != nil {
		return nil, err
	}

	product.StockQuantity = next
	product.UpdatedAt = now
	if err := repos.Products.Save(ctx, product); err != nil {
		return nil, err
	}
	return m, nil
}
