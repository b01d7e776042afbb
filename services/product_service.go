package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/models"
	"order-fulfillment/observability"
	"order-fulfillment/repository"
)

const (
	maxNameLength        = 255
	maxCategoryLength    = 100
	maxDescriptionLength = 1000
)

var (
	minProductPrice = decimal.RequireFromString("0.01")
	maxProductPrice = decimal.RequireFromString("999999.99")
)

type CreateProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	Category      string
	StockQuantity int
}

// UpdateProductInput carries a partial update. Nil fields are left as they are.
type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	Active      *bool
}

type ProductService struct {
	store             repository.Store
	products          cache.Cache
	logger            *zap.Logger
	lowStockThreshold int
	now               func() time.Time
}

func NewProductService(store repository.Store, products cache.Cache, lowStockThreshold int, logger *zap.Logger) *ProductService {
	return &ProductService{
		store:             store,
		products:          products,
		logger:            logger,
		lowStockThreshold: lowStockThreshold,
		now:               time.Now,
	}
}

func checkName(v *apperrors.ValidationErrors, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		v.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		v.Add("name", "must be at most %d characters", maxNameLength)
	}
}

func checkCategory(v *apperrors.ValidationErrors, category string) {
	switch {
	case strings.TrimSpace(category) == "":
		v.Add("category", "is required")
	case utf8.RuneCountInString(category) > maxCategoryLength:
		v.Add("category", "must be at most %d characters", maxCategoryLength)
	}
}

func checkDescription(v *apperrors.ValidationErrors, description string) {
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		v.Add("description", "must be at most %d characters", maxDescriptionLength)
	}
}

func checkPrice(v *apperrors.ValidationErrors, price decimal.Decimal) {
	switch {
	case price.LessThan(minProductPrice):
		v.Add("price", "must be greater than zero")
	case price.GreaterThan(maxProductPrice):
		v.Add("price", "must not exceed %s", maxProductPrice.StringFixed(2))
	}
}

func (s *ProductService) Create(ctx context.Context, p models.Principal, in CreateProductInput) (product *models.Product, err error) {
	ctx, span := observability.StartSpan(ctx, "ProductService.Create")
	defer func() { observability.EndSpan(span, err) }()

	if err := requireElevated(p, "creating products"); err != nil {
		return nil, err
	}
	var v apperrors.ValidationErrors
	checkName(&v, in.Name)
	checkCategory(&v, in.Category)
	checkDescription(&v, in.Description)
	checkPrice(&v, in.Price)
	if in.StockQuantity < 0 {
		v.Add("stock_quantity", "cannot be negative")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	product = &models.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Price:         in.Price,
		Category:      strings.TrimSpace(in.Category),
		StockQuantity: in.StockQuantity,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Products.Save(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	evictAll(ctx, s.products, s.logger)
	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.String("actor", p.Actor()))
	return product, nil
}

// Update applies a partial update. A price change is recorded in the price
// history in the same transaction.
func (s *ProductService) Update(ctx context.Context, p models.Principal, id int64, in UpdateProductInput) (product *models.Product, err error) {
	ctx, span := observability.StartSpan(ctx, "ProductService.Update")
	defer func() { observability.EndSpan(span, err) }()

	if err := requireElevated(p, "updating products"); err != nil {
		return nil, err
	}
	var v apperrors.ValidationErrors
	if in.Name != nil {
		checkName(&v, *in.Name)
	}
	if in.Category != nil {
		checkCategory(&v, *in.Category)
	}
	if in.Description != nil {
		checkDescription(&v, *in.Description)
	}
	if in.Price != nil {
		checkPrice(&v, *in.Price)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Products.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Product", id)
		}
		now := s.now()

		if in.Price != nil {
			if _, err := RecordPriceChange(ctx, repos.Products, current, *in.Price, p.Actor(), now); err != nil {
				return err
			}
			current.Price = *in.Price
		}
		if in.Name != nil {
			current.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			current.Description = *in.Description
		}
		if in.Category != nil {
			current.Category = strings.TrimSpace(*in.Category)
		}
		if in.Active != nil {
			current.Active = *in.Active
		}
		current.UpdatedAt = now

		if err := repos.Products.Save(ctx, current); err != nil {
			return err
		}
		product = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	evict(ctx, s.products, s.logger, cache.IDKey(id))
	return product, nil
}

// Delete deactivates the product. Products are never removed because orders
// and movements keep referring to them.
func (s *ProductService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if err := requireElevated(p, "deleting products"); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		product, err := repos.Products.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Product", id)
		}
		product.Active = false
		product.UpdatedAt = s.now()
		return repos.Products.Save(ctx, product)
	})
	if err != nil {
		return err
	}

	evict(ctx, s.products, s.logger, cache.IDKey(id))
	s.logger.Info("Product deactivated", zap.Int64("product_id", id), zap.String("actor", p.Actor()))
	return nil
}

func (s *ProductService) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	var cached models.Product
	if recall(ctx, s.products, s.logger, cache.IDKey(id), &cached) {
		return &cached, nil
	}

	product, err := s.store.Repositories().Products.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "Product", id)
	}
	remember(ctx, s.products, s.logger, cache.IDKey(id), product)
	return product, nil
}

func (s *ProductService) ListActive(ctx context.Context, page repository.PageRequest) (repository.Page[models.Product], error) {
	result, err := s.store.Repositories().Products.Search(ctx, repository.ProductFilter{ActiveOnly: true}, page)
	return result, pageErr(err)
}

func (s *ProductService) ListByCategory(ctx context.Context, category string, page repository.PageRequest) (repository.Page[models.Product], error) {
	if strings.TrimSpace(category) == "" {
		return repository.Page[models.Product]{}, apperrors.Validation("category is required", "category")
	}
	result, err := s.store.Repositories().Products.Search(ctx, repository.ProductFilter{Category: strings.TrimSpace(category)}, page)
	return result, pageErr(err)
}

// Search always restricts results to active products.
func (s *ProductService) Search(ctx context.Context, f repository.ProductFilter, page repository.PageRequest) (repository.Page[models.Product], error) {
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return repository.Page[models.Product]{}, apperrors.Validation("min_price must not exceed max_price", "min_price", "max_price")
	}
	f.Name = strings.TrimSpace(f.Name)
	f.Category = strings.TrimSpace(f.Category)
	f.ActiveOnly = true
	result, err := s.store.Repositories().Products.Search(ctx, f, page)
	return result, pageErr(err)
}

// LowStock lists active products whose stock is below the configured threshold.
func (s *ProductService) LowStock(ctx context.Context) ([]models.Product, error) {
	return s.store.Repositories().Products.FindLowStock(ctx, s.lowStockThreshold)
}

func (s *ProductService) Movements(ctx context.Context, p models.Principal, id int64) ([]models.StockMovement, error) {
	if err := requireElevated(p, "viewing stock movements"); err != nil {
		return nil, err
	}
	repos := s.store.Repositories()
	if _, err := repos.Products.FindByID(ctx, id); err != nil {
		return nil, lookupErr(err, "Product", id)
	}
	return repos.Products.ListStockMovements(ctx, id)
}

func (s *ProductService) PriceHistory(ctx context.Context, p models.Principal, id int64) ([]models.PriceHistory, error) {
	if err := requireElevated(p, "viewing price history"); err != nil {
		return nil, err
	}
	repos := s.store.Repositories()
	if _, err := repos.Products.FindByID(ctx, id); err != nil {
		return nil, lookupErr(err, "Product", id)
	}
	return repos.Products.ListPriceHistory(ctx, id)
}
