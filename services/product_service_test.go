package services

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/models"
	"order-fulfillment/repository"
)

func newProductFixture(t *testing.T) (*ProductService, *repository.MemoryStore, *cache.Memory, models.Principal, models.Principal) {
	t.Helper()
	store := repository.NewMemoryStore()
	products := cache.NewMemory()
	svc := NewProductService(store, products, 10, zap.NewNop())
	svc.now = clock
	operator := seedUser(t, store, "ops@example.com", models.RoleOperator)
	client := seedUser(t, store, "client@example.com", models.RoleClient)
	return svc, store, products, operator, client
}

func ptr[T any](v T) *T { return &v }

func TestProductCreateValidation(t *testing.T) {
	svc, _, _, operator, client := newProductFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    CreateProductInput
		field string
	}{
		{"missing name", CreateProductInput{Price: decimal.NewFromInt(1), Category: "c"}, "name"},
		{"long name", CreateProductInput{Name: strings.Repeat("n", 256), Price: decimal.NewFromInt(1), Category: "c"}, "name"},
		{"zero price", CreateProductInput{Name: "n", Price: decimal.Zero, Category: "c"}, "price"},
		{"price too high", CreateProductInput{Name: "n", Price: decimal.RequireFromString("1000000"), Category: "c"}, "price"},
		{"missing category", CreateProductInput{Name: "n", Price: decimal.NewFromInt(1)}, "category"},
		{"long description", CreateProductInput{Name: "n", Price: decimal.NewFromInt(1), Category: "c", Description: strings.Repeat("d", 1001)}, "description"},
		{"negative stock", CreateProductInput{Name: "n", Price: decimal.NewFromInt(1), Category: "c", StockQuantity: -1}, "stock_quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, operator, tt.in)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind)
			assert.Contains(t, appErr.Message, tt.field)
		})
	}

	_, err := svc.Create(ctx, client, CreateProductInput{Name: "n", Price: decimal.NewFromInt(1), Category: "c"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))
}

func TestProductUpdateRecordsPriceChange(t *testing.T) {
	svc, store, _, operator, _ := newProductFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, operator, CreateProductInput{
		Name: "Monitor", Price: decimal.RequireFromString("199.90"), Category: "Displays", StockQuantity: 3,
	})
	require.NoError(t, err)

	// same value with a different scale is not a change
	_, err = svc.Update(ctx, operator, created.ID, UpdateProductInput{Price: ptr(decimal.RequireFromString("199.9"))})
	require.NoError(t, err)
	history, err := svc.PriceHistory(ctx, operator, created.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	updated, err := svc.Update(ctx, operator, created.ID, UpdateProductInput{
		Price: ptr(decimal.RequireFromString("149.90")),
		Name:  ptr("Monitor 24"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Monitor 24", updated.Name)
	assert.Equal(t, "149.90", updated.Price.StringFixed(2))

	history, err = svc.PriceHistory(ctx, operator, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "199.90", history[0].OldPrice.StringFixed(2))
	assert.Equal(t, "149.90", history[0].NewPrice.StringFixed(2))
	assert.Equal(t, "ops@example.com", history[0].ChangedBy)

	stored, err := store.Repositories().Products.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.StockQuantity)
}

func TestProductUpdateUnknown(t *testing.T) {
	svc, _, _, operator, _ := newProductFixture(t)
	_, err := svc.Update(context.Background(), operator, 77, UpdateProductInput{Name: ptr("x")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestProductCacheInvalidatedOnWrite(t *testing.T) {
	svc, store, products, operator, _ := newProductFixture(t)
	ctx := context.Background()
	id := seedProduct(t, store, "Lamp", "30.00", 8)

	first, err := svc.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", first.Name)
	assert.Equal(t, 1, products.Len())

	_, err = svc.Update(ctx, operator, id, UpdateProductInput{Name: ptr("Desk Lamp")})
	require.NoError(t, err)
	assert.Zero(t, products.Len())

	again, err := svc.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", again.Name)
}

func TestProductSoftDeleteAndListings(t *testing.T) {
	svc, store, _, operator, _ := newProductFixture(t)
	ctx := context.Background()
	keep := seedProduct(t, store, "Chair", "80.00", 20)
	gone := seedProduct(t, store, "Stool", "40.00", 2)

	require.NoError(t, svc.Delete(ctx, operator, gone))

	p, err := svc.FindByID(ctx, gone)
	require.NoError(t, err)
	assert.False(t, p.Active)

	active, err := svc.ListActive(ctx, repository.PageRequest{})
	require.NoError(t, err)
	require.Len(t, active.Content, 1)
	assert.Equal(t, keep, active.Content[0].ID)

	found, err := svc.Search(ctx, repository.ProductFilter{Name: "st"}, repository.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, found.Content)

	byCategory, err := svc.ListByCategory(ctx, "general", repository.PageRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, byCategory.TotalElements)

	low, err := svc.LowStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, low)
}

func TestProductSearchRejectsInvertedRange(t *testing.T) {
	svc, _, _, _, _ := newProductFixture(t)
	_, err := svc.Search(context.Background(), repository.ProductFilter{
		MinPrice: ptr(decimal.NewFromInt(10)),
		MaxPrice: ptr(decimal.NewFromInt(5)),
	}, repository.PageRequest{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestProductLowStock(t *testing.T) {
	svc, store, _, _, _ := newProductFixture(t)
	ctx := context.Background()
	seedProduct(t, store, "Plenty", "1.00", 10)
	short := seedProduct(t, store, "Short", "1.00", 9)

	low, err := svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, short, low[0].ID)
}

func TestProductHistoryRequiresElevatedRole(t *testing.T) {
	svc, store, _, operator, client := newProductFixture(t)
	ctx := context.Background()
	id := seedProduct(t, store, "Fan", "15.00", 4)

	_, err := svc.Movements(ctx, client, id)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAccessDenied))

	_, err = svc.Movements(ctx, operator, 999)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	ms, err := svc.Movements(ctx, operator, id)
	require.NoError(t, err)
	assert.Empty(t, ms)
}
