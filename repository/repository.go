// Package repository defines the persistence ports used by the services and
// their MySQL and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"order-fulfillment/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps Page*Size inside a 32-bit OFFSET.
	MaxPage = math.MaxInt32 / MaxPageSize
)

type PageRequest struct {
	Page   int
	Size   int
	SortBy string
	Desc   bool
}

// Normalize clamps page and size to their allowed range.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() int { return p.Page * p.Size }

type Page[T any] struct {
	Content       []T
	TotalElements int64
	Page          int
	Size          int
}

func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

type ProductFilter struct {
	Name       string
	Category   string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	ActiveOnly bool
}

func (f ProductFilter) Matches(p *models.Product) bool {
	if f.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Name)) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.ActiveOnly && !p.Active {
		return false
	}
	return true
}

type OrderFilter struct {
	UserID    int64
	UserEmail string
	Status    models.OrderStatus
}

// Sort keys accepted by the list operations.
var (
	ProductSortKeys = []string{"id", "name", "price", "category", "stock_quantity", "created_at"}
	OrderSortKeys   = []string{"id", "created_at", "updated_at", "total_amount", "status"}
	UserSortKeys    = []string{"id", "name", "email", "created_at"}
)

type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	// FindByIDForUpdate locks the product row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Product, error)
	Save(ctx context.Context, p *models.Product) error
	Search(ctx context.Context, f ProductFilter, page PageRequest) (Page[models.Product], error)
	FindLowStock(ctx context.Context, threshold int) ([]models.Product, error)
	AppendStockMovement(ctx context.Context, m *models.StockMovement) error
	ListStockMovements(ctx context.Context, productID int64) ([]models.StockMovement, error)
	AppendPriceHistory(ctx context.Context, h *models.PriceHistory) error
	ListPriceHistory(ctx context.Context, productID int64) ([]models.PriceHistory, error)
}

type OrderRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Order, error)
	// Save inserts the order when its ID is zero and updates it otherwise. Items
	// are synchronised with o.Items and receive ids on insert.
	Save(ctx context.Context, o *models.Order) error
	List(ctx context.Context, f OrderFilter, page PageRequest) (Page[models.Order], error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, u *models.User) error
	// List pages through all users, ordered by name unless SortBy says otherwise.
	List(ctx context.Context, page PageRequest) (Page[models.User], error)
	FindByRole(ctx context.Context, role models.Role) ([]models.User, error)
	// Delete fails with ErrReferenced while orders still point at the user.
	Delete(ctx context.Context, id int64) error
}

type Repositories struct {
	Products ProductRepository
	Orders   OrderRepository
	Users    UserRepository
}

// Store gives access to repositories either directly or inside a transaction.
type Store interface {
	Repositories() Repositories
	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	Close() error
}

var (
	// ErrInvalidSort is returned when a page request names an unknown sort key.
	ErrInvalidSort = errors.New("invalid sort key")
	// ErrPageOutOfRange is returned for page numbers above MaxPage.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrReferenced is returned when a row cannot be deleted because other
	// rows depend on it.
	ErrReferenced = errors.New("record is still referenced")
)

// validate checks the sort key against keys and the page bound, then
// normalizes the request.
func (p PageRequest) validate(keys []string) (PageRequest, error) {
	if p.SortBy != "" && !slices.Contains(keys, p.SortBy) {
		return p, fmt.Errorf("%w: %s", ErrInvalidSort, p.SortBy)
	}
	if p.Page > MaxPage {
		return p, fmt.Errorf("%w: %d > %d", ErrPageOutOfRange, p.Page, MaxPage)
	}
	return p.Normalize(), nil
}
