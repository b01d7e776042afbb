package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Repositories() Repositories {
	return mysqlRepositories(s.db)
}

func mysqlRepositories(q querier) Repositories {
	return Repositories{
		Products: &mysqlProducts{q: q},
		Orders:   &mysqlOrders{q: q},
		Users:    &mysqlUsers{q: q},
	}
}

func (s *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, mysqlRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

const productColumns = "id, name, description, price, category, stock_quantity, active, created_at, updated_at"

var productSortColumns = map[string]string{
	"id":             "id",
	"name":           "name",
	"price":          "price",
	"category":       "category",
	"stock_quantity": "stock_quantity",
	"created_at":     "created_at",
}

type mysqlProducts struct{ q querier }

func scanProduct(row scanner) (*models.Product, error) {
	var (
		p           models.Product
		description sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &description, &p.Price, &p.Category,
		&p.StockQuantity, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	return &p, nil
}

func (r *mysqlProducts) findOne(ctx context.Context, query string, id int64) (*models.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product %d: %w", id, err)
	}
	return p, nil
}

func (r *mysqlProducts) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	return r.findOne(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
}

func (r *mysqlProducts) FindByIDForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	return r.findOne(ctx, "SELECT "+productColumns+" FROM products WHERE id = ? FOR UPDATE", id)
}

func (r *mysqlProducts) Save(ctx context.Context, p *models.Product) error {
	if p.ID == 0 {
		res, err := r.q.ExecContext(ctx,
			"INSERT INTO products (name, description, price, category, stock_quantity, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			p.Name, p.Description, p.Price, p.Category, p.StockQuantity, p.Active, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		p.ID = id
		return nil
	}

	_, err := r.q.ExecContext(ctx,
		"UPDATE products SET name = ?, description = ?, price = ?, category = ?, stock_quantity = ?, active = ?, updated_at = ? WHERE id = ?",
		p.Name, p.Description, p.Price, p.Category, p.StockQuantity, p.Active, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	return nil
}

func productWhere(f ProductFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Name != "" {
		clauses = append(clauses, "LOWER(name) LIKE ?")
		args = append(args, "%"+escapeLike(strings.ToLower(f.Name))+"%")
	}
	if f.Category != "" {
		clauses = append(clauses, "LOWER(category) = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if f.MinPrice != nil {
		clauses = append(clauses, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		clauses = append(clauses, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active = TRUE")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderBy(columns map[string]string, page PageRequest, fallback, tiebreak string) string {
	col, ok := columns[page.SortBy]
	if !ok {
		col = fallback
	}
	dir := "ASC"
	if page.Desc {
		dir = "DESC"
	}
	clause := " ORDER BY " + col + " " + dir
	if col != tiebreak {
		clause += ", " + tiebreak + " " + dir
	}
	return clause
}

func (r *mysqlProducts) Search(ctx context.Context, f ProductFilter, page PageRequest) (Page[models.Product], error) {
	page, err := page.validate(ProductSortKeys)
	if err != nil {
		return Page[models.Product]{}, err
	}
	where, args := productWhere(f)

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return Page[models.Product]{}, fmt.Errorf("count products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM products" + where +
		orderBy(productSortColumns, page, "id", "id") + " LIMIT ? OFFSET ?"
	rows, err := r.q.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return Page[models.Product]{}, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	content, err := collectProducts(rows)
	if err != nil {
		return Page[models.Product]{}, err
	}
	return Page[models.Product]{Content: content, TotalElements: total, Page: page.Page, Size: page.Size}, nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	out := make([]models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *mysqlProducts) FindLowStock(ctx context.Context, threshold int) ([]models.Product, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE active = TRUE AND stock_quantity < ? ORDER BY stock_quantity ASC, id ASC",
		threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("low stock products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (r *mysqlProducts) AppendStockMovement(ctx context.Context, m *models.StockMovement) error {
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO stock_movements (product_id, movement_type, quantity, previous_stock, new_stock, reason, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.ProductID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, m.Reason, m.CreatedBy, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func (r *mysqlProducts) ListStockMovements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, product_id, movement_type, quantity, previous_stock, new_stock, reason, created_by, created_at FROM stock_movements WHERE product_id = ? ORDER BY id ASC",
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	out := make([]models.StockMovement, 0)
	for rows.Next() {
		var (
			m                 models.StockMovement
			kind              string
			reason, createdBy sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Quantity, &m.PreviousStock,
			&m.NewStock, &reason, &createdBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Type = models.MovementType(kind)
		m.Reason = reason.String
		m.CreatedBy = createdBy.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *mysqlProducts) AppendPriceHistory(ctx context.Context, h *models.PriceHistory) error {
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO product_price_history (product_id, old_price, new_price, changed_by, changed_at) VALUES (?, ?, ?, ?, ?)",
		h.ProductID, h.OldPrice, h.NewPrice, h.ChangedBy, h.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	if h.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

func (r *mysqlProducts) ListPriceHistory(ctx context.Context, productID int64) ([]models.PriceHistory, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, product_id, old_price, new_price, changed_by, changed_at FROM product_price_history WHERE product_id = ? ORDER BY id ASC",
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceHistory, 0)
	for rows.Next() {
		var h models.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.OldPrice, &h.NewPrice, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
