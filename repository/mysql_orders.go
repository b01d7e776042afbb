package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"order-fulfillment/models"
)

const orderColumns = `o.id, o.user_id, u.email, u.name, o.total_amount, o.status, o.payment_status,
	o.payment_method, o.payment_date, o.transaction_id, o.created_at, o.updated_at`

const orderFrom = " FROM orders o JOIN users u ON u.id = o.user_id"

var orderSortColumns = map[string]string{
	"id":           "o.id",
	"created_at":   "o.created_at",
	"updated_at":   "o.updated_at",
	"total_amount": "o.total_amount",
	"status":       "o.status",
}

type mysqlOrders struct{ q querier }

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                     models.Order
		status, paymentStatus string
		method, transactionID sql.NullString
		paymentDate           sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.UserEmail, &o.UserName, &o.TotalAmount, &status,
		&paymentStatus, &method, &paymentDate, &transactionID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.PaymentStatus = models.PaymentStatus(paymentStatus)
	o.PaymentMethod = models.PaymentMethod(method.String)
	o.TransactionID = transactionID.String
	if paymentDate.Valid {
		t := paymentDate.Time
		o.PaymentDate = &t
	}
	o.Items = []models.OrderItem{}
	return &o, nil
}

func (r *mysqlOrders) findOne(ctx context.Context, query string, id int64) (*models.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %d: %w", id, err)
	}
	items, err := r.loadItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	if its, ok := items[o.ID]; ok {
		o.Items = its
	}
	return o, nil
}

func (r *mysqlOrders) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+orderFrom+" WHERE o.id = ?", id)
}

func (r *mysqlOrders) FindByIDForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+orderFrom+" WHERE o.id = ? FOR UPDATE", id)
}

func (r *mysqlOrders) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	out := make(map[int64][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price FROM order_items WHERE order_id IN ("+
			placeholders(len(orderIDs))+") ORDER BY id ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (r *mysqlOrders) Save(ctx context.Context, o *models.Order) error {
	if o.ID == 0 {
		res, err := r.q.ExecContext(ctx,
			`INSERT INTO orders (user_id, total_amount, status, payment_status, payment_method, payment_date, transaction_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.UserID, o.TotalAmount, string(o.Status), string(o.PaymentStatus), nullString(string(o.PaymentMethod)),
			nullTime(o.PaymentDate), nullString(o.TransactionID), o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return r.syncItems(ctx, o, false)
	}

	_, err := r.q.ExecContext(ctx,
		`UPDATE orders SET total_amount = ?, status = ?, payment_status = ?, payment_method = ?, payment_date = ?,
		transaction_id = ?, updated_at = ? WHERE id = ?`,
		o.TotalAmount, string(o.Status), string(o.PaymentStatus), nullString(string(o.PaymentMethod)),
		nullTime(o.PaymentDate), nullString(o.TransactionID), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	return r.syncItems(ctx, o, true)
}

// syncItems makes the order_items rows match o.Items. New items get ids,
// existing ones are rewritten and rows no longer present are deleted.
func (r *mysqlOrders) syncItems(ctx context.Context, o *models.Order, existing bool) error {
	keep := make([]any, 0, len(o.Items))
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if it.ID == 0 {
			res, err := r.q.ExecContext(ctx,
				"INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, total_price) VALUES (?, ?, ?, ?, ?, ?)",
				o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.TotalPrice,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			if it.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		} else if _, err := r.q.ExecContext(ctx,
			"UPDATE order_items SET quantity = ?, unit_price = ?, total_price = ? WHERE id = ? AND order_id = ?",
			it.Quantity, it.UnitPrice, it.TotalPrice, it.ID, o.ID,
		); err != nil {
			return fmt.Errorf("update order item %d: %w", it.ID, err)
		}
		keep = append(keep, it.ID)
	}

	if !existing {
		return nil
	}
	query := "DELETE FROM order_items WHERE order_id = ?"
	if len(keep) > 0 {
		query += " AND id NOT IN (" + placeholders(len(keep)) + ")"
	}
	if _, err := r.q.ExecContext(ctx, query, append([]any{o.ID}, keep...)...); err != nil {
		return fmt.Errorf("prune order items: %w", err)
	}
	return nil
}

func orderWhere(f OrderFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != 0 {
		clauses = append(clauses, "o.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.UserEmail != "" {
		clauses = append(clauses, "LOWER(u.email) = ?")
		args = append(args, strings.ToLower(f.UserEmail))
	}
	if f.Status != "" {
		clauses = append(clauses, "o.status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *mysqlOrders) List(ctx context.Context, f OrderFilter, page PageRequest) (Page[models.Order], error) {
	page, err := page.validate(OrderSortKeys)
	if err != nil {
		return Page[models.Order]{}, err
	}
	where, args := orderWhere(f)

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*)"+orderFrom+where, args...).Scan(&total); err != nil {
		return Page[models.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	query := "SELECT " + orderColumns + orderFrom + where +
		orderBy(orderSortColumns, page, "o.id", "o.id") + " LIMIT ? OFFSET ?"
	rows, err := r.q.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return Page[models.Order]{}, fmt.Errorf("list orders: %w", err)
	}

	content := make([]models.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return Page[models.Order]{}, fmt.Errorf("scan order: %w", err)
		}
		content = append(content, *o)
		ids = append(ids, o.ID)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return Page[models.Order]{}, fmt.Errorf("list orders: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return Page[models.Order]{}, err
	}
	for i := range content {
		if its, ok := items[content[i].ID]; ok {
			content[i].Items = its
		}
	}
	return Page[models.Order]{Content: content, TotalElements: total, Page: page.Page, Size: page.Size}, nil
}
