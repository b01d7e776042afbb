package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"order-fulfillment/models"
)

const userColumns = "id, name, email, password_hash, roles, created_at"

// errRowIsReferenced is MySQL's ER_ROW_IS_REFERENCED_2.
const errRowIsReferenced = 1451

var userSortColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"email":      "email",
	"created_at": "created_at",
}

type mysqlUsers struct{ q querier }

func scanUser(row scanner) (*models.User, error) {
	var (
		u     models.User
		roles string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &roles, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Roles = decodeRoles(roles)
	return &u, nil
}

// Roles are stored as a comma separated list.
func encodeRoles(roles []models.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func decodeRoles(raw string) []models.Role {
	roles := make([]models.Role, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			roles = append(roles, models.Role(part))
		}
	}
	return roles
}

func (r *mysqlUsers) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *mysqlUsers) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (r *mysqlUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE LOWER(email) = ?", strings.ToLower(email))
}

func (r *mysqlUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE LOWER(email) = ?",
		strings.ToLower(email)).Scan(&n); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return n > 0, nil
}

func (r *mysqlUsers) Save(ctx context.Context, u *models.User) error {
	if u.ID == 0 {
		res, err := r.q.ExecContext(ctx,
			"INSERT INTO users (name, email, password_hash, roles, created_at) VALUES (?, ?, ?, ?, ?)",
			u.Name, u.Email, u.PasswordHash, encodeRoles(u.Roles), u.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if u.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	}

	if _, err := r.q.ExecContext(ctx,
		"UPDATE users SET name = ?, email = ?, password_hash = ?, roles = ? WHERE id = ?",
		u.Name, u.Email, u.PasswordHash, encodeRoles(u.Roles), u.ID,
	); err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return nil
}

func (r *mysqlUsers) collect(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()
	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *mysqlUsers) List(ctx context.Context, page PageRequest) (Page[models.User], error) {
	page, err := page.validate(UserSortKeys)
	if err != nil {
		return Page[models.User]{}, err
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return Page[models.User]{}, fmt.Errorf("count users: %w", err)
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+orderBy(userSortColumns, page, "name", "id")+" LIMIT ? OFFSET ?",
		page.Size, page.Offset(),
	)
	if err != nil {
		return Page[models.User]{}, fmt.Errorf("list users: %w", err)
	}
	content, err := r.collect(rows)
	if err != nil {
		return Page[models.User]{}, err
	}
	return Page[models.User]{Content: content, TotalElements: total, Page: page.Page, Size: page.Size}, nil
}

func (r *mysqlUsers) FindByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE FIND_IN_SET(?, roles) > 0 ORDER BY id", string(role))
	if err != nil {
		return nil, fmt.Errorf("users by role %s: %w", role, err)
	}
	return r.collect(rows)
}

func (r *mysqlUsers) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errRowIsReferenced {
			return ErrReferenced
		}
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
