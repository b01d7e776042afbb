package repository

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"order-fulfillment/models"
)

type memoryData struct {
	products  map[int64]*models.Product
	movements []models.StockMovement
	prices    []models.PriceHistory
	orders    map[int64]*models.Order
	users     map[int64]*models.User

	productSeq, movementSeq, priceSeq, orderSeq, itemSeq, userSeq int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		users:    make(map[int64]*models.User),
	}
}

func (d *memoryData) clone() *memoryData {
	c := *d
	c.products = make(map[int64]*models.Product, len(d.products))
	for id, p := range d.products {
		cp := *p
		c.products[id] = &cp
	}
	c.orders = make(map[int64]*models.Order, len(d.orders))
	for id, o := range d.orders {
		c.orders[id] = o.Clone()
	}
	c.users = make(map[int64]*models.User, len(d.users))
	for id, u := range d.users {
		c.users[id] = cloneUser(u)
	}
	c.movements = slices.Clone(d.movements)
	c.prices = slices.Clone(d.prices)
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

// MemoryStore keeps everything in process. A transaction holds the store lock
// for its whole duration and restores a snapshot when it fails, which gives the
// same all-or-nothing behaviour as the MySQL store with row locks.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) Repositories() Repositories {
	return s.repositories(true)
}

func (s *MemoryStore) repositories(lock bool) Repositories {
	h := &memoryHandle{store: s, lock: lock}
	return Repositories{
		Products: &memoryProducts{h},
		Orders:   &memoryOrders{h},
		Users:    &memoryUsers{h},
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
	}()

	if err := fn(ctx, s.repositories(false)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryHandle struct {
	store *MemoryStore
	lock  bool
}

func (h *memoryHandle) acquire() (*memoryData, func()) {
	if h.lock {
		h.store.mu.Lock()
		return h.store.data, h.store.mu.Unlock
	}
	return h.store.data, func() {}
}

type memoryProducts struct{ h *memoryHandle }

func (r *memoryProducts) FindByID(_ context.Context, id int64) (*models.Product, error) {
	d, release := r.h.acquire()
	defer release()
	p, ok := d.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryProducts) FindByIDForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryProducts) Save(_ context.Context, p *models.Product) error {
	d, release := r.h.acquire()
	defer release()
	if p.ID == 0 {
		d.productSeq++
		p.ID = d.productSeq
	} else if _, ok := d.products[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	d.products[p.ID] = &cp
	return nil
}

func (r *memoryProducts) Search(_ context.Context, f ProductFilter, page PageRequest) (Page[models.Product], error) {
	page, err := page.validate(ProductSortKeys)
	if err != nil {
		return Page[models.Product]{}, err
	}

	d, release := r.h.acquire()
	matched := make([]models.Product, 0)
	for _, p := range d.products {
		if f.Matches(p) {
			matched = append(matched, *p)
		}
	}
	release()

	slices.SortStableFunc(matched, func(a, b models.Product) int {
		c := compareProducts(a, b, page.SortBy)
		if page.Desc {
			return -c
		}
		return c
	})
	return paginate(matched, page), nil
}

func compareProducts(a, b models.Product, key string) int {
	var c int
	switch key {
	case "name":
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "price":
		c = a.Price.Cmp(b.Price)
	case "category":
		c = strings.Compare(strings.ToLower(a.Category), strings.ToLower(b.Category))
	case "stock_quantity":
		c = cmp.Compare(a.StockQuantity, b.StockQuantity)
	case "created_at":
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if c == 0 {
		c = cmp.Compare(a.ID, b.ID)
	}
	return c
}

func (r *memoryProducts) FindLowStock(_ context.Context, threshold int) ([]models.Product, error) {
	d, release := r.h.acquire()
	defer release()
	low := make([]models.Product, 0)
	for _, p := range d.products {
		if p.Active && p.StockQuantity < threshold {
			low = append(low, *p)
		}
	}
	slices.SortFunc(low, func(a, b models.Product) int {
		return compareProducts(a, b, "stock_quantity")
	})
	return low, nil
}

func (r *memoryProducts) AppendStockMovement(_ context.Context, m *models.StockMovement) error {
	d, release := r.h.acquire()
	defer release()
	if _, ok := d.products[m.ProductID]; !ok {
		return ErrNotFound
	}
	d.movementSeq++
	m.ID = d.movementSeq
	d.movements = append(d.movements, *m)
	return nil
}

func (r *memoryProducts) ListStockMovements(_ context.Context, productID int64) ([]models.StockMovement, error) {
	d, release := r.h.acquire()
	defer release()
	out := make([]models.StockMovement, 0)
	for _, m := range d.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryProducts) AppendPriceHistory(_ context.Context, h *models.PriceHistory) error {
	d, release := r.h.acquire()
	defer release()
	if _, ok := d.products[h.ProductID]; !ok {
		return ErrNotFound
	}
	d.priceSeq++
	h.ID = d.priceSeq
	d.prices = append(d.prices, *h)
	return nil
}

func (r *memoryProducts) ListPriceHistory(_ context.Context, productID int64) ([]models.PriceHistory, error) {
	d, release := r.h.acquire()
	defer release()
	out := make([]models.PriceHistory, 0)
	for _, h := range d.prices {
		if h.ProductID == productID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memoryOrders struct{ h *memoryHandle }

func (r *memoryOrders) FindByID(_ context.Context, id int64) (*models.Order, error) {
	d, release := r.h.acquire()
	defer release()
	o, ok := d.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *memoryOrders) FindByIDForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryOrders) Save(_ context.Context, o *models.Order) error {
	d, release := r.h.acquire()
	defer release()
	if o.ID == 0 {
		d.orderSeq++
		o.ID = d.orderSeq
	} else if _, ok := d.orders[o.ID]; !ok {
		return ErrNotFound
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		if o.Items[i].ID == 0 {
			d.itemSeq++
			o.Items[i].ID = d.itemSeq
		}
	}
	d.orders[o.ID] = o.Clone()
	return nil
}

func (r *memoryOrders) List(_ context.Context, f OrderFilter, page PageRequest) (Page[models.Order], error) {
	page, err := page.validate(OrderSortKeys)
	if err != nil {
		return Page[models.Order]{}, err
	}

	d, release := r.h.acquire()
	matched := make([]models.Order, 0)
	for _, o := range d.orders {
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if f.UserEmail != "" && !strings.EqualFold(o.UserEmail, f.UserEmail) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, *o.Clone())
	}
	release()

	slices.SortStableFunc(matched, func(a, b models.Order) int {
		var c int
		switch page.SortBy {
		case "created_at":
			c = a.CreatedAt.Compare(b.CreatedAt)
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case "total_amount":
			c = a.TotalAmount.Cmp(b.TotalAmount)
		case "status":
			c = strings.Compare(string(a.Status), string(b.Status))
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if page.Desc {
			return -c
		}
		return c
	})
	return paginate(matched, page), nil
}

type memoryUsers struct{ h *memoryHandle }

func (r *memoryUsers) FindByID(_ context.Context, id int64) (*models.User, error) {
	d, release := r.h.acquire()
	defer release()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *memoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	d, release := r.h.acquire()
	defer release()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *memoryUsers) Save(_ context.Context, u *models.User) error {
	d, release := r.h.acquire()
	defer release()
	if u.ID == 0 {
		d.userSeq++
		u.ID = d.userSeq
	} else if _, ok := d.users[u.ID]; !ok {
		return ErrNotFound
	}
	d.users[u.ID] = cloneUser(u)
	return nil
}

func (r *memoryUsers) List(_ context.Context, page PageRequest) (Page[models.User], error) {
	page, err := page.validate(UserSortKeys)
	if err != nil {
		return Page[models.User]{}, err
	}

	d, release := r.h.acquire()
	all := make([]models.User, 0, len(d.users))
	for _, u := range d.users {
		all = append(all, *cloneUser(u))
	}
	release()

	slices.SortStableFunc(all, func(a, b models.User) int {
		var c int
		switch page.SortBy {
		case "id":
		case "email":
			c = strings.Compare(a.Email, b.Email)
		case "created_at":
			c = a.CreatedAt.Compare(b.CreatedAt)
		default:
			c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if page.Desc {
			return -c
		}
		return c
	})
	return paginate(all, page), nil
}

func (r *memoryUsers) FindByRole(_ context.Context, role models.Role) ([]models.User, error) {
	d, release := r.h.acquire()
	defer release()
	out := make([]models.User, 0)
	for _, u := range d.users {
		if slices.Contains(u.Roles, role) {
			out = append(out, *cloneUser(u))
		}
	}
	slices.SortFunc(out, func(a, b models.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *memoryUsers) Delete(_ context.Context, id int64) error {
	d, release := r.h.acquire()
	defer release()
	if _, ok := d.users[id]; !ok {
		return ErrNotFound
	}
	for _, o := range d.orders {
		if o.UserID == id {
			return ErrReferenced
		}
	}
	delete(d.users, id)
	return nil
}

func paginate[T any](all []T, page PageRequest) Page[T] {
	start := page.Offset()
	if start < 0 || start > len(all) {
		start = len(all)
	}
	end := min(start+page.Size, len(all))
	return Page[T]{
		Content:       slices.Clone(all[start:end]),
		TotalElements: int64(len(all)),
		Page:          page.Page,
		Size:          page.Size,
	}
}
