package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"order-fulfillment/models"
	"order-fulfillment/repository"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type recordingPublisher struct {
	mu        sync.Mutex
	events    []models.OrderEvent
	scheduled []int64
	err       error
}

func (r *recordingPublisher) Publish(_ context.Context, e models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) SchedulePaymentCheck(_ context.Context, orderID int64, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, orderID)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// flakyOrders fails the nth Save of a transaction.
type flakyOrders struct {
	repository.OrderRepository
	failOn int
	saves  int
	err    error
}

func (f *flakyOrders) Save(ctx context.Context, o *models.Order) error {
	f.saves++
	if f.saves == f.failOn {
		return f.err
	}
	return f.OrderRepository.Save(ctx, o)
}

// flakyStore injects flakyOrders into every transaction.
type flakyStore struct {
	*repository.MemoryStore
	failOn int
	err    error
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	return s.MemoryStore.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		r.Orders = &flakyOrders{OrderRepository: r.Orders, failOn: s.failOn, err: s.err}
		return fn(ctx, r)
	})
}

var errInjected = errors.New("injected failure")

func seedUser(t *testing.T, store repository.Store, email string, roles ...models.Role) models.Principal {
	t.Helper()
	u := &models.User{Name: email, Email: email, Roles: roles, CreatedAt: fixedNow}
	require.NoError(t, store.Repositories().Users.Save(context.Background(), u))
	return u.Principal()
}

func seedProduct(t *testing.T, store repository.Store, name, price string, stock int) int64 {
	t.Helper()
	p := &models.Product{
		Name:          name,
		Price:         decimal.RequireFromString(price),
		Category:      "General",
		StockQuantity: stock,
		Active:        true,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
	require.NoError(t, store.Repositories().Products.Save(context.Background(), p))
	return p.ID
}

func stockOf(t *testing.T, store repository.Store, id int64) int {
	t.Helper()
	p, err := store.Repositories().Products.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}
