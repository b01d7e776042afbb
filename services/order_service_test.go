package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/models"
	"order-fulfillment/repository"
)

type OrderServiceSuite struct {
	suite.Suite
	ctx       context.Context
	store     *repository.MemoryStore
	orders    *cache.Memory
	products  *cache.Memory
	events    *recordingPublisher
	svc       *OrderService
	admin     models.Principal
	client    models.Principal
	stranger  models.Principal
	productID int64
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repository.NewMemoryStore()
	s.orders = cache.NewMemory()
	s.products = cache.NewMemory()
	s.events = &recordingPublisher{}
	s.svc = s.newService(s.store)

	s.admin = seedUser(s.T(), s.store, "admin@example.com", models.RoleAdmin)
	s.client = seedUser(s.T(), s.store, "client@example.com", models.RoleClient)
	s.stranger = seedUser(s.T(), s.store, "other@example.com", models.RoleClient)
	s.productID = seedProduct(s.T(), s.store, "Keyboard", "100.00", 50)
}

func (s *OrderServiceSuite) newService(store repository.Store) *OrderService {
	logger := zap.NewNop()
	inv := NewInventory(store, s.products, logger)
	inv.now = clock
	svc := NewOrderService(OrderDeps{
		Store:          store,
		Inventory:      inv,
		Orders:         s.orders,
		Products:       s.products,
		Publisher:      s.events,
		Scheduler:      s.events,
		PaymentTimeout: 30 * time.Minute,
		Logger:         logger,
	})
	svc.now = clock
	return svc
}

func (s *OrderServiceSuite) place(qty int) *models.Order {
	order, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: s.productID, Quantity: qty}})
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) stock() int {
	return stockOf(s.T(), s.store, s.productID)
}

func (s *OrderServiceSuite) movements() []models.StockMovement {
	ms, err := s.store.Repositories().Products.ListStockMovements(s.ctx, s.productID)
	s.Require().NoError(err)
	return ms
}

func (s *OrderServiceSuite) TestCreateReservesStock() {
	order := s.place(2)

	s.Equal(models.OrderStatusPending, order.Status)
	s.Equal(models.PaymentStatusPending, order.PaymentStatus)
	s.True(decimal.RequireFromString("200.00").Equal(order.TotalAmount))
	s.Equal(48, s.stock())

	s.Require().Len(order.Items, 1)
	s.Equal("Keyboard", order.Items[0].ProductName)
	s.True(decimal.RequireFromString("100.00").Equal(order.Items[0].UnitPrice))

	ms := s.movements()
	s.Require().Len(ms, 1)
	s.Equal(models.MovementOutbound, ms[0].Type)
	s.Equal(50, ms[0].PreviousStock)
	s.Equal(48, ms[0].NewStock)
	s.Equal("Sale - order #1", ms[0].Reason)
	s.Equal("client@example.com", ms[0].CreatedBy)

	s.Equal([]string{models.EventOrderCreated}, s.events.types())
	s.Equal([]int64{order.ID}, s.events.scheduled)
}

func (s *OrderServiceSuite) TestCreateRejectsInsufficientStock() {
	_, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: s.productID, Quantity: 100}})

	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))
	s.ErrorContains(err, "insufficient stock")
	s.Equal(50, s.stock())
	s.Empty(s.movements())
	s.Empty(s.events.events)

	page, err := s.store.Repositories().Orders.List(s.ctx, repository.OrderFilter{}, repository.PageRequest{})
	s.Require().NoError(err)
	s.Zero(page.TotalElements)
}

func (s *OrderServiceSuite) TestCreateExactStockBoundary() {
	s.place(50)
	s.Equal(0, s.stock())

	_, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: s.productID, Quantity: 1}})
	var appErr *apperrors.Error
	s.Require().ErrorAs(err, &appErr)
	s.Equal(apperrors.CodeInsufficientStock, appErr.Code)
	s.Equal(0, s.stock())
}

func (s *OrderServiceSuite) TestCreateIsAllOrNothingAcrossLines() {
	second := seedProduct(s.T(), s.store, "Mouse", "25.50", 1)

	_, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{
		{ProductID: s.productID, Quantity: 5},
		{ProductID: second, Quantity: 2},
	})
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))
	s.Equal(50, s.stock())
	s.Equal(1, stockOf(s.T(), s.store, second))
	s.Empty(s.movements())
}

func (s *OrderServiceSuite) TestCreateSameProductTwiceSharesStock() {
	order, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{
		{ProductID: s.productID, Quantity: 30},
		{ProductID: s.productID, Quantity: 20},
	})
	s.Require().NoError(err)
	s.Len(order.Items, 2)
	s.Equal(0, s.stock())

	_, err = s.svc.CreateOrder(s.ctx, s.client, []OrderLine{
		{ProductID: s.productID, Quantity: 1},
	})
	s.Error(err)
}

func (s *OrderServiceSuite) TestCreateValidatesInput() {
	_, err := s.svc.CreateOrder(s.ctx, s.client, nil)
	s.True(apperrors.IsKind(err, apperrors.KindValidation))

	_, err = s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: s.productID, Quantity: 0}})
	s.True(apperrors.IsKind(err, apperrors.KindValidation))
	s.Equal(50, s.stock())
}

func (s *OrderServiceSuite) TestCreateUnknownOrInactiveProduct() {
	_, err := s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: 999, Quantity: 1}})
	s.True(apperrors.IsKind(err, apperrors.KindNotFound))

	inactive := seedProduct(s.T(), s.store, "Retired", "10.00", 5)
	p, err := s.store.Repositories().Products.FindByID(s.ctx, inactive)
	s.Require().NoError(err)
	p.Active = false
	s.Require().NoError(s.store.Repositories().Products.Save(s.ctx, p))

	_, err = s.svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: inactive, Quantity: 1}})
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))
	s.Equal(5, stockOf(s.T(), s.store, inactive))
}

func (s *OrderServiceSuite) TestCreateUnknownUser() {
	ghost := models.Principal{UserID: 404, Email: "ghost@example.com", Roles: []models.Role{models.RoleClient}}
	_, err := s.svc.CreateOrder(s.ctx, ghost, []OrderLine{{ProductID: s.productID, Quantity: 1}})
	s.True(apperrors.IsKind(err, apperrors.KindNotFound))
}

func (s *OrderServiceSuite) TestCreateWrapsInfrastructureFailure() {
	svc := s.newService(&flakyStore{MemoryStore: s.store, failOn: 2, err: errInjected})

	_, err := svc.CreateOrder(s.ctx, s.client, []OrderLine{{ProductID: s.productID, Quantity: 3}})

	var appErr *apperrors.Error
	s.Require().ErrorAs(err, &appErr)
	s.Equal(apperrors.KindOrderProcessing, appErr.Kind)
	s.Equal(int64(1), appErr.OrderID)
	s.ErrorIs(err, errInjected)
	s.Equal(50, s.stock())
	s.Empty(s.movements())
	s.Empty(s.events.events)
}

func (s *OrderServiceSuite) TestCancelRestoresStockOnce() {
	order := s.place(2)

	cancelled, err := s.svc.CancelOrder(s.ctx, s.client, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, cancelled.Status)
	s.Equal(50, s.stock())

	ms := s.movements()
	s.Require().Len(ms, 2)
	s.Equal(models.MovementInbound, ms[1].Type)
	s.Equal(2, ms[1].Quantity)
	s.Equal("Cancellation - order #1", ms[1].Reason)

	_, err = s.svc.CancelOrder(s.ctx, s.client, order.ID)
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))
	s.Equal(50, s.stock())
	s.Len(s.movements(), 2)

	s.Equal([]string{models.EventOrderCreated, models.EventOrderCancelled}, s.events.types())
}

func (s *OrderServiceSuite) TestCancelDeliveredOrderIsRejected() {
	order := s.place(2)
	for _, next := range []models.OrderStatus{
		models.OrderStatusConfirmed, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusDelivered,
	} {
		_, err := s.svc.UpdateStatus(s.ctx, s.admin, order.ID, next)
		s.Require().NoError(err)
	}

	_, err := s.svc.CancelOrder(s.ctx, s.admin, order.ID)
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))

	current, err := s.svc.FindByID(s.ctx, s.admin, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusDelivered, current.Status)
	s.Equal(48, s.stock())
}

func (s *OrderServiceSuite) TestCancelByStrangerIsDenied() {
	order := s.place(2)

	_, err := s.svc.CancelOrder(s.ctx, s.stranger, order.ID)
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))
	s.Equal(48, s.stock())
}

func (s *OrderServiceSuite) TestUpdateStatusToCancelledRestoresStock() {
	order := s.place(4)

	updated, err := s.svc.UpdateStatus(s.ctx, s.admin, order.ID, models.OrderStatusCancelled)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, updated.Status)
	s.Equal(50, s.stock())
	s.Equal("admin@example.com", s.movements()[1].CreatedBy)
}

func (s *OrderServiceSuite) TestUpdateStatusRules() {
	order := s.place(1)

	_, err := s.svc.UpdateStatus(s.ctx, s.client, order.ID, models.OrderStatusConfirmed)
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))

	_, err = s.svc.UpdateStatus(s.ctx, s.admin, order.ID, models.OrderStatusShipped)
	s.Require().NoError(err)

	_, err = s.svc.UpdateStatus(s.ctx, s.admin, order.ID, models.OrderStatusPending)
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))

	_, err = s.svc.UpdateStatus(s.ctx, s.admin, order.ID, models.OrderStatusCancelled)
	s.True(apperrors.IsKind(err, apperrors.KindBusinessRule))
	s.Equal(49, s.stock())

	same, err := s.svc.UpdateStatus(s.ctx, s.admin, order.ID, models.OrderStatusShipped)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusShipped, same.Status)
	s.Equal([]string{models.EventOrderCreated, models.EventStatusUpdated}, s.events.types())

	_, err = s.svc.UpdateStatus(s.ctx, s.admin, 999, models.OrderStatusShipped)
	s.True(apperrors.IsKind(err, apperrors.KindNotFound))
}

func (s *OrderServiceSuite) TestApprovedPaymentConfirmsPendingOrder() {
	order := s.place(1)

	updated, err := s.svc.UpdatePaymentStatus(s.ctx, s.admin, order.ID, PaymentUpdate{
		Status:        models.PaymentStatusApproved,
		Method:        models.PaymentMethodPix,
		TransactionID: "tx-1",
	})
	s.Require().NoError(err)
	s.Equal(models.OrderStatusConfirmed, updated.Status)
	s.Equal(models.PaymentStatusApproved, updated.PaymentStatus)
	s.Require().NotNil(updated.PaymentDate)
	s.False(updated.PaymentDate.Before(order.CreatedAt))
	s.Equal("tx-1", updated.TransactionID)
}

func (s *OrderServiceSuite) TestPaymentUpdateValidation() {
	order := s.place(1)

	_, err := s.svc.UpdatePaymentStatus(s.ctx, s.admin, order.ID, PaymentUpdate{Status: "PAID"})
	s.True(apperrors.IsKind(err, apperrors.KindValidation))

	_, err = s.svc.UpdatePaymentStatus(s.ctx, s.admin, order.ID, PaymentUpdate{Status: models.PaymentStatusApproved, Method: "CASH"})
	s.True(apperrors.IsKind(err, apperrors.KindValidation))

	_, err = s.svc.UpdatePaymentStatus(s.ctx, s.client, order.ID, PaymentUpdate{Status: models.PaymentStatusApproved})
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))
}

func (s *OrderServiceSuite) TestFindByIDAccessAndCache() {
	order := s.place(1)

	found, err := s.svc.FindByID(s.ctx, s.client, order.ID)
	s.Require().NoError(err)
	s.Equal(order.ID, found.ID)
	s.Equal(1, s.orders.Len())

	_, err = s.svc.FindByID(s.ctx, s.stranger, order.ID)
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))

	_, err = s.svc.CancelOrder(s.ctx, s.client, order.ID)
	s.Require().NoError(err)
	s.Zero(s.orders.Len())

	found, err = s.svc.FindByID(s.ctx, s.admin, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, found.Status)
}

func (s *OrderServiceSuite) TestCreateFlushesOrderCache() {
	first := s.place(1)
	_, err := s.svc.FindByID(s.ctx, s.client, first.ID)
	s.Require().NoError(err)
	s.Equal(1, s.orders.Len())

	s.place(1)
	s.Zero(s.orders.Len())
}

func (s *OrderServiceSuite) TestListingRespectsOwnership() {
	s.place(1)
	s.place(1)
	_, err := s.svc.CreateOrder(s.ctx, s.stranger, []OrderLine{{ProductID: s.productID, Quantity: 1}})
	s.Require().NoError(err)

	mine, err := s.svc.List(s.ctx, s.client, repository.PageRequest{})
	s.Require().NoError(err)
	s.EqualValues(2, mine.TotalElements)

	all, err := s.svc.List(s.ctx, s.admin, repository.PageRequest{})
	s.Require().NoError(err)
	s.EqualValues(3, all.TotalElements)

	_, err = s.svc.ListByUserEmail(s.ctx, s.client, "other@example.com", repository.PageRequest{})
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))

	own, err := s.svc.ListByUserEmail(s.ctx, s.client, "CLIENT@example.com", repository.PageRequest{})
	s.Require().NoError(err)
	s.EqualValues(2, own.TotalElements)

	_, err = s.svc.ListByStatus(s.ctx, s.client, models.OrderStatusPending, repository.PageRequest{})
	s.True(apperrors.IsKind(err, apperrors.KindAccessDenied))

	pending, err := s.svc.ListByStatus(s.ctx, s.admin, models.OrderStatusPending, repository.PageRequest{})
	s.Require().NoError(err)
	s.EqualValues(3, pending.TotalElements)

	_, err = s.svc.List(s.ctx, s.admin, repository.PageRequest{SortBy: "password"})
	s.True(apperrors.IsKind(err, apperrors.KindValidation))
}

func (s *OrderServiceSuite) TestExpireUnpaid() {
	unpaid := s.place(3)
	paid := s.place(2)
	_, err := s.svc.UpdatePaymentStatus(s.ctx, s.admin, paid.ID, PaymentUpdate{Status: models.PaymentStatusApproved})
	s.Require().NoError(err)

	cancelled, err := s.svc.ExpireUnpaid(s.ctx, unpaid.ID)
	s.Require().NoError(err)
	s.True(cancelled)

	cancelled, err = s.svc.ExpireUnpaid(s.ctx, paid.ID)
	s.Require().NoError(err)
	s.False(cancelled)

	cancelled, err = s.svc.ExpireUnpaid(s.ctx, unpaid.ID)
	s.Require().NoError(err)
	s.False(cancelled)

	s.Equal(48, s.stock())
	ms := s.movements()
	s.Equal("system", ms[len(ms)-1].CreatedBy)

	_, err = s.svc.ExpireUnpaid(s.ctx, 999)
	s.True(apperrors.IsKind(err, apperrors.KindNotFound))
}

func (s *OrderServiceSuite) TestPublishFailureDoesNotFailOrder() {
	s.events.err = errors.New("broker down")
	order := s.place(1)
	s.NotZero(order.ID)
	s.Equal(49, s.stock())
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func TestCreateOrderTotalsAcrossLines(t *testing.T) {
	store := repository.NewMemoryStore()
	client := seedUser(t, store, "buyer@example.com", models.RoleClient)
	a := seedProduct(t, store, "Pen", "1.10", 100)
	b := seedProduct(t, store, "Notebook", "3.35", 100)

	svc := NewOrderService(OrderDeps{
		Store:     store,
		Inventory: NewInventory(store, cache.NewMemory(), zap.NewNop()),
		Orders:    cache.NewMemory(),
		Products:  cache.NewMemory(),
		Logger:    zap.NewNop(),
	})
	order, err := svc.CreateOrder(context.Background(), client, []OrderLine{
		{ProductID: a, Quantity: 3},
		{ProductID: b, Quantity: 7},
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, it := range order.Items {
		assert.True(t, it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Equal(it.TotalPrice))
		sum = sum.Add(it.TotalPrice)
	}
	assert.True(t, sum.Equal(order.TotalAmount))
	assert.Equal(t, "26.75", order.TotalAmount.StringFixed(2))

	stored, err := store.Repositories().Orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(order.TotalAmount))
}
