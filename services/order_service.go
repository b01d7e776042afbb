package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/cache"
	"order-fulfillment/events"
	"order-fulfillment/models"
	"order-fulfillment/observability"
	"order-fulfillment/repository"
)

type OrderLine struct {
	ProductID int64
	Quantity  int
}

type PaymentUpdate struct {
	Status        models.PaymentStatus
	Method        models.PaymentMethod
	TransactionID string
}

type OrderDeps struct {
	Store     repository.Store
	Inventory *Inventory
	Orders    cache.Cache
	Products  cache.Cache
	Publisher events.Publisher
	Scheduler events.Scheduler
	// PaymentTimeout enables the delayed payment check when positive.
	PaymentTimeout time.Duration
	Logger         *zap.Logger
}

// OrderService drives orders from creation to delivery or cancellation and
// keeps stock in step through the inventory ledger.
type OrderService struct {
	store          repository.Store
	inventory      *Inventory
	orders         cache.Cache
	products       cache.Cache
	publisher      events.Publisher
	scheduler      events.Scheduler
	paymentTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewOrderService(d OrderDeps) *OrderService {
	s := &OrderService{
		store:          d.Store,
		inventory:      d.Inventory,
		orders:         d.Orders,
		products:       d.Products,
		publisher:      d.Publisher,
		scheduler:      d.Scheduler,
		paymentTimeout: d.PaymentTimeout,
		logger:         d.Logger,
		now:            time.Now,
	}
	if s.publisher == nil {
		s.publisher = events.Noop{}
	}
	if s.scheduler == nil {
		s.scheduler = events.Noop{}
	}
	return s
}

func (s *OrderService) resolveUser(ctx context.Context, repos repository.Repositories, p models.Principal) (*models.User, error) {
	var (
		u   *models.User
		err error
	)
	if p.UserID != 0 {
		u, err = repos.Users.FindByID(ctx, p.UserID)
	} else {
		u, err = repos.Users.FindByEmail(ctx, p.Email)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("User", "email", p.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func validateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return apperrors.Validation("order must contain at least one item", "items")
	}
	var v apperrors.ValidationErrors
	for i, line := range lines {
		if line.ProductID <= 0 {
			v.Add(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if line.Quantity <= 0 {
			v.Add(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
	}
	return v.Err()
}

// CreateOrder reserves stock for every line and persists the order, all in
// one transaction. Domain failures come back unchanged; anything else is
// wrapped as an order processing failure that keeps the cause.
func (s *OrderService) CreateOrder(ctx context.Context, p models.Principal, lines []OrderLine) (order *models.Order, err error) {
	ctx, span := observability.StartSpan(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.Int("order.lines", len(lines))))
	defer func() { observability.EndSpan(span, err) }()

	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var (
		orderID int64
		touched []int64
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		user, err := s.resolveUser(ctx, repos, p)
		if err != nil {
			return err
		}

		draft := models.NewOrder(user, s.now())
		if err := repos.Orders.Save(ctx, draft); err != nil {
			return err
		}
		orderID = draft.ID
		reason := fmt.Sprintf("Sale - order #%d", draft.ID)

		for _, line := range lines {
			product, err := repos.Products.FindByIDForUpdate(ctx, line.ProductID)
			if err != nil {
				return lookupErr(err, "Product", line.ProductID)
			}
			if !product.Active {
				return apperrors.BusinessRule("product is not available: %s", product.Name)
			}
			if product.StockQuantity < line.Quantity {
				return apperrors.InsufficientStock(product.Name, product.StockQuantity, line.Quantity)
			}

			draft.AddItem(models.NewOrderItem(product, line.Quantity))
			if _, err := s.inventory.move(ctx, repos, product, models.MovementOutbound, line.Quantity, reason, p.Actor()); err != nil {
				return err
			}
			touched = append(touched, product.ID)
		}

		if err := repos.Orders.Save(ctx, draft); err != nil {
			return err
		}
		order = draft
		return nil
	})
	if err != nil {
		if apperrors.IsDomain(err) {
			return nil, err
		}
		s.logger.Error("Order creation failed",
			zap.Int64("order_id", orderID),
			zap.String("user", p.Actor()),
			zap.Error(err),
		)
		return nil, apperrors.OrderProcessing(orderID, err)
	}

	evictAll(ctx, s.orders, s.logger)
	for _, id := range touched {
		evict(ctx, s.products, s.logger, cache.IDKey(id))
	}
	s.publish(ctx, order, models.EventOrderCreated)
	if s.paymentTimeout > 0 {
		if err := s.scheduler.SchedulePaymentCheck(ctx, order.ID, s.paymentTimeout); err != nil {
			s.logger.Warn("Failed to schedule payment check", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("user", order.UserEmail),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

// restoreStock returns every item's quantity to stock and marks the order
// cancelled. The caller persists the order.
func (s *OrderService) restoreStock(ctx context.Context, repos repository.Repositories, order *models.Order, actor string) ([]int64, error) {
	reason := fmt.Sprintf("Cancellation - order #%d", order.ID)
	touched := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		if _, _, err := s.inventory.Apply(ctx, repos, item.ProductID, models.MovementInbound, item.Quantity, reason, actor); err != nil {
			return nil, err
		}
		touched = append(touched, item.ProductID)
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = s.now()
	return touched, nil
}

// UpdateStatus moves an order along its lifecycle. Moving to CANCELLED runs
// the same stock restoration as CancelOrder.
func (s *OrderService) UpdateStatus(ctx context.Context, p models.Principal, id int64, next models.OrderStatus) (order *models.Order, err error) {
	ctx, span := observability.StartSpan(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(next)),
	))
	defer func() { observability.EndSpan(span, err) }()

	if err := requireElevated(p, "changing order status"); err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, apperrors.Validation("unknown order status: "+string(next), "status")
	}

	var (
		changed  bool
		previous models.OrderStatus
		touched  []int64
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Order", id)
		}
		order = current
		previous = current.Status
		if current.Status == next {
			return nil
		}
		if !current.Status.CanTransitionTo(next) {
			return apperrors.BusinessRule("order %d cannot move from %s to %s", id, current.Status, next)
		}

		if next == models.OrderStatusCancelled {
			if touched, err = s.restoreStock(ctx, repos, current, p.Actor()); err != nil {
				return err
			}
		} else {
			current.Status = next
			current.UpdatedAt = s.now()
		}
		changed = true
		return repos.Orders.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.afterChange(ctx, order, touched)
	eventType := models.EventStatusUpdated
	if next == models.OrderStatusCancelled {
		eventType = models.EventOrderCancelled
	}
	s.publish(ctx, order, eventType)
	s.logger.Info("Order status updated",
		zap.Int64("order_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.String("actor", p.Actor()),
	)
	return order, nil
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, p models.Principal, id int64, in PaymentUpdate) (order *models.Order, err error) {
	ctx, span := observability.StartSpan(ctx, "OrderService.UpdatePaymentStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("payment.status", string(in.Status)),
	))
	defer func() { observability.EndSpan(span, err) }()

	if err := requireElevated(p, "updating payments"); err != nil {
		return nil, err
	}
	var v apperrors.ValidationErrors
	if !in.Status.Valid() {
		v.Add("payment_status", "unknown payment status %q", in.Status)
	}
	if in.Method != "" && !in.Method.Valid() {
		v.Add("payment_method", "unknown payment method %q", in.Method)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Order", id)
		}
		current.ApplyPayment(in.Status, in.Method, in.TransactionID, s.now())
		order = current
		return repos.Orders.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, order, nil)
	s.publish(ctx, order, models.EventPaymentUpdated)
	return order, nil
}

// CancelOrder cancels a PENDING or CONFIRMED order and restores its stock.
// Cancelling twice is rejected so stock is never restored twice.
func (s *OrderService) CancelOrder(ctx context.Context, p models.Principal, id int64) (order *models.Order, err error) {
	ctx, span := observability.StartSpan(ctx, "OrderService.CancelOrder",
		trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { observability.EndSpan(span, err) }()

	var touched []int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Order", id)
		}
		if !p.IsElevated() && !current.OwnedBy(p) {
			return apperrors.AccessDenied("access denied to order %d", id)
		}
		if !current.CanBeCancelled() {
			return apperrors.BusinessRule("order %d cannot be cancelled in status %s", id, current.Status)
		}
		if touched, err = s.restoreStock(ctx, repos, current, p.Actor()); err != nil {
			return err
		}
		order = current
		return repos.Orders.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, order, touched)
	s.publish(ctx, order, models.EventOrderCancelled)
	s.logger.Info("Order cancelled", zap.Int64("order_id", id), zap.String("actor", p.Actor()))
	return order, nil
}

// ExpireUnpaid cancels the order if it is still PENDING and unpaid once the
// payment window has passed. It reports whether the order was cancelled.
func (s *OrderService) ExpireUnpaid(ctx context.Context, id int64) (bool, error) {
	var (
		order   *models.Order
		touched []int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookupErr(err, "Order", id)
		}
		if current.Status != models.OrderStatusPending || current.IsPaid() {
			return nil
		}
		if touched, err = s.restoreStock(ctx, repos, current, models.SystemPrincipal.Actor()); err != nil {
			return err
		}
		order = current
		return repos.Orders.Save(ctx, current)
	})
	if err != nil || order == nil {
		return false, err
	}

	s.afterChange(ctx, order, touched)
	s.publish(ctx, order, models.EventOrderCancelled)
	return true, nil
}

func (s *OrderService) afterChange(ctx context.Context, order *models.Order, products []int64) {
	evict(ctx, s.orders, s.logger, cache.IDKey(order.ID))
	for _, id := range products {
		evict(ctx, s.products, s.logger, cache.IDKey(id))
	}
}

func (s *OrderService) publish(ctx context.Context, order *models.Order, eventType string) {
	event := events.NewOrderEvent(order, eventType, s.now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish order event",
			zap.Int64("order_id", order.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

func (s *OrderService) FindByID(ctx context.Context, p models.Principal, id int64) (*models.Order, error) {
	var order models.Order
	if !recall(ctx, s.orders, s.logger, cache.IDKey(id), &order) {
		found, err := s.store.Repositories().Orders.FindByID(ctx, id)
		if err != nil {
			return nil, lookupErr(err, "Order", id)
		}
		remember(ctx, s.orders, s.logger, cache.IDKey(id), found)
		order = *found
	}
	if !p.IsElevated() && !order.OwnedBy(p) {
		return nil, apperrors.AccessDenied("access denied to order %d", id)
	}
	return &order, nil
}

// List returns every order to staff and only the caller's own orders to
// everyone else.
func (s *OrderService) List(ctx context.Context, p models.Principal, page repository.PageRequest) (repository.Page[models.Order], error) {
	var f repository.OrderFilter
	if !p.IsElevated() {
		if p.UserID != 0 {
			f.UserID = p.UserID
		} else {
			f.UserEmail = p.Email
		}
	}
	result, err := s.store.Repositories().Orders.List(ctx, f, page)
	return result, pageErr(err)
}

func (s *OrderService) ListByUserEmail(ctx context.Context, p models.Principal, email string, page repository.PageRequest) (repository.Page[models.Order], error) {
	if !p.IsElevated() && !strings.EqualFold(p.Email, email) {
		return repository.Page[models.Order]{}, apperrors.AccessDenied("access denied to orders of other users")
	}
	result, err := s.store.Repositories().Orders.List(ctx, repository.OrderFilter{UserEmail: email}, page)
	return result, pageErr(err)
}

func (s *OrderService) ListByStatus(ctx context.Context, p models.Principal, status models.OrderStatus, page repository.PageRequest) (repository.Page[models.Order], error) {
	if err := requireElevated(p, "listing orders by status"); err != nil {
		return repository.Page[models.Order]{}, err
	}
	if !status.Valid() {
		return repository.Page[models.Order]{}, apperrors.Validation("unknown order status: "+string(status), "status")
	}
	result, err := s.store.Repositories().Orders.List(ctx, repository.OrderFilter{Status: status}, page)
	return result, pageErr(err)
}
