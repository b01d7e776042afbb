package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"order-fulfillment/apperrors"
	"order-fulfillment/middlewares"
	"order-fulfillment/models"
	"order-fulfillment/repository"
	"order-fulfillment/services"
)

type OrderService interface {
	CreateOrder(ctx context.Context, p models.Principal, lines []services.OrderLine) (*models.Order, error)
	UpdateStatus(ctx context.Context, p models.Principal, id int64, next models.OrderStatus) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, p models.Principal, id int64, in services.PaymentUpdate) (*models.Order, error)
	CancelOrder(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
	FindByID(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
	List(ctx context.Context, p models.Principal, page repository.PageRequest) (repository.Page[models.Order], error)
	ListByUserEmail(ctx context.Context, p models.Principal, email string, page repository.PageRequest) (repository.Page[models.Order], error)
	ListByStatus(ctx context.Context, p models.Principal, status models.OrderStatus, page repository.PageRequest) (repository.Page[models.Order], error)
}

type OrderController struct {
	orders OrderService
}

func NewOrderController(orders OrderService) *OrderController {
	return &OrderController{orders: orders}
}

type orderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

type createOrderRequest struct {
	Items []orderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type paymentRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required"`
	PaymentMethod string `json:"payment_method"`
	TransactionID string `json:"transaction_id"`
}

// recordOperation counts the request under op once the handler has run.
func recordOperation(c *gin.Context, op string) {
	middlewares.RecordOrderOperation(op, len(c.Errors) == 0 && c.Writer.Status() < 400)
}

func (h *OrderController) CreateOrder(c *gin.Context) {
	defer recordOperation(c, "create")
	p, found := principal(c)
	if !found {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	lines := make([]services.OrderLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = services.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	order, err := h.orders.CreateOrder(c.Request.Context(), p, lines)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusCreated, "Order created successfully", order)
}

// ListOrders returns every order to staff and the caller's own orders to
// clients.
func (h *OrderController) ListOrders(c *gin.Context) {
	defer recordOperation(c, "list")
	p, found := principal(c)
	if !found {
		return
	}
	page, valid := pageRequest(c)
	if !valid {
		return
	}

	result, err := h.orders.List(c.Request.Context(), p, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *OrderController) GetOrder(c *gin.Context) {
	defer recordOperation(c, "details")
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	order, err := h.orders.FindByID(c.Request.Context(), p, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", order)
}

func (h *OrderController) ListByUser(c *gin.Context) {
	defer recordOperation(c, "list_by_user")
	p, found := principal(c)
	if !found {
		return
	}
	page, valid := pageRequest(c)
	if !valid {
		return
	}

	result, err := h.orders.ListByUserEmail(c.Request.Context(), p, c.Param("email"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *OrderController) ListByStatus(c *gin.Context) {
	defer recordOperation(c, "list_by_status")
	p, found := principal(c)
	if !found {
		return
	}
	status, err := models.ParseOrderStatus(c.Param("status"))
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error(), "status"))
		return
	}
	page, valid := pageRequest(c)
	if !valid {
		return
	}

	result, err := h.orders.ListByStatus(c.Request.Context(), p, status, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "", toPage(result))
}

func (h *OrderController) UpdateStatus(c *gin.Context) {
	defer recordOperation(c, "update_status")
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error(), "status"))
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), p, id, status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Order status updated", order)
}

func (h *OrderController) UpdatePayment(c *gin.Context) {
	defer recordOperation(c, "update_payment")
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	status, err := models.ParsePaymentStatus(req.PaymentStatus)
	if err != nil {
		_ = c.Error(apperrors.Validation(err.Error(), "payment_status"))
		return
	}

	order, err := h.orders.UpdatePaymentStatus(c.Request.Context(), p, id, services.PaymentUpdate{
		Status:        status,
		Method:        models.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Payment status updated", order)
}

func (h *OrderController) CancelOrder(c *gin.Context) {
	defer recordOperation(c, "cancel")
	p, found := principal(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), p, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok(c, http.StatusOK, "Order cancelled", order)
}
