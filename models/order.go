package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the fulfillment aggregate. Items are held by value and the total is
// only ever changed through RecalculateTotal.
type Order struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	UserEmail     string          `json:"user_email"`
	UserName      string          `json:"user_name"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	PaymentDate   *time.Time      `json:"payment_date,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// NewOrder returns an empty PENDING order for user u.
func NewOrder(u *User, now time.Time) *Order {
	return &Order{
		UserID:        u.ID,
		UserEmail:     u.Email,
		UserName:      u.Name,
		Items:         []OrderItem{},
		TotalAmount:   decimal.Zero,
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewOrderItem snapshots the product's current price.
func NewOrderItem(p *Product, quantity int) OrderItem {
	item := OrderItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    quantity,
		UnitPrice:   p.Price,
	}
	item.calculateTotal()
	return item
}

func (i *OrderItem) calculateTotal() {
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (o *Order) AddItem(item OrderItem) {
	item.OrderID = o.ID
	item.calculateTotal()
	o.Items = append(o.Items, item)
	o.RecalculateTotal()
}

// RemoveItem drops the item at index i. It reports false when i is out of range.
func (o *Order) RemoveItem(i int) bool {
	if i < 0 || i >= len(o.Items) {
		return false
	}
	o.Items = append(o.Items[:i], o.Items[i+1:]...)
	o.RecalculateTotal()
	return true
}

func (o *Order) UpdateItemQuantity(i, quantity int) bool {
	if i < 0 || i >= len(o.Items) {
		return false
	}
	o.Items[i].Quantity = quantity
	o.Items[i].calculateTotal()
	o.RecalculateTotal()
	return true
}

func (o *Order) UpdateItemPrice(i int, price decimal.Decimal) bool {
	if i < 0 || i >= len(o.Items) {
		return false
	}
	o.Items[i].UnitPrice = price
	o.Items[i].calculateTotal()
	o.RecalculateTotal()
	return true
}

func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice)
	}
	o.TotalAmount = total
}

func (o *Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusApproved
}

// OwnedBy reports whether the principal placed this order.
func (o *Order) OwnedBy(p Principal) bool {
	if p.UserID != 0 && p.UserID == o.UserID {
		return true
	}
	return p.Email != "" && p.Email == o.UserEmail
}

// ApplyPayment records a payment update. An approval stamps the payment date and
// confirms an order that is still pending.
func (o *Order) ApplyPayment(status PaymentStatus, method PaymentMethod, transactionID string, now time.Time) {
	o.PaymentStatus = status
	o.PaymentMethod = method
	o.TransactionID = transactionID
	if status == PaymentStatusApproved {
		paidAt := now
		o.PaymentDate = &paidAt
		if o.Status == OrderStatusPending {
			o.Status = OrderStatusConfirmed
		}
	}
	o.UpdatedAt = now
}

// Clone returns a deep copy so cached or stored orders never share item slices.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.PaymentDate != nil {
		d := *o.PaymentDate
		c.PaymentDate = &d
	}
	return &c
}

// OrderEvent is published after an order mutation commits.
type OrderEvent struct {
	EventID       string          `json:"event_id"`
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Type          string          `json:"type"` // created, status_updated, payment_updated, cancelled
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	Occurred      time.Time       `json:"occurred"`
}

const (
	EventOrderCreated   = "created"
	EventStatusUpdated  = "status_updated"
	EventPaymentUpdated = "payment_updated"
	EventOrderCancelled = "cancelled"
	EventPaymentCheck   = "payment_check"
)
