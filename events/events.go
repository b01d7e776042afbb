// Package events defines how committed order changes leave the service.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"order-fulfillment/models"
)

const (
	PriorityHigh   uint8 = 9
	PriorityNormal uint8 = 5
)

var highValueThreshold = decimal.NewFromInt(1000)

// Publisher delivers order events after the transaction that produced them
// has committed.
type Publisher interface {
	Publish(ctx context.Context, event models.OrderEvent) error
	Close() error
}

// Scheduler arranges for a payment check on an order after delay.
type Scheduler interface {
	SchedulePaymentCheck(ctx context.Context, orderID int64, delay time.Duration) error
}

func NewOrderEvent(o *models.Order, eventType string, now time.Time) models.OrderEvent {
	return models.OrderEvent{
		EventID:       uuid.NewString(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		Type:          eventType,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.TotalAmount,
		Occurred:      now,
	}
}

// Priority ranks cancellations and large orders ahead of routine traffic.
func Priority(e models.OrderEvent) uint8 {
	if e.Type == models.EventOrderCancelled || e.Total.GreaterThan(highValueThreshold) {
		return PriorityHigh
	}
	return PriorityNormal
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, models.OrderEvent) error { return nil }

func (Noop) SchedulePaymentCheck(context.Context, int64, time.Duration) error { return nil }

func (Noop) Close() error { return nil }
