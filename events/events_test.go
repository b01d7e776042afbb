package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"order-fulfillment/models"
)

func TestNewOrderEventCopiesOrderState(t *testing.T) {
	now := time.Now()
	o := &models.Order{ID: 4, UserID: 2, Status: models.OrderStatusConfirmed,
		PaymentStatus: models.PaymentStatusApproved, TotalAmount: decimal.NewFromInt(30)}

	e := NewOrderEvent(o, models.EventPaymentUpdated, now)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, int64(4), e.OrderID)
	assert.Equal(t, int64(2), e.UserID)
	assert.Equal(t, models.OrderStatusConfirmed, e.Status)
	assert.Equal(t, models.PaymentStatusApproved, e.PaymentStatus)
	assert.Equal(t, now, e.Occurred)

	assert.NotEqual(t, e.EventID, NewOrderEvent(o, models.EventPaymentUpdated, now).EventID)
}

func TestPriority(t *testing.T) {
	tests := []struct {
		name  string
		event models.OrderEvent
		want  uint8
	}{
		{"routine", models.OrderEvent{Type: models.EventOrderCreated, Total: decimal.NewFromInt(100)}, PriorityNormal},
		{"exactly threshold", models.OrderEvent{Type: models.EventOrderCreated, Total: decimal.NewFromInt(1000)}, PriorityNormal},
		{"large", models.OrderEvent{Type: models.EventOrderCreated, Total: decimal.RequireFromString("1000.01")}, PriorityHigh},
		{"cancellation", models.OrderEvent{Type: models.EventOrderCancelled, Total: decimal.NewFromInt(1)}, PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Priority(tt.event))
		})
	}
}
