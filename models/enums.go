package models

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// fulfillment progression; CANCELLED sits outside of it
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransitionTo reports whether an order in status s may be moved to next.
// Same-status moves are allowed and are treated as no-ops by the service.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s == OrderStatusCancelled || s == OrderStatusDelivered {
		return false
	}
	if next == OrderStatusCancelled {
		return s == OrderStatusPending || s == OrderStatusConfirmed
	}
	return orderStatusRank[next] > orderStatusRank[s]
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", v)
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusApproved  PaymentStatus = "APPROVED"
	PaymentStatusRejected  PaymentStatus = "REJECTED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected,
		PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown payment status %q", v)
	}
	return s, nil
}

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentMethodPix        PaymentMethod = "PIX"
	PaymentMethodBankSlip   PaymentMethod = "BANK_SLIP"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPix, PaymentMethodBankSlip:
		return true
	}
	return false
}

type MovementType string

const (
	MovementInbound            MovementType = "INBOUND"
	MovementOutbound           MovementType = "OUTBOUND"
	MovementAbsoluteAdjustment MovementType = "ABSOLUTE_ADJUSTMENT"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementInbound, MovementOutbound, MovementAbsoluteAdjustment:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleClient   Role = "CLIENT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleClient:
		return true
	}
	return false
}

func ParseRoles(values []string) ([]Role, error) {
	roles := make([]Role, 0, len(values))
	for _, v := range values {
		r := Role(strings.ToUpper(strings.TrimSpace(v)))
		if !r.Valid() {
			return nil, fmt.Errorf("unknown role %q", v)
		}
		roles = append(roles, r)
	}
	return roles, nil
}
