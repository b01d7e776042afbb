// Package apperrors holds the domain error taxonomy shared by services and the
// HTTP boundary.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBusinessRule
	KindAccessDenied
	KindAuthentication
	KindOrderProcessing
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	case KindAccessDenied:
		return "access_denied"
	case KindAuthentication:
		return "authentication"
	case KindOrderProcessing:
		return "order_processing"
	case KindValidation:
		return "validation"
	}
	return "internal"
}

// Error codes surfaced in error responses.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeAuthorization     = "AUTHORIZATION_ERROR"
	CodeResourceNotFound  = "RESOURCE_NOT_FOUND"
	CodeBusinessRule      = "BUSINESS_RULE_ERROR"
	CodeOrderProcessing   = "ORDER_PROCESSING_ERROR"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInvalidQuantity   = "INVALID_QUANTITY"
	CodeEmailExists       = "EMAIL_ALREADY_EXISTS"
	CodeInvalidCreds      = "INVALID_CREDENTIALS"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// OrderID is set on order processing failures once the order has an id.
	OrderID int64
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(resource, field string, value any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeResourceNotFound,
		Message: fmt.Sprintf("%s not found with %s: %v", resource, field, value),
	}
}

func BusinessRule(format string, args ...any) *Error {
	return &Error{Kind: KindBusinessRule, Code: CodeBusinessRule, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(productName string, available, requested int) *Error {
	return &Error{
		Kind:    KindBusinessRule,
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productName, requested, available),
	}
}

func InvalidQuantity(format string, args ...any) *Error {
	return &Error{Kind: KindBusinessRule, Code: CodeInvalidQuantity, Message: fmt.Sprintf(format, args...)}
}

func AccessDenied(format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Code: CodeAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Authentication(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

// OrderProcessing wraps an unexpected failure raised while creating an order.
func OrderProcessing(orderID int64, cause error) *Error {
	return &Error{
		Kind:    KindOrderProcessing,
		Code:    CodeOrderProcessing,
		Message: "failed to process order",
		OrderID: orderID,
		Err:     cause,
	}
}

func Validation(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message, Fields: fields}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsDomain reports whether err was raised deliberately by the domain layer.
func IsDomain(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr)
}

// ValidationErrors collects field messages before failing once.
type ValidationErrors []string

func (v *ValidationErrors) Add(field, format string, args ...any) {
	*v = append(*v, field+": "+fmt.Sprintf(format, args...))
}

func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return Validation("invalid input: "+strings.Join(v, "; "), v...)
}
