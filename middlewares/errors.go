package middlewares

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Status           int               `json:"status"`
	Message          string            `json:"message"`
	ErrorCode        string            `json:"error_code"`
	Timestamp        time.Time         `json:"timestamp"`
	Path             string            `json:"path"`
	Method           string            `json:"method"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
}

func statusFor(e *apperrors.Error) int {
	switch e.Kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindBusinessRule, apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAccessDenied:
		return http.StatusForbidden
	case apperrors.KindAuthentication:
		if e.Code == apperrors.CodeEmailExists {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case apperrors.KindOrderProcessing:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ErrorHandler turns the last error attached by a handler into an
// ErrorResponse. Unclassified errors are logged in full and answered with a
// generic message.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		err := last.Err

		resp := ErrorResponse{
			Timestamp: time.Now().UTC(),
			Path:      c.Request.URL.Path,
			Method:    c.Request.Method,
		}

		var (
			appErr  *apperrors.Error
			vErrs   validator.ValidationErrors
			syntax  *json.SyntaxError
			typeErr *json.UnmarshalTypeError
		)
		switch {
		case errors.As(err, &appErr):
			resp.Status = statusFor(appErr)
			resp.ErrorCode = appErr.Code
			resp.Message = appErr.Message
			if appErr.Kind == apperrors.KindValidation && len(appErr.Fields) > 0 {
				resp.ValidationErrors = fieldMessages(appErr.Fields, appErr.Message)
			}
			if appErr.Kind == apperrors.KindOrderProcessing {
				logger.Error("Order processing failed",
					zap.Int64("order_id", appErr.OrderID),
					zap.String("path", resp.Path),
					zap.Error(err),
				)
			}
		case errors.As(err, &vErrs):
			resp.Status = http.StatusBadRequest
			resp.ErrorCode = apperrors.CodeValidation
			resp.Message = "Validation failed"
			resp.ValidationErrors = make(map[string]string, len(vErrs))
			for _, fe := range vErrs {
				resp.ValidationErrors[jsonField(fe)] = describe(fe)
			}
		case errors.As(err, &syntax), errors.As(err, &typeErr),
			errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			resp.Status = http.StatusBadRequest
			resp.ErrorCode = apperrors.CodeValidation
			resp.Message = "Malformed request body"
		default:
			logger.Error("Unhandled error",
				zap.String("method", resp.Method),
				zap.String("path", resp.Path),
				zap.Error(err),
			)
			resp.Status = http.StatusInternalServerError
			resp.ErrorCode = "INTERNAL_ERROR"
			resp.Message = "An unexpected error occurred"
		}

		c.JSON(resp.Status, resp)
	}
}

// fieldMessages splits "field: message" entries collected by the services.
// Bare field names get the error's own message.
func fieldMessages(fields []string, message string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		name, msg, ok := strings.Cut(f, ": ")
		if !ok {
			out[f] = message
			continue
		}
		out[name] = msg
	}
	return out
}

func jsonField(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.StructField()
	}
	return snakeCase(name)
}

// snakeCase turns a Go field name such as ProductID into product_id. It only
// applies when no json tag name was registered with the validator.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "dive":
		return "is invalid"
	}
	return fmt.Sprintf("failed on the %s rule", fe.Tag())
}
