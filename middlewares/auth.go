package middlewares

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"order-fulfillment/apperrors"
	"order-fulfillment/models"
	"order-fulfillment/utils"
)

const principalKey = "principal"

// PrincipalLoader reloads a token's subject so revoked roles and deleted
// accounts stop working before the token expires.
type PrincipalLoader interface {
	CurrentPrincipal(ctx context.Context, userID int64) (models.Principal, error)
}

// AuthMiddleware requires a valid bearer token and stores the caller's
// Principal on the context. With a nil loader the roles in the token are
// trusted as issued.
func AuthMiddleware(secret string, loader PrincipalLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "Authorization header is required")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "Invalid token format, must be 'Bearer <token>'")
			return
		}

		principal, err := utils.ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}
		if loader != nil {
			current, err := loader.CurrentPrincipal(c.Request.Context(), principal.UserID)
			if err != nil {
				_ = c.Error(err)
				c.Abort()
				return
			}
			principal = current
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperrors.Authentication(apperrors.CodeAuthentication, message))
	c.Abort()
}

// PrincipalFrom returns the caller set by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}
