package middleware

import (
	"context"

	"wekapay-settlement/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Authentication happens upstream; the gateway forwards the verified
// identity in these headers.
const (
	HeaderAccountID   = "X-Account-ID"
	HeaderAccountRole = "X-Account-Role"
)

const (
	RoleFan     = "fan"
	RoleCreator = "creator"
)

type accountKey struct{}
type roleKey struct{}

// Account extracts the caller identity into the request context, rejecting
// requests that arrive without one.
func Account() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(HeaderAccountID)
		if accountID == "" {
			err := errutil.Unauthorized("missing account identity", nil)
			c.AbortWithStatusJSON(errutil.StatusUnauthorized.HTTPStatus(), err.(errutil.BaseError).JSON())
			return
		}

		role := c.GetHeader(HeaderAccountRole)
		if role == "" {
			role = RoleFan
		}

		ctx := context.WithValue(c.Request.Context(), accountKey{}, accountID)
		ctx = context.WithValue(ctx, roleKey{}, role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole rejects callers whose forwarded role does not match. It must
// run after Account.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c.Request.Context()) != role {
			err := errutil.Forbidden("insufficient role", nil)
			c.AbortWithStatusJSON(errutil.StatusForbidden.HTTPStatus(), err.(errutil.BaseError).JSON())
			return
		}
		c.Next()
	}
}

// AccountID returns the authenticated account ID, or "" when absent.
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountKey{}).(string)
	return id
}

// Role returns the caller role, defaulting to fan.
func Role(ctx context.Context) string {
	role, ok := ctx.Value(roleKey{}).(string)
	if !ok {
		return RoleFan
	}
	return role
}
