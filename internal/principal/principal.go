// Package principal extracts the authenticated identity supplied by the
// upstream auth layer. This service trusts that the gateway has already
// verified credentials; it only requires that the identity headers are
// present on routes that need them.
package principal

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the upstream gateway.
const (
	HeaderPrincipal = "X-Principal-ID"
	HeaderOperator  = "X-Operator-ID"
)

const (
	ctxUID      = "principalUID"
	ctxOperator = "operatorID"
)

// RequirePrincipal ensures the request carries the principal the event
// concerns. Aborts with 401 when the header is missing.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(HeaderPrincipal)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Missing " + HeaderPrincipal + " header",
			})
			return
		}
		c.Set(ctxUID, uid)
		c.Next()
	}
}

// RequireOperator ensures the request carries an operator identity for
// resolution actions.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := c.GetHeader(HeaderOperator)
		if op == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Missing " + HeaderOperator + " header",
			})
			return
		}
		c.Set(ctxOperator, op)
		c.Next()
	}
}

// UID returns the authenticated principal id, or "" if not set.
func UID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// Operator returns the authenticated operator id, or "" if not set.
func Operator(c *gin.Context) string {
	return c.GetString(ctxOperator)
}
