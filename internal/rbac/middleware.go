package rbac

import (
	"net/http"

	"prank-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOwner requires an owner_id in context. Ownership of individual records is
// checked by the handlers.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := auth.OwnerID(c.Request.Context())
		if err != nil || oid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "owner_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses the check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
