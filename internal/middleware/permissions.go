package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/audit"
)

// RequirePermission returns a middleware that rejects requests whose key
// does not carry the permission. It must run after RequireAPIKey.
func RequirePermission(permission string, auditor audit.Logger) gin.HandlerFunc {
	return requirePermissions([]string{permission}, true, auditor)
}

// RequireAnyPermission accepts keys carrying at least one of the
// permissions.
func RequireAnyPermission(auditor audit.Logger, permissions ...string) gin.HandlerFunc {
	return requirePermissions(permissions, false, auditor)
}

// RequireAllPermissions accepts only keys carrying every permission.
func RequireAllPermissions(auditor audit.Logger, permissions ...string) gin.HandlerFunc {
	return requirePermissions(permissions, true, auditor)
}

func requirePermissions(permissions []string, requireAll bool, auditor audit.Logger) gin.HandlerFunc {
	if auditor == nil {
		auditor = audit.NewNoopLogger()
	}

	return func(c *gin.Context) {
		info, ok := GetKeyInfo(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key authentication required",
			})
			return
		}

		var allowed bool
		if requireAll {
			allowed = info.Permissions.HasAll(permissions...)
		} else {
			allowed = info.Permissions.HasAny(permissions...)
		}

		if !allowed {
			resource := &audit.Resource{
				Type:   "endpoint",
				Path:   c.Request.URL.Path,
				Method: c.Request.Method,
			}
			auditor.LogAuthorization(c.Request.Context(), audit.OutcomeDenied, auditSubject(c, info), resource)

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": permissionDeniedMessage(permissions, requireAll),
			})
			return
		}

		c.Next()
	}
}

func permissionDeniedMessage(permissions []string, requireAll bool) string {
	if len(permissions) == 1 {
		return fmt.Sprintf("Permission '%s' required", permissions[0])
	}
	if requireAll {
		return fmt.Sprintf("Permissions '%s' required", strings.Join(permissions, "', '"))
	}
	return fmt.Sprintf("One of permissions '%s' required", strings.Join(permissions, "', '"))
}
