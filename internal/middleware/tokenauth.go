package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/auth/token"
	"github.com/arshealth/keygate/internal/observability"
)

// RequireToken returns the management plane authentication middleware. It
// expects a bearer token in the Authorization header, verifies it, and
// stashes the resulting principal in the gin and request context.
func RequireToken(verifier token.Verifier, logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.Request.Header.Get("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "bearer token required",
			})
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			message := "invalid token"
			if errors.Is(err, token.ErrTokenExpired) {
				message = "token expired"
			}
			logger.Debug("management token rejected", observability.Error(err))

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Request = c.Request.WithContext(token.ContextWithPrincipal(c.Request.Context(), principal))

		c.Next()
	}
}

// GetPrincipal returns the management principal from the gin context.
func GetPrincipal(c *gin.Context) (*token.Principal, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*token.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
