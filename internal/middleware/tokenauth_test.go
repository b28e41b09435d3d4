package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/auth/token"
)

var tokenTestConfig = token.Config{
	Key:      "0123456789abcdef0123456789abcdef",
	Issuer:   "keygate",
	Audience: "keygate-management",
}

func tokenRouter(t *testing.T) *gin.Engine {
	t.Helper()

	verifier, err := token.NewVerifier(tokenTestConfig)
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequireToken(verifier, nil))
	router.GET("/keys", func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no principal"})
			return
		}
		fromReqCtx, _ := token.PrincipalFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"owner_id":        principal.OwnerID,
			"request_ctx_set": fromReqCtx != nil,
		})
	})
	return router
}

func doBearer(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireToken(t *testing.T) {
	issuer, err := token.NewIssuer(tokenTestConfig)
	require.NoError(t, err)

	router := tokenRouter(t)

	t.Run("valid token", func(t *testing.T) {
		raw, err := issuer.Issue("owner-42", []string{"keys:manage"}, time.Minute)
		require.NoError(t, err)

		w := doBearer(router, "Bearer "+raw)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "owner-42")
		assert.Contains(t, w.Body.String(), `"request_ctx_set":true`)
	})

	t.Run("missing header", func(t *testing.T) {
		w := doBearer(router, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "bearer token required")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w := doBearer(router, "Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "bearer token required")
	})

	t.Run("garbage token", func(t *testing.T) {
		w := doBearer(router, "Bearer not.a.token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid token")
	})

	t.Run("expired token", func(t *testing.T) {
		now := time.Now().UTC()
		tok, err := jwt.NewBuilder().
			Subject("owner-42").
			Issuer(tokenTestConfig.Issuer).
			Audience([]string{tokenTestConfig.Audience}).
			IssuedAt(now.Add(-2 * time.Hour)).
			Expiration(now.Add(-time.Hour)).
			Build()
		require.NoError(t, err)

		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(tokenTestConfig.Key)))
		require.NoError(t, err)

		w := doBearer(router, "Bearer "+string(signed))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "token expired")
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "standard", header: "Bearer abc123", want: "abc123", wantOK: true},
		{name: "case insensitive scheme", header: "bearer abc123", want: "abc123", wantOK: true},
		{name: "extra whitespace", header: "Bearer   abc123  ", want: "abc123", wantOK: true},
		{name: "empty", header: "", wantOK: false},
		{name: "scheme only", header: "Bearer ", wantOK: false},
		{name: "wrong scheme", header: "Token abc123", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bearerToken(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
