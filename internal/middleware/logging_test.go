package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/observability"
)

func TestRequestID_Generates(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())

	var seenInContext string
	router.GET("/test", func(c *gin.Context) {
		seenInContext = observability.RequestIDFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headerID := w.Header().Get(HeaderXRequestID)
	require.NotEmpty(t, headerID)

	_, err := uuid.Parse(headerID)
	assert.NoError(t, err)
	assert.Equal(t, headerID, seenInContext)
}

func TestRequestID_ReusesInbound(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXRequestID, "proxy-assigned-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "proxy-assigned-id", w.Header().Get(HeaderXRequestID))
}

func TestLogging_PassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Logging(observability.NopLogger()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"created": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "created")
}

func TestLoggingWithConfig_SkipPaths(t *testing.T) {
	router := gin.New()
	router.Use(LoggingWithConfig(LoggingConfig{
		Logger:    observability.NopLogger(),
		SkipPaths: []string{"/healthz"},
	}))
	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRequestID_Empty(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	assert.Empty(t, GetRequestID(c))
}
