package middleware_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-relay/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var fromCtx, fromGin string
	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/", func(c *gin.Context) {
		fromCtx = middleware.RequestIDFromContext(c.Request.Context())
		fromGin = c.GetString(middleware.RequestIDKey)
		c.Status(http.StatusNoContent)
	})

	t.Run("generates new request ID when not present", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rec.Header().Get(middleware.RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, fromCtx)
		assert.Equal(t, id, fromGin)
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "existing-request-id-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, "existing-request-id-123", rec.Header().Get(middleware.RequestIDHeader))
		assert.Equal(t, "existing-request-id-123", fromCtx)
	})

	t.Run("replaces oversized header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, strings.Repeat("a", 200))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		_, err := uuid.Parse(rec.Header().Get(middleware.RequestIDHeader))
		assert.NoError(t, err)
	})
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, middleware.RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	newRouter := func(n int64) *gin.Engine {
		router := gin.New()
		router.POST("/", middleware.BodyLimit(n), func(c *gin.Context) {
			_, err := io.ReadAll(c.Request.Body)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusOK)
		})
		return router
	}

	tests := []struct {
		name  string
		limit int64
		size  int
		want  int
	}{
		{"under limit", 16, 8, http.StatusOK},
		{"at limit", 16, 16, http.StatusOK},
		{"over limit", 16, 17, http.StatusRequestEntityTooLarge},
		{"disabled", 0, 1 << 12, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", tt.size)))
			newRouter(tt.limit).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("any origin by default", func(t *testing.T) {
		handler := middleware.CORS(nil)(ok)

		req := httptest.NewRequest(http.MethodPost, "/send-email", nil)
		req.Header.Set("Origin", "https://landing.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		handler := middleware.CORS([]string{"*"})(ok)

		req := httptest.NewRequest(http.MethodOptions, "/send-email", nil)
		req.Header.Set("Origin", "https://landing.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Less(t, rec.Code, 300)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("restricted origins", func(t *testing.T) {
		handler := middleware.CORS([]string{"https://landing.example"})(ok)

		req := httptest.NewRequest(http.MethodPost, "/send-email", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
