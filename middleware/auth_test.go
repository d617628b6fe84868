package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/case-funding-ledger/config"
	utils "github.com/phillip/case-funding-ledger/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", AuthMiddleware(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	r := newEngine(cfg)
	uid := primitive.NewObjectID().Hex()

	admin, err := utils.GenerateToken("secret", uid, "admin", time.Hour)
	require.NoError(t, err)
	odd, err := utils.GenerateToken("secret", uid, "superuser", time.Hour)
	require.NoError(t, err)
	badID, err := utils.GenerateToken("secret", "not-an-id", "admin", time.Hour)
	require.NoError(t, err)
	foreign, err := utils.GenerateToken("other", uid, "admin", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantRole string
	}{
		{"admin token", "Bearer " + admin, http.StatusOK, "admin"},
		{"unknown role is a donor", "Bearer " + odd, http.StatusOK, "donor"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid user id", "Bearer " + badID, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantRole != "" {
				assert.Contains(t, w.Body.String(), `"role":"`+tt.wantRole+`"`)
				assert.Contains(t, w.Body.String(), uid)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	r := newEngine(&config.Config{JWTSecret: "secret"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
