package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"busticket/internal/logger"
	"busticket/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubUsers map[int64]*models.User

func (s stubUsers) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if id == 500 {
		return nil, errors.New("db down")
	}
	return s[id], nil
}

func identityRouter(secret string) *gin.Engine {
	return identityRouterWith(secret, nil)
}

func identityRouterWith(secret string, users UserLookup) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Identity(secret, users))
	r.GET("/whoami", func(c *gin.Context) {
		id := UserID(c)
		ctxID, _ := logger.UserIDFromContext(c.Request.Context())
		if id == nil {
			c.JSON(http.StatusOK, gin.H{"guest": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": *id, "ctx_user_id": ctxID})
	})
	return r
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestIdentity_Guest(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	identityRouter(testSecret).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"guest":true}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestIdentity_ValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), strconv.Itoa(42), time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-1")
	identityRouter(testSecret).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42,"ctx_user_id":42}`, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}

func TestIdentity_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		header string
		secret string
	}{
		{"not bearer", "Basic dXNlcjpwYXNz", testSecret},
		{"wrong key", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), "42", time.Now().Add(time.Hour)), testSecret},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "42", time.Now().Add(-time.Hour)), testSecret},
		{"subject not numeric", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "alice", time.Now().Add(time.Hour)), testSecret},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), "42", time.Now().Add(time.Hour)), testSecret},
		{"no secret configured", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "42", time.Now().Add(time.Hour)), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.Header.Set("Authorization", tt.header)
			identityRouter(tt.secret).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
		})
	}
}

func TestIdentity_UserLookup(t *testing.T) {
	users := stubUsers{
		42: {UserID: 42, IsActive: true},
		43: {UserID: 43, IsActive: false},
	}
	tests := []struct {
		sub  string
		code int
	}{
		{"42", http.StatusOK},
		{"43", http.StatusUnauthorized},
		{"44", http.StatusUnauthorized},
		{"500", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), tt.sub, time.Now().Add(time.Hour))
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			identityRouterWith(testSecret, users).ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, 2))
	r.GET("/cb", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/cb", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// other clients have their own bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cb", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.POST("/api/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/orders", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
