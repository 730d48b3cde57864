package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crosspost/infrastructure/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Auth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func call(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidToken(t *testing.T) {
	tok, err := utils.GenerateToken("u42", time.Hour, secret)
	require.NoError(t, err)

	w := call(newRouter(), "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u42", w.Body.String())
}

func TestAuth_IssuerFallback(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{Issuer: "legacy-user"}).SignedString([]byte(secret))
	require.NoError(t, err)

	w := call(newRouter(), "Bearer "+raw)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "legacy-user", w.Body.String())
}

func TestAuth_Rejections(t *testing.T) {
	expired, err := utils.GenerateToken("u1", -time.Minute, secret)
	require.NoError(t, err)
	wrongKey, err := utils.GenerateToken("u1", time.Hour, "other")
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing header", "", "Unauthorized"},
		{"not bearer", "Basic abc", "Unauthorized"},
		{"malformed", "Bearer not-a-jwt", "That's not even a token"},
		{"expired", "Bearer " + expired, "Timing is everything"},
		{"wrong key", "Bearer " + wrongKey, "Couldn't handle this token"},
		{"no subject", "Bearer " + noSubject, "Token carries no subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(newRouter(), tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.msg)
		})
	}
}
