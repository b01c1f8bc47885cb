package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/auth"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key", "eshop", 15*time.Minute)
}

// serve runs one request through mw and records the claims the handler saw.
func serve(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, *auth.Claims) {
	t.Helper()
	e := echo.New()
	var captured *auth.Claims
	e.GET("/protected", func(c echo.Context) error {
		captured, _ = ClaimsFromCtx(c)
		return c.NoContent(http.StatusOK)
	}, mw)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, captured
}

func TestJWTMiddleware_ValidToken_Header(t *testing.T) {
	jwtService := newTestJWTService()
	token, _, err := jwtService.GenerateAccessToken("cust-123", auth.RoleCustomer)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, claims := serve(t, JWTMiddleware(jwtService), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "cust-123", claims.CustomerID)
	assert.Equal(t, auth.RoleCustomer, claims.Role)
}

func TestJWTMiddleware_ValidToken_Cookie(t *testing.T) {
	jwtService := newTestJWTService()
	token, _, err := jwtService.GenerateAccessToken("cust-456", auth.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec, claims := serve(t, JWTMiddleware(jwtService), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "cust-456", claims.CustomerID)
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, claims := serve(t, JWTMiddleware(newTestJWTService()), req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTMiddleware_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec, claims := serve(t, JWTMiddleware(nil), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, claims)
}

func TestRequireSelfOrAdmin(t *testing.T) {
	jwtService := newTestJWTService()
	customer, _, err := jwtService.GenerateAccessToken("cust-1", auth.RoleCustomer)
	require.NoError(t, err)
	admin, _, err := jwtService.GenerateAccessToken("ops-1", auth.RoleAdmin)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/customers/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, JWTMiddleware(jwtService), RequireSelfOrAdmin("id"))

	tests := []struct {
		name  string
		token string
		path  string
		want  int
	}{
		{"own orders", customer, "/customers/cust-1", http.StatusOK},
		{"someone else", customer, "/customers/cust-2", http.StatusForbidden},
		{"admin", admin, "/customers/cust-2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
