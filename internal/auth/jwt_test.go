package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService("test-secret-key-for-testing-purposes", "eshop", 15*time.Minute)
}

func TestJWTService_GenerateAccessToken_Success(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.GenerateAccessToken("cust-123", RoleCustomer)

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
	assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))
}

func TestJWTService_ValidateAccessToken_Valid(t *testing.T) {
	service := newTestJWTService()

	token, _, err := service.GenerateAccessToken("cust-456", RoleAdmin)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)

	require.NoError(t, err)
	assert.Equal(t, "cust-456", claims.CustomerID)
	assert.Equal(t, "cust-456", claims.Subject)
	assert.Equal(t, "eshop", claims.Issuer)
	assert.True(t, claims.IsAdmin())
}

func TestJWTService_ValidateAccessToken_Expired(t *testing.T) {
	service := NewJWTService("test-secret", "eshop", time.Millisecond)

	token, _, err := service.GenerateAccessToken("cust-123", RoleCustomer)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := service.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_Invalid(t *testing.T) {
	service := newTestJWTService()

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not-a-valid-token"},
		{"malformed JWT", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTService_ValidateAccessToken_WrongSignature(t *testing.T) {
	service1 := NewJWTService("secret-key-1", "eshop", 15*time.Minute)
	service2 := NewJWTService("secret-key-2", "eshop", 15*time.Minute)

	token, _, err := service1.GenerateAccessToken("cust-123", RoleCustomer)
	require.NoError(t, err)

	claims, err := service2.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_WrongIssuer(t *testing.T) {
	other := NewJWTService("test-secret-key-for-testing-purposes", "someone-else", 15*time.Minute)

	token, _, err := other.GenerateAccessToken("cust-123", RoleCustomer)
	require.NoError(t, err)

	claims, err := newTestJWTService().ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_WrongAlgorithm(t *testing.T) {
	service := newTestJWTService()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		CustomerID: "cust-123",
		Role:       RoleCustomer,
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_MissingCustomer(t *testing.T) {
	service := newTestJWTService()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "eshop",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	tokenString, err := token.SignedString([]byte("test-secret-key-for-testing-purposes"))
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}
