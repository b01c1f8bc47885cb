package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Claims represents JWT claims. The subject is the customer id.
type Claims struct {
	CustomerID string `json:"customer_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// JWTService issues and verifies HS256 access tokens.
type JWTService struct {
	secretKey         []byte
	issuer            string
	accessTokenExpiry time.Duration
}

func NewJWTService(secretKey, issuer string, accessExpiry time.Duration) *JWTService {
	return &JWTService{
		secretKey:         []byte(secretKey),
		issuer:            issuer,
		accessTokenExpiry: accessExpiry,
	}
}

// GenerateAccessToken creates a new access token
func (s *JWTService) GenerateAccessToken(customerID, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTokenExpiry)

	claims := Claims{
		CustomerID: customerID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   customerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns claims
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.CustomerID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
