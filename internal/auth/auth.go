package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenGenerator issues and checks operator access tokens.
type TokenGenerator interface {
	GenerateAccessToken(username string) (token string, expiresAt time.Time, err error)
	ValidateToken(tokenString string) (*Claims, error)
}

// CredentialStore looks up the bcrypt hash for an operator.
type CredentialStore interface {
	GetPasswordForUsername(username string) (passwordHash string, err error)
}

type AuthTokens struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims represents JWT token claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	Secret         []byte
	AccessTokenTTL time.Duration
	Issuer         string
	now            func() time.Time
}

const (
	DefaultAccessTokenTTL = 15 * time.Minute
	tokenIssuer           = "skillpay-gateway"
)
