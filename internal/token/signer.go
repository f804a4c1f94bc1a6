package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wallet-auth-service/internal/config"
)

var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims bind an authenticated user id to the network the service
// is running against, so a TESTNET credential can never be replayed on
// MAINNET.
type SessionClaims struct {
	UID     string `json:"uid"`
	Network string `json:"network"`
	jwt.RegisteredClaims
}

// Signer mints and verifies session credentials.
type Signer struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewSigner(cfg config.JWTConfig) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("jwt token TTL must be positive")
	}
	return &Signer{
		secret:   []byte(cfg.Secret),
		tokenTTL: cfg.TokenTTL,
	}, nil
}

// Issue mints a signed, time-scoped credential for the user.
func (s *Signer) Issue(userID, network string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UID:     userID,
		Network: network,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a credential and returns its claims.
func (s *Signer) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
