package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims carries the identity of a calling internal service.
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("security: invalid token")

// MintServiceToken issues a signed HS256 token for an internal service.
func MintServiceToken(secret, service string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := ServiceClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseServiceToken validates a signed service token and returns its claims.
func ParseServiceToken(secret, tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Service) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
