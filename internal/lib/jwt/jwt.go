package jwt

import (
	"errors"
	"fmt"
	"time"

	"account_service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the subset of access-token claims downstream callers care about.
type Claims struct {
	Email string
	Name  string
}

// NewToken mints a signed access token asserting the account identity.
// Expiry is always issued-at plus ttl.
func NewToken(account models.Account, secret string, ttl time.Duration) (string, error) {
	const op = "lib.jwt.NewToken"

	now := time.Now()

	claims := jwt.MapClaims{
		"sub":  account.Email,
		"name": account.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ParseToken validates a signed access token and returns its claims.
func ParseToken(tokenStr, secret string) (Claims, error) {
	const op = "lib.jwt.ParseToken"

	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%s: %w", op, err)
	}

	if !parsed.Valid {
		return Claims{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%s: missing sub claim", op)
	}

	name, _ := claims["name"].(string)

	return Claims{Email: sub, Name: name}, nil
}
