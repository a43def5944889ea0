package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	setupTokenType    = "setup"
	DefaultSetupTTL   = 15 * time.Minute
	setupTokenIssuer  = "admin-session"
	setupTokenSubject = "account-setup"
)

// MintSetupToken signs the short-lived token that unlocks POST /api/admin/setup.
func MintSetupToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("setup secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultSetupTTL
	}

	claims := jwt.MapClaims{
		"iss": setupTokenIssuer,
		"sub": setupTokenSubject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": setupTokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign setup token: %w", err)
	}
	return encoded, nil
}

func VerifySetupToken(secret, tokenStr string) error {
	if secret == "" || tokenStr == "" {
		return ErrInvalidSetupToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(setupTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrInvalidSetupToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != setupTokenType {
		return ErrInvalidSetupToken
	}
	return nil
}
