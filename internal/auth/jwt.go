package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bouncer/internal/support"
)

func secret() []byte {
	return []byte(support.GetEnv("ADMIN_JWT_SECRET", ""))
}

// Enabled reports whether admin authentication is configured. With no
// secret set the admin surface is open, which is the expected setup
// when the service sits behind an internal network boundary.
func Enabled() bool {
	return len(secret()) > 0
}

// GenerateJWT issues an admin token, used by operators and tests.
func GenerateJWT(subject string, ttl time.Duration) (string, error) {
	if !Enabled() {
		return "", fmt.Errorf("auth: ADMIN_JWT_SECRET is not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})

	return token.SignedString(secret())
}

// ValidateJWT parses and verifies an HS256 token against the admin
// secret.
func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	return claims, nil
}
