package middleware

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// emailTokenTTL is the lifetime of an email verification token.
const emailTokenTTL = 24 * time.Hour

// EmailClaims holds the JWT claims for email verification links.
type EmailClaims struct {
	UserID int64  `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateEmailToken creates a signed JWT embedded in the confirmation link
// sent to a new account's email address.
func GenerateEmailToken(secret []byte, userID int64, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(emailTokenTTL)

	claims := EmailClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "dialcheck",
			Subject:   email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseEmailToken validates a confirmation token and returns its claims.
func ParseEmailToken(secret []byte, tokenString string) (*EmailClaims, error) {
	claims := &EmailClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing email token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid email token")
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("invalid email token claims")
	}
	return claims, nil
}
