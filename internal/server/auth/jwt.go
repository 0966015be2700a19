// Package auth mints and verifies the HS256 access tokens that carry a
// caller's session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the session the token grants.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"uid"`
	HouseholdID string `json:"hid,omitempty"`
}

func GenerateToken(s domain.Session, secretKey []byte, validityDuration time.Duration) (string, error) {
	if s.UserID == "" {
		return "", fmt.Errorf("generate token: %w", common.ErrInvalidScope)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:      s.UserID,
		HouseholdID: s.HouseholdID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenString, nil
}

// SessionFromToken verifies tokenString and returns its session. Expired
// tokens fail with common.ErrTokenExpired, anything else that does not
// verify with common.ErrInvalidToken.
func SessionFromToken(tokenString string, secretKey []byte) (domain.Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Session{}, common.ErrTokenExpired
		}
		return domain.Session{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return domain.Session{}, common.ErrInvalidToken
	}

	return domain.Session{UserID: claims.UserID, HouseholdID: claims.HouseholdID}, nil
}

// UnverifiedSession reads the session from a token without checking its
// signature. Devices use it to scope their local replica; the server always
// verifies.
func UnverifiedSession(tokenString string) (domain.Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return domain.Session{}, common.ErrInvalidToken
	}
	return domain.Session{UserID: claims.UserID, HouseholdID: claims.HouseholdID}, nil
}
