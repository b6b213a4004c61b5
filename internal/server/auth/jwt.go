// Package auth mints and verifies the server's HS256 access tokens.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the subject's profile and the
// id of the server-side session the token belongs to.
type Claims struct {
	jwt.RegisteredClaims
	Username    string   `json:"username"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sid"`
}

// Subject is what a token is issued for.
type Subject struct {
	UserID      string
	Username    string
	Role        string
	Permissions []string
	SessionID   string
}

// Principal returns the Subject the token was issued for.
func (c *Claims) Principal() Subject {
	return Subject{
		UserID:      c.RegisteredClaims.Subject,
		Username:    c.Username,
		Role:        c.Role,
		Permissions: c.Permissions,
		SessionID:   c.SessionID,
	}
}

// GenerateToken signs a token for sub valid from issuedAt for validity.
func GenerateToken(sub Subject, secretKey []byte, issuedAt time.Time, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(validity)),
		},
		Username:    sub.Username,
		Role:        sub.Role,
		Permissions: sub.Permissions,
		SessionID:   sub.SessionID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies the signature and expiry of tokenString as of now.
// It returns common.ErrTokenExpired for an expired but otherwise valid
// token and common.ErrInvalidToken for anything else.
func ParseToken(tokenString string, secretKey []byte, now time.Time) (*Claims, error) {
	return parse(tokenString, secretKey,
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
}

// ParseTokenAllowExpired verifies only the signature. It is used where the
// server session, not the token, decides whether the caller may proceed.
func ParseTokenAllowExpired(tokenString string, secretKey []byte) (*Claims, error) {
	return parse(tokenString, secretKey, jwt.WithoutClaimsValidation())
}

func parse(tokenString string, secretKey []byte, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.RegisteredClaims.Subject == "" || claims.SessionID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
