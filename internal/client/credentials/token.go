package credentials

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned for tokens that are not three dot-separated
// base64url segments carrying JSON claims.
var ErrMalformedToken = errors.New("malformed token")

// TokenInfo holds the claims the client reads from an access token. The
// signature is not checked; the server is the authority on validity.
type TokenInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CheckTokenFormat validates the token's structure only.
func CheckTokenFormat(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return ErrMalformedToken
		}
		if _, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p, "=")); err != nil {
			return ErrMalformedToken
		}
	}
	return nil
}

// InspectToken parses the token's claims without verifying the signature.
func InspectToken(token string) (TokenInfo, error) {
	if err := CheckTokenFormat(token); err != nil {
		return TokenInfo{}, err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, ErrMalformedToken
	}

	var info TokenInfo
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
