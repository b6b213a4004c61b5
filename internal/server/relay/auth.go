package relay

import (
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"k8s.io/utils/clock"
)

// TokenAuthenticator accepts unexpired access tokens signed with secret.
func TokenAuthenticator(secret []byte, clk clock.PassiveClock) Authenticator {
	return func(token string) (string, error) {
		claims, err := auth.ParseToken(token, secret, clk.Now())
		if err != nil {
			return "", err
		}
		return claims.Principal().UserID, nil
	}
}
