package credentials

import (
	"slices"
	"strings"
	"time"
)

// Subject is the authenticated user's profile.
type Subject struct {
	Username    string    `json:"username"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	LastLogin   time.Time `json:"last_login,omitempty"`
}

// IsAdministrator reports whether any permission grants administrative
// access ("*" or a key mentioning admin).
func (s Subject) IsAdministrator() bool {
	if strings.EqualFold(s.Role, "administrator") {
		return true
	}
	for _, p := range s.Permissions {
		if p == "*" || strings.Contains(strings.ToLower(p), "admin") {
			return true
		}
	}
	return false
}

// HasPermission reports whether p is granted. "*" grants everything.
func (s Subject) HasPermission(p string) bool {
	return slices.Contains(s.Permissions, "*") || slices.Contains(s.Permissions, p)
}

// Credential is the access token plus the user it was issued to.
type Credential struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Subject     Subject
	FirstLogin  bool
}

// Complete reports whether both halves of the credential are present.
func (c *Credential) Complete() bool {
	return c != nil && c.AccessToken != "" && c.Subject.Username != ""
}
