package escalation

import "strings"

// MessageForReason maps a logout or failure reason to the text shown to
// the user.
func MessageForReason(reason string) string {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "network"), strings.Contains(r, "unavailable"):
		return "Network connection lost. Please sign in again."
	case strings.Contains(r, "expired"), strings.Contains(r, "timeout"):
		return "Your session has expired. Please sign in again."
	case strings.Contains(r, "401"), strings.Contains(r, "403"),
		strings.Contains(r, "unauthorized"), strings.Contains(r, "forbidden"):
		return "Authentication failed. Please sign in again."
	default:
		return "Your session is no longer valid. Please sign in again."
	}
}
