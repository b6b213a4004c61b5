// Package events stores the client's local session journal: logins,
// refreshes, logouts, idle timeouts and escalations, newest last.
//
// The journal is append-only from the application's point of view;
// Prune keeps it bounded.
package events

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
)

// Repository describes the session journal.
type Repository interface {
	// Append stores e and returns it with ID populated.
	Append(ctx context.Context, e models.SessionEvent) (models.SessionEvent, error)

	// Recent returns up to limit events, oldest first.
	Recent(ctx context.Context, limit int) ([]models.SessionEvent, error)

	// Prune removes events recorded before the given instant and reports how
	// many rows were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
