package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e models.SessionEvent) (models.SessionEvent, error) {
	query := `INSERT INTO session_events (kind, reason, username, created_at) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, string(e.Kind), e.Reason, e.Username, e.At.UnixMilli())
	if err != nil {
		return e, fmt.Errorf("failed to append session event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return e, fmt.Errorf("failed to get session event id: %w", err)
	}
	e.ID = id
	return e, nil
}

func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]models.SessionEvent, error) {
	query := `SELECT id, kind, reason, username, created_at FROM (
			SELECT id, kind, reason, username, created_at FROM session_events
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select session events: %w", err)
	}
	defer rows.Close()

	var result []models.SessionEvent
	for rows.Next() {
		var (
			item models.SessionEvent
			kind string
			at   int64
		)
		if err := rows.Scan(&item.ID, &kind, &item.Reason, &item.Username, &at); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		item.Kind = models.EventKind(kind)
		item.At = time.UnixMilli(at)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_events WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune session events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
