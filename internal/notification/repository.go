package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
)

// Store is the persistence contract used by the dispatcher and handler.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	ListForRecipient(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, actor shared.Actor, at time.Time) error
}

// Repository stores notifications in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes a notification row.
func (r *Repository) Insert(ctx context.Context, n Notification) error {
	var recipientID, recipientRole *string
	if n.RecipientID != "" {
		recipientID = &n.RecipientID
	}
	if n.RecipientRole != "" {
		role := string(n.RecipientRole)
		recipientRole = &role
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO notifications
        (id, type, title, message, recipient_id, recipient_role, priority, quotation_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, string(n.Type), n.Title, n.Message, recipientID, recipientRole, string(n.Priority), n.QuotationID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForRecipient returns notifications addressed to the actor directly or to the actor's role.
func (r *Repository) ListForRecipient(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Notification, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT id, type, title, message, recipient_id, recipient_role, priority, quotation_id, created_at, read_at
        FROM notifications
        WHERE (recipient_id = $1 OR recipient_role = $2)`
	if filters.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	rows, err := r.pool.Query(ctx, query, actor.ID, string(actor.Role), limit, filters.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n             Notification
			typ, priority string
			recipientID   *string
			recipientRole *string
		)
		if err := rows.Scan(&n.ID, &typ, &n.Title, &n.Message, &recipientID, &recipientRole, &priority, &n.QuotationID, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		n.Priority = Priority(priority)
		if recipientID != nil {
			n.RecipientID = *recipientID
		}
		if recipientRole != nil {
			n.RecipientRole = shared.Role(*recipientRole)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps read_at on a notification visible to the actor.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, actor shared.Actor, at time.Time) error {
	var got uuid.UUID
	err := r.pool.QueryRow(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $4)
        WHERE id = $1 AND (recipient_id = $2 OR recipient_role = $3)
        RETURNING id`, id, actor.ID, string(actor.Role), at).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: notification %s", shared.ErrNotFound, id)
	}
	return err
}
