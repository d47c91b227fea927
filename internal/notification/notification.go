package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/hospital-booking/internal/db"
)

var ErrNotFound = errors.New("notification not found")

// Notification is the durable inbox entry shown in a user's bell list.
type Notification struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	AppointmentID *int64    `json:"appointmentId,omitempty"`
	IsRead        bool      `json:"isRead"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Insert writes n on q and fills its ID and CreatedAt. Pass the caller's
// transaction so the entry commits together with the change it describes.
func Insert(ctx context.Context, q db.DBTX, n *Notification) error {
	row := q.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, content, appointment_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, false, now())
		RETURNING id, created_at
	`, n.UserID, n.Title, n.Content, n.AppointmentID)
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.IsRead = false
	return nil
}

// Store is the read side used by the inbox endpoints.
type Store interface {
	List(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, int, error)
	MarkRead(ctx context.Context, id, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

type PgStore struct {
	q db.DBTX
}

func NewPgStore(q db.DBTX) *PgStore {
	return &PgStore{q: q}
}

func (s *PgStore) List(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	var total int
	if err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR is_read = false)
	`, userID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, user_id, title, content, appointment_id, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR is_read = false)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.AppointmentID, &n.IsRead, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan notifications: %w", err)
	}
	return items, total, nil
}

func (s *PgStore) MarkRead(ctx context.Context, id, userID int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE user_id = $1 AND is_read = false
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
