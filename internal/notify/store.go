// Package notify is the engine's notification sink. Events are persisted
// to the notifications table; delivery is handled separately by the notify
// worker, so a slow or broken channel never touches the booking path.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/booking-engine/internal/booking"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Title     string
	Message   string
	Reference map[string]any
	Context   map[string]any
	Channel   string
	IsRead    bool
	IsSent    bool
	CreatedAt time.Time
	ReadAt    *time.Time
	SentAt    *time.Time
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Notify implements booking.Notifier by persisting the event. Delivery is
// deferred to the worker.
func (s *Store) Notify(ctx context.Context, ev booking.Event) error {
	reference, err := json.Marshal(ev.Reference)
	if err != nil {
		return fmt.Errorf("encode reference data: %w", err)
	}
	contextData, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("encode context data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message,
			reference_data, context_data, delivery_channel, is_read, is_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, now())
	`, uuid.New(), ev.UserID, ev.Type, ev.Title, ev.Message, reference, contextData, ev.Channel)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var reference, contextData []byte

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&reference,
		&contextData,
		&n.Channel,
		&n.IsRead,
		&n.IsSent,
		&n.CreatedAt,
		&n.ReadAt,
		&n.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	_ = json.Unmarshal(reference, &n.Reference)
	_ = json.Unmarshal(contextData, &n.Context)
	return &n, nil
}

const notificationCols = `id, user_id, type, title, message, reference_data,
	context_data, delivery_channel, is_read, is_sent, created_at, read_at, sent_at`

// ListForUser returns a user's notifications, newest first. isRead narrows
// to read or unread when non-nil.
func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, isRead *bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT ` + notificationCols + `
		FROM notifications
		WHERE user_id = $1
	`
	args := []any{userID}
	if isRead != nil {
		query += " AND is_read = $2"
		args = append(args, *isRead)
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkRead flags a notification as read for its owner.
func (s *Store) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = true,
		    read_at = now()
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// FindUnsent returns notifications awaiting delivery, oldest first, for the
// notify worker.
func (s *Store) FindUnsent(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationCols+`
		FROM notifications
		WHERE NOT is_sent
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkSent records a successful delivery attempt.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_sent = true,
		    sent_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}
