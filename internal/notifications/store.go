package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a notification id does not resolve.
	ErrNotFound = errors.New("notification not found")

	// ErrNoParent is returned when neither appointment nor return is referenced.
	ErrNoParent = errors.New("notification requires an appointment or return reference")

	// ErrBothParents is returned when both parent references are set.
	ErrBothParents = errors.New("notification cannot reference both an appointment and a return")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the notification log.
type Store struct {
	db DB
}

// NewStore creates a notification store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("notifications: db required")
	}
	return &Store{db: db}
}

const columns = `id, tenant_id, appointment_id, appointment_return_id, type, channel, status,
	recipient_phone, message, retry_count,
	enqueued_at, sent_at, delivered_at, read_at, failed_at, failure_reason,
	created_at, updated_at`

// Create appends a notification row. Content fields are immutable afterwards.
func (s *Store) Create(ctx context.Context, n *Notification) error {
	if n.AppointmentID == nil && n.AppointmentReturnID == nil {
		return ErrNoParent
	}
	if n.AppointmentID != nil && n.AppointmentReturnID != nil {
		return ErrBothParents
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Channel == "" {
		n.Channel = ChannelWhatsApp
	}
	if n.Status == "" {
		n.Status = StatusPending
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointment_notifications (
			id, tenant_id, appointment_id, appointment_return_id, type, channel, status,
			recipient_phone, message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.TenantID, n.AppointmentID, n.AppointmentReturnID,
		string(n.Type), string(n.Channel), string(n.Status),
		n.RecipientPhone, n.Message, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifications: create: %w", err)
	}
	return nil
}

// ListForAppointment returns an appointment's notification log, oldest first.
func (s *Store) ListForAppointment(ctx context.Context, tenantID string, appointmentID uuid.UUID) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+`
		FROM appointment_notifications
		WHERE tenant_id = $1 AND appointment_id = $2
		ORDER BY created_at ASC`, tenantID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("notifications: list for appointment: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// FetchUnqueued returns pending notifications not yet handed to the
// delivery queue.
func (s *Store) FetchUnqueued(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+`
		FROM appointment_notifications
		WHERE enqueued_at IS NULL AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications: fetch unqueued: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ClaimEnqueue stamps enqueued_at, returning false if another dispatcher
// already claimed the row.
func (s *Store) ClaimEnqueue(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_notifications
		SET enqueued_at = now(), updated_at = now()
		WHERE id = $1 AND enqueued_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("notifications: claim enqueue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseEnqueue clears a claim whose publish did not go through, so the
// row becomes visible to FetchUnqueued again on the next drain.
func (s *Store) ReleaseEnqueue(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointment_notifications
		SET enqueued_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("notifications: release enqueue: %w", err)
	}
	return nil
}

// MarkSent records the delivery collaborator handing the message to the
// provider.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	return s.markStatus(ctx, id, `status = 'sent', sent_at = now()`)
}

// MarkDelivered records provider-confirmed delivery.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return s.markStatus(ctx, id, `status = 'delivered', delivered_at = now()`)
}

// MarkRead records a read receipt.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.markStatus(ctx, id, `status = 'read', read_at = now()`)
}

// MarkFailed records a delivery failure and bumps the retry counter.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_notifications
		SET status = 'failed', failed_at = now(), failure_reason = $1,
		    retry_count = retry_count + 1, updated_at = now()
		WHERE id = $2`, reason, id)
	if err != nil {
		return fmt.Errorf("notifications: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) markStatus(ctx context.Context, id uuid.UUID, set string) error {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE appointment_notifications
		SET %s, updated_at = now()
		WHERE id = $1`, set), id)
	if err != nil {
		return fmt.Errorf("notifications: mark status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotifications(rows pgx.Rows) ([]Notification, error) {
	var result []Notification
	for rows.Next() {
		var n Notification
		var typ, channel, status string
		if err := rows.Scan(
			&n.ID, &n.TenantID, &n.AppointmentID, &n.AppointmentReturnID,
			&typ, &channel, &status,
			&n.RecipientPhone, &n.Message, &n.RetryCount,
			&n.EnqueuedAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt, &n.FailedAt, &n.FailureReason,
			&n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("notifications: scan: %w", err)
		}
		n.Type = Type(typ)
		n.Channel = Channel(channel)
		n.Status = Status(status)
		result = append(result, n)
	}
	return result, rows.Err()
}
