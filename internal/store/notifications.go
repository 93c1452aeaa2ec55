package store

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// CreateNotification stores a notification and queues its email in one transaction.
// When (recipient, dedupe key) already exists the stored notification is loaded
// into n and created is false.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if len(n.Metadata) == 0 {
		n.Metadata = types.JSONText("{}")
	}

	created := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		inserted, err := getOptional(ctx, tx, n, `
			INSERT INTO notifications (recipient_id, type, title, message, status, metadata, dedupe_key)
			VALUES ($1, $2, $3, $4, 'UNREAD', $5, $6)
			ON CONFLICT (recipient_id, dedupe_key) DO NOTHING
			RETURNING *`,
			n.RecipientID, n.Type, n.Title, n.Message, n.Metadata, n.DedupeKey)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		if !inserted {
			return getOne(ctx, tx, n, "notification", n.DedupeKey,
				"SELECT * FROM notifications WHERE recipient_id = $1 AND dedupe_key = $2",
				n.RecipientID, n.DedupeKey)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO email_outbox (notification_id, status, next_attempt_at) VALUES ($1, 'pending', NOW())",
			n.ID); err != nil {
			return fmt.Errorf("failed to queue notification email: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

// ListNotifications pages through a recipient's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, recipientID int64, q models.NotificationQuery) ([]models.Notification, error) {
	query := "SELECT * FROM notifications WHERE recipient_id = $1"
	if q.UnreadOnly {
		query += " AND status = 'UNREAD'"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3"

	notifications := []models.Notification{}
	err := s.db.SelectContext(ctx, &notifications, query, recipientID, q.Limit, q.Offset)
	return notifications, err
}

// MarkNotificationRead marks one of the recipient's notifications as read
func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID int64) (*models.Notification, error) {
	var n models.Notification
	err := getOne(ctx, s.db, &n, "notification", id, `
		UPDATE notifications SET status = 'READ', updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2
		RETURNING *`, id, recipientID)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllNotificationsRead marks every unread notification of the recipient as read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = 'READ', updated_at = NOW() WHERE recipient_id = $1 AND status = 'UNREAD'",
		recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// CountUnreadNotifications counts the recipient's unread notifications
func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND status = 'UNREAD'", recipientID)
	return n, err
}

// LeaseOutbox claims up to limit due outbox rows for owner until the lease expires.
// Rows whose previous lease expired are claimed again. Each lease counts as an attempt.
func (s *Store) LeaseOutbox(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]models.OutboxDelivery, error) {
	deliveries := []models.OutboxDelivery{}
	err := s.db.SelectContext(ctx, &deliveries, `
		WITH leased AS (
			UPDATE email_outbox o SET
				status = 'leased',
				lease_owner = $1,
				lease_expires_at = NOW() + make_interval(secs => $3),
				attempts = o.attempts + 1,
				updated_at = NOW()
			WHERE o.id IN (
				SELECT id FROM email_outbox
				WHERE (status = 'pending' AND next_attempt_at <= NOW())
				   OR (status = 'leased' AND lease_expires_at < NOW())
				ORDER BY next_attempt_at, id
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING o.id, o.notification_id, o.attempts
		)
		SELECT l.id AS outbox_id, l.notification_id, l.attempts,
		       n.type, n.title, n.message, n.created_at,
		       u.email AS recipient_email, u.name AS recipient_name
		FROM leased l
		JOIN notifications n ON n.id = l.notification_id
		JOIN users u ON u.id = n.recipient_id
		ORDER BY l.id`, owner, limit, leaseTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to lease outbox: %w", err)
	}
	return deliveries, nil
}

// MarkOutboxSent records a delivered email on both the outbox row and its notification
func (s *Store) MarkOutboxSent(ctx context.Context, outboxID, notificationID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE email_outbox SET status = 'sent', sent_at = NOW(), lease_owner = NULL,
				lease_expires_at = NULL, last_error = NULL, updated_at = NOW()
			WHERE id = $1`, outboxID); err != nil {
			return fmt.Errorf("failed to mark outbox %d sent: %w", outboxID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE notifications SET is_email_sent = TRUE, email_sent_at = NOW(), updated_at = NOW()
			WHERE id = $1`, notificationID); err != nil {
			return fmt.Errorf("failed to mark notification %d emailed: %w", notificationID, err)
		}
		return nil
	})
}

// RescheduleOutbox releases the lease and schedules another attempt
func (s *Store) RescheduleOutbox(ctx context.Context, outboxID int64, lastError string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_outbox SET status = 'pending', next_attempt_at = $2, last_error = $3,
			lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, outboxID, next, lastError)
	if err != nil {
		return fmt.Errorf("failed to reschedule outbox %d: %w", outboxID, err)
	}
	return requireRow(res.RowsAffected, "outbox", outboxID)
}

// FailOutbox gives up on an outbox row
func (s *Store) FailOutbox(ctx context.Context, outboxID int64, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_outbox SET status = 'failed', last_error = $2,
			lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, outboxID, lastError)
	if err != nil {
		return fmt.Errorf("failed to fail outbox %d: %w", outboxID, err)
	}
	return requireRow(res.RowsAffected, "outbox", outboxID)
}

func requireRow(rowsAffected func() (int64, error), entity string, id int64) error {
	n, err := rowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("%s not found: %d", entity, id)
	}
	return nil
}
