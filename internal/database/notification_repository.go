package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationRepository handles notification rows.
type NotificationRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlx.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts a notification row and fills in its generated ID
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (message, complaint_id, citizen_id, staff_id, admin_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if err := r.db.GetContext(ctx, &n.ID, query,
		n.Message, n.ComplaintID, n.CitizenID, n.StaffID, n.AdminID, n.SentAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// LastStaffReminderAt returns when the most recent reminder notification was
// sent to the given staff member for a complaint, or nil if none was sent.
// Used to avoid re-notifying on every escalation sweep.
func (r *NotificationRepository) LastStaffReminderAt(ctx context.Context, complaintID, staffID int) (*time.Time, error) {
	query := `
		SELECT sent_at
		FROM notifications
		WHERE complaint_id = $1
		  AND staff_id = $2
		  AND message LIKE 'Reminder:%'
		ORDER BY sent_at DESC
		LIMIT 1`

	var sentAt time.Time
	if err := r.db.GetContext(ctx, &sentAt, query, complaintID, staffID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up last reminder for complaint %d: %w", complaintID, err)
	}

	return &sentAt, nil
}
