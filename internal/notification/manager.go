// Package notification records and dispatches case notifications with
// per-recipient rate limiting.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
)

// Store persists notifications.
type Store interface {
	CreateNotification(ctx context.Context, n *database.Notification) error
}

// EventPublisher publishes notification events to the event stream.
type EventPublisher interface {
	PublishNotification(ctx context.Context, n *database.Notification) error
}

// Manager records notifications and enforces a per-recipient rate limit so
// a burst of link or escalation activity cannot flood a single citizen or
// staff member. Rate-limited notifications are dropped, not queued.
type Manager struct {
	store     Store
	publisher EventPublisher
	metrics   *metrics.Collector
	logger    *slog.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewManager creates a new notification manager
func NewManager(cfg config.NotificationConfig, store Store, publisher EventPublisher, collector *metrics.Collector, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		publisher: publisher,
		metrics:   collector,
		logger:    logger,
		limit:     rate.Limit(float64(cfg.RatePerMinute) / 60.0),
		burst:     cfg.Burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Send records a notification for exactly one recipient. The recipient is
// whichever of citizenID, staffID or adminID is non-nil.
func (m *Manager) Send(ctx context.Context, message string, complaintID int, citizenID, staffID, adminID *int) error {
	recipient := recipientKey(citizenID, staffID, adminID)

	if !m.limiter(recipient).Allow() {
		m.metrics.RecordNotification(false)
		m.logger.Warn("Notification rate limit exceeded, dropping",
			"recipient", recipient, "complaint_id", complaintID)
		return nil
	}

	n := &database.Notification{
		Message:     message,
		ComplaintID: complaintID,
		CitizenID:   citizenID,
		StaffID:     staffID,
		AdminID:     adminID,
		SentAt:      time.Now().UTC(),
	}

	if err := m.store.CreateNotification(ctx, n); err != nil {
		m.metrics.RecordNotification(false)
		m.metrics.RecordDatabaseError()
		return fmt.Errorf("failed to record notification: %w", err)
	}

	if m.publisher != nil {
		if err := m.publisher.PublishNotification(ctx, n); err != nil {
			m.logger.Error("Failed to publish notification event",
				"notification_id", n.ID, "error", err)
		}
	}

	m.metrics.RecordNotification(true)
	m.logger.Info("Notification sent",
		"notification_id", n.ID, "recipient", recipient, "complaint_id", complaintID)

	return nil
}

func (m *Manager) limiter(recipient string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[recipient]
	if !ok {
		limiter = rate.NewLimiter(m.limit, m.burst)
		m.limiters[recipient] = limiter
	}

	return limiter
}

func recipientKey(citizenID, staffID, adminID *int) string {
	switch {
	case citizenID != nil:
		return fmt.Sprintf("citizen:%d", *citizenID)
	case staffID != nil:
		return fmt.Sprintf("staff:%d", *staffID)
	case adminID != nil:
		return fmt.Sprintf("admin:%d", *adminID)
	default:
		return "unknown"
	}
}
