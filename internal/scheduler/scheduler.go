// Package scheduler runs the periodic overdue-complaint escalation sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
)

// OverdueStore lists and escalates overdue complaints.
type OverdueStore interface {
	ListOverdueComplaints(ctx context.Context, cutoff time.Time) ([]database.Complaint, error)
	EscalatePriority(ctx context.Context, id int, notes string) error
}

// ReminderStore answers when a staff member was last reminded.
type ReminderStore interface {
	LastStaffReminderAt(ctx context.Context, complaintID, staffID int) (*time.Time, error)
}

// Notifier delivers reminder notifications.
type Notifier interface {
	Send(ctx context.Context, message string, complaintID int, citizenID, staffID, adminID *int) error
}

// Scheduler runs the escalation sweep on a cron schedule. Complaints
// assigned to staff and still open past the overdue cutoff are escalated to
// High priority, and the assigned staff member is reminded at most once per
// reminder interval.
type Scheduler struct {
	cron      *cron.Cron
	config    config.EscalationConfig
	overdue   OverdueStore
	reminders ReminderStore
	notifier  Notifier
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewScheduler creates a new escalation scheduler
func NewScheduler(
	cfg config.EscalationConfig,
	overdue OverdueStore,
	reminders ReminderStore,
	notifier Notifier,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		config:    cfg,
		overdue:   overdue,
		reminders: reminders,
		notifier:  notifier,
		metrics:   collector,
		logger:    logger,
	}
}

// Start registers the sweep and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.RunSweep(ctx); err != nil {
			s.logger.Error("Escalation sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule escalation sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Escalation scheduler started", "schedule", s.config.Schedule)

	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Escalation scheduler stopped")
}

// RunSweep escalates every overdue complaint once. Failures on individual
// complaints are logged and the sweep continues.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.OverdueDays)

	complaints, err := s.overdue.ListOverdueComplaints(ctx, cutoff)
	if err != nil {
		s.metrics.RecordDatabaseError()
		return fmt.Errorf("failed to list overdue complaints: %w", err)
	}

	escalated := 0
	for i := range complaints {
		if s.processOverdue(ctx, &complaints[i]) {
			escalated++
		}
	}

	s.metrics.RecordEscalationSweep(escalated)
	s.logger.Info("Escalation sweep completed",
		"overdue", len(complaints), "escalated", escalated)

	return nil
}

func (s *Scheduler) processOverdue(ctx context.Context, complaint *database.Complaint) bool {
	escalated := false

	if complaint.Priority != database.PriorityHigh {
		notes := fmt.Sprintf(
			"Priority auto-escalated from %s to High due to being pending for over %d days.",
			complaint.Priority, s.config.OverdueDays)

		if err := s.overdue.EscalatePriority(ctx, complaint.ID, notes); err != nil {
			s.metrics.RecordDatabaseError()
			s.logger.Error("Failed to escalate overdue complaint",
				"complaint_id", complaint.ID, "error", err)
			return false
		}

		escalated = true
		s.logger.Info("Escalated overdue complaint",
			"complaint_id", complaint.ID, "previous_priority", complaint.Priority)
	}

	if complaint.StaffID != nil {
		s.remindStaff(ctx, complaint)
	}

	return escalated
}

func (s *Scheduler) remindStaff(ctx context.Context, complaint *database.Complaint) {
	last, err := s.reminders.LastStaffReminderAt(ctx, complaint.ID, *complaint.StaffID)
	if err != nil {
		s.metrics.RecordDatabaseError()
		s.logger.Error("Failed to check last staff reminder",
			"complaint_id", complaint.ID, "error", err)
		return
	}

	frequency := time.Duration(s.config.ReminderFrequencyDays) * 24 * time.Hour
	if last != nil && time.Since(*last) < frequency {
		return
	}

	message := fmt.Sprintf(
		"Reminder: This complaint has been pending for over %d days. "+
			"Priority has been escalated to High. Please take action.",
		s.config.OverdueDays)

	if err := s.notifier.Send(ctx, message, complaint.ID, nil, complaint.StaffID, nil); err != nil {
		s.logger.Error("Failed to send staff reminder",
			"complaint_id", complaint.ID, "staff_id", *complaint.StaffID, "error", err)
	}
}
