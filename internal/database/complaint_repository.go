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

// ComplaintRepository handles complaint, category, citizen and department
// read/write operations for the triage and linkage engines.
type ComplaintRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewComplaintRepository creates a new complaint repository
func NewComplaintRepository(db *sqlx.DB, logger *slog.Logger) *ComplaintRepository {
	return &ComplaintRepository{
		db:     db,
		logger: logger,
	}
}

const complaintColumns = `
	c.id, c.title, c.description, COALESCE(c.location, '') AS location,
	c.latitude, c.longitude, c.status, c.priority, c.severity_score,
	c.auto_assigned, COALESCE(c.triage_notes, '') AS triage_notes,
	c.category_id, cat.name AS category_name, c.department_id,
	c.citizen_id, c.staff_id, c.submitted_at, c.updated_at`

// GetComplaint retrieves a complaint by ID with its category name joined
func (r *ComplaintRepository) GetComplaint(ctx context.Context, id int) (*Complaint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM complaints c
		JOIN categories cat ON cat.id = c.category_id
		WHERE c.id = $1`, complaintColumns)

	complaint := &Complaint{}
	if err := r.db.GetContext(ctx, complaint, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("complaint %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get complaint %d: %w", id, err)
	}

	return complaint, nil
}

// ComplaintExists reports whether a complaint row exists
func (r *ComplaintRepository) ComplaintExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM complaints WHERE id = $1)`

	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check complaint %d: %w", id, err)
	}

	return exists, nil
}

// GetCategory retrieves a category by ID
func (r *ComplaintRepository) GetCategory(ctx context.Context, id int) (*Category, error) {
	query := `
		SELECT id, name, risk_level, default_department_id, sla_target_hours
		FROM categories
		WHERE id = $1`

	category := &Category{}
	if err := r.db.GetContext(ctx, category, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get category %d: %w", id, err)
	}

	return category, nil
}

// GetCitizen retrieves a citizen by ID
func (r *ComplaintRepository) GetCitizen(ctx context.Context, id int) (*Citizen, error) {
	query := `
		SELECT id, name, is_vulnerable, has_disability, date_of_birth
		FROM citizens
		WHERE id = $1`

	citizen := &Citizen{}
	if err := r.db.GetContext(ctx, citizen, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("citizen %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get citizen %d: %w", id, err)
	}

	return citizen, nil
}

// GetDepartment retrieves a department by ID
func (r *ComplaintRepository) GetDepartment(ctx context.Context, id int) (*Department, error) {
	query := `SELECT id, name, is_active FROM departments WHERE id = $1`

	department := &Department{}
	if err := r.db.GetContext(ctx, department, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get department %d: %w", id, err)
	}

	return department, nil
}

// CountUnresolvedByCitizen counts a citizen's complaints that are not yet
// resolved, the repeat-complainant signal used in severity scoring.
func (r *ComplaintRepository) CountUnresolvedByCitizen(ctx context.Context, citizenID int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM complaints WHERE citizen_id = $1 AND status != $2`

	if err := r.db.GetContext(ctx, &count, query, citizenID, StatusResolved); err != nil {
		return 0, fmt.Errorf("failed to count complaints for citizen %d: %w", citizenID, err)
	}

	return count, nil
}

// CountOpenByDepartment counts a department's open (non-resolved) complaints
func (r *ComplaintRepository) CountOpenByDepartment(ctx context.Context, departmentID int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM complaints WHERE department_id = $1 AND status != $2`

	if err := r.db.GetContext(ctx, &count, query, departmentID, StatusResolved); err != nil {
		return 0, fmt.Errorf("failed to count complaints for department %d: %w", departmentID, err)
	}

	return count, nil
}

// LeastLoadedActiveDepartment returns the department with the fewest open
// complaints among departments that have at least one active staff member.
// Returns nil when no such department exists.
func (r *ComplaintRepository) LeastLoadedActiveDepartment(ctx context.Context) (*DepartmentLoad, error) {
	query := `
		SELECT d.id AS department_id,
		       COUNT(c.id) FILTER (WHERE c.status != $1) AS open_count
		FROM departments d
		LEFT JOIN complaints c ON c.department_id = d.id
		WHERE EXISTS (SELECT 1 FROM staff s WHERE s.department_id = d.id AND s.is_active)
		GROUP BY d.id
		ORDER BY open_count ASC
		LIMIT 1`

	load := &DepartmentLoad{}
	if err := r.db.GetContext(ctx, load, query, StatusResolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find least loaded department: %w", err)
	}

	return load, nil
}

// ListCandidates returns complaints in the same category submitted within
// [from, to], excluding the complaint the scan was requested for.
func (r *ComplaintRepository) ListCandidates(ctx context.Context, categoryID, excludeID int, from, to time.Time) ([]Complaint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM complaints c
		JOIN categories cat ON cat.id = c.category_id
		WHERE c.id != $1
		  AND c.category_id = $2
		  AND c.submitted_at >= $3
		  AND c.submitted_at <= $4
		ORDER BY c.submitted_at DESC`, complaintColumns)

	var candidates []Complaint
	if err := r.db.SelectContext(ctx, &candidates, query, excludeID, categoryID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list candidate complaints: %w", err)
	}

	return candidates, nil
}

// UpdateComplaintTriage persists triage results onto a complaint. The
// auto-assigned flag is set iff a department was chosen by routing.
func (r *ComplaintRepository) UpdateComplaintTriage(ctx context.Context, id, severityScore int, priority string, departmentID *int, triageNotes string) error {
	query := `
		UPDATE complaints SET
			severity_score = $2,
			priority = $3,
			department_id = $4,
			triage_notes = $5,
			auto_assigned = $6,
			updated_at = $7
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		id, severityScore, priority, departmentID, triageNotes,
		departmentID != nil, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update triage for complaint %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("complaint %d: %w", id, ErrNotFound)
	}

	return nil
}

// ListOverdueComplaints returns non-terminal complaints with assigned staff
// submitted before the cutoff, oldest first.
func (r *ComplaintRepository) ListOverdueComplaints(ctx context.Context, cutoff time.Time) ([]Complaint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM complaints c
		JOIN categories cat ON cat.id = c.category_id
		WHERE c.submitted_at < $1
		  AND c.status NOT IN ($2, $3, $4)
		  AND c.staff_id IS NOT NULL
		ORDER BY c.submitted_at ASC`, complaintColumns)

	var overdue []Complaint
	if err := r.db.SelectContext(ctx, &overdue, query,
		cutoff, StatusResolved, StatusRejected, StatusClosedDuplicate); err != nil {
		return nil, fmt.Errorf("failed to list overdue complaints: %w", err)
	}

	return overdue, nil
}

// EscalatePriority raises a complaint's priority to High and records a
// history row describing the escalation.
func (r *ComplaintRepository) EscalatePriority(ctx context.Context, id int, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin escalation transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	var status string
	if err := tx.GetContext(ctx, &status,
		`UPDATE complaints SET priority = $2, updated_at = $3 WHERE id = $1 RETURNING status`,
		id, PriorityHigh, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("complaint %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to escalate complaint %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO complaint_history (complaint_id, status_before, status_after, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, status, status, "System (Auto-Escalation)", now, notes); err != nil {
		return fmt.Errorf("failed to record escalation history for complaint %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit escalation for complaint %d: %w", id, err)
	}

	return nil
}
