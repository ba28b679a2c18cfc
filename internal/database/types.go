package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/civicgrid/case-triage/internal/config"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Complaint status values. Resolved, Rejected and Closed - Duplicate are
// terminal; only MarkAsDuplicate may set Closed - Duplicate.
const (
	StatusPending         = "Pending"
	StatusInProgress      = "In Progress"
	StatusResolved        = "Resolved"
	StatusRejected        = "Rejected"
	StatusClosedDuplicate = "Closed - Duplicate"
)

// Complaint priority values.
const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

// Category risk levels.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Complaint link types.
const (
	LinkTypeDuplicate = "Duplicate"
	LinkTypeRelated   = "Related"
	LinkTypeFollowUp  = "FollowUp"
)

// Complaint is the aggregate root of the triage and linkage engines.
type Complaint struct {
	ID           int        `db:"id" json:"id"`
	Title        string     `db:"title" json:"title"`
	Description  string     `db:"description" json:"description"`
	Location     string     `db:"location" json:"location"`
	Latitude     *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64   `db:"longitude" json:"longitude,omitempty"`
	Status       string     `db:"status" json:"status"`
	Priority     string     `db:"priority" json:"priority"`
	SeverityScore int       `db:"severity_score" json:"severity_score"`
	AutoAssigned bool       `db:"auto_assigned" json:"auto_assigned"`
	TriageNotes  string     `db:"triage_notes" json:"triage_notes"`
	CategoryID   int        `db:"category_id" json:"category_id"`
	CategoryName string     `db:"category_name" json:"category_name"`
	DepartmentID *int       `db:"department_id" json:"department_id,omitempty"`
	CitizenID    int        `db:"citizen_id" json:"citizen_id"`
	StaffID      *int       `db:"staff_id" json:"staff_id,omitempty"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Category holds the triage-relevant configuration of a complaint category.
// Read-only to the engines; mutated only by admin configuration.
type Category struct {
	ID                  int    `db:"id" json:"id"`
	Name                string `db:"name" json:"name"`
	RiskLevel           string `db:"risk_level" json:"risk_level"`
	DefaultDepartmentID *int   `db:"default_department_id" json:"default_department_id,omitempty"`
	SlaTargetHours      int    `db:"sla_target_hours" json:"sla_target_hours"`
}

// Citizen carries only the vulnerability-relevant reporter fields.
type Citizen struct {
	ID            int        `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	IsVulnerable  bool       `db:"is_vulnerable" json:"is_vulnerable"`
	HasDisability bool       `db:"has_disability" json:"has_disability"`
	DateOfBirth   *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
}

// Department is a routing target for triaged complaints.
type Department struct {
	ID       int    `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	IsActive bool   `db:"is_active" json:"is_active"`
}

// DepartmentLoad pairs a department with its open-complaint count.
type DepartmentLoad struct {
	DepartmentID int `db:"department_id" json:"department_id"`
	OpenCount    int `db:"open_count" json:"open_count"`
}

// ComplaintLink is a directed edge between two complaints. A given unordered
// pair carries at most one link in either direction.
type ComplaintLink struct {
	ID                int       `db:"id" json:"id"`
	SourceComplaintID int       `db:"source_complaint_id" json:"source_complaint_id"`
	TargetComplaintID int       `db:"target_complaint_id" json:"target_complaint_id"`
	LinkType          string    `db:"link_type" json:"link_type"`
	SimilarityScore   *float64  `db:"similarity_score" json:"similarity_score,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	CreatedByUserID   int       `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedByUserType string    `db:"created_by_user_type" json:"created_by_user_type"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// LinkedComplaint is the joined view of a link and the complaint on its far
// side, relative to the complaint the listing was requested for.
type LinkedComplaint struct {
	LinkID            int       `db:"link_id" json:"link_id"`
	ComplaintID       int       `db:"complaint_id" json:"complaint_id"`
	Title             string    `db:"title" json:"title"`
	Description       string    `db:"description" json:"description"`
	Status            string    `db:"status" json:"status"`
	Priority          string    `db:"priority" json:"priority"`
	CategoryName      string    `db:"category_name" json:"category_name"`
	SubmittedAt       time.Time `db:"submitted_at" json:"submitted_at"`
	LinkType          string    `db:"link_type" json:"link_type"`
	SimilarityScore   *float64  `db:"similarity_score" json:"similarity_score,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	LinkedAt          time.Time `db:"linked_at" json:"linked_at"`
	LinkedByUserType  string    `db:"linked_by_user_type" json:"linked_by_user_type"`
}

// Notification is a fire-and-forget message to a citizen, staff member or
// admin about a complaint.
type Notification struct {
	ID          int       `db:"id" json:"id"`
	Message     string    `db:"message" json:"message"`
	ComplaintID int       `db:"complaint_id" json:"complaint_id"`
	CitizenID   *int      `db:"citizen_id" json:"citizen_id,omitempty"`
	StaffID     *int      `db:"staff_id" json:"staff_id,omitempty"`
	AdminID     *int      `db:"admin_id" json:"admin_id,omitempty"`
	SentAt      time.Time `db:"sent_at" json:"sent_at"`
}

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
