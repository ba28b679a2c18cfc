// Package triage computes advisory severity, priority, routing and notes
// for newly submitted complaints. Assessment is read-only against the data
// store; persisting the result is the caller's responsibility, and callers
// must treat any assessment error as absent triage data rather than a
// submission failure.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
)

// Severity scoring constants. The tier bonuses are part of the scoring
// contract; the load-balancing knobs live in config.TriageConfig.
const (
	baseScore           = 30
	urgentBonus         = 20
	highBonus           = 10
	moderateBonus       = 5
	categoryHighBonus   = 15
	categoryMediumBonus = 5
	repeatBonus         = 10
	repeatThreshold     = 3
	maxScore            = 100

	vulnerableAge = 65

	vulnerableHighCutoff = 50
	standardHighCutoff   = 70
	standardMediumCutoff = 40
)

// Store is the data access needed by the triage engine. All reads, no writes.
type Store interface {
	GetComplaint(ctx context.Context, id int) (*database.Complaint, error)
	GetCategory(ctx context.Context, id int) (*database.Category, error)
	GetCitizen(ctx context.Context, id int) (*database.Citizen, error)
	GetDepartment(ctx context.Context, id int) (*database.Department, error)
	CountUnresolvedByCitizen(ctx context.Context, citizenID int) (int, error)
	CountOpenByDepartment(ctx context.Context, departmentID int) (int, error)
	LeastLoadedActiveDepartment(ctx context.Context) (*database.DepartmentLoad, error)
}

// Result bundles the four triage sub-results for one complaint.
type Result struct {
	SeverityScore int    `json:"severity_score"`
	Priority      string `json:"priority"`
	DepartmentID  *int   `json:"department_id,omitempty"`
	TriageNotes   string `json:"triage_notes"`
	IsVulnerable  bool   `json:"is_vulnerable"`
}

// Engine performs complaint triage assessments
type Engine struct {
	store    Store
	config   config.TriageConfig
	metrics  *metrics.Collector
	logger   *slog.Logger
	urgent   tierMatcher
	high     tierMatcher
	moderate tierMatcher
}

// NewEngine creates a new triage engine
func NewEngine(store Store, cfg config.TriageConfig, collector *metrics.Collector, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		config:   cfg,
		metrics:  collector,
		logger:   logger,
		urgent:   newTierMatcher(urgentKeywords, urgentBonus),
		high:     newTierMatcher(highKeywords, highBonus),
		moderate: newTierMatcher(moderateKeywords, moderateBonus),
	}
}

// AssessComplaint produces the triage result for one complaint. Fails with
// database.ErrNotFound when the complaint does not exist.
func (e *Engine) AssessComplaint(ctx context.Context, complaintID int) (*Result, error) {
	startTime := time.Now()

	complaint, err := e.store.GetComplaint(ctx, complaintID)
	if err != nil {
		e.metrics.RecordAssessmentFailure()
		return nil, err
	}

	severityScore, err := e.CalculateSeverityScore(ctx, complaint.Title, complaint.Description, complaint.CategoryID, complaint.CitizenID)
	if err != nil {
		e.metrics.RecordAssessmentFailure()
		return nil, fmt.Errorf("failed to calculate severity score: %w", err)
	}

	isVulnerable, err := e.CheckVulnerableReporter(ctx, complaint.CitizenID)
	if err != nil {
		e.metrics.RecordAssessmentFailure()
		return nil, fmt.Errorf("failed to check vulnerable reporter: %w", err)
	}

	priority := e.DetermineAutoPriority(severityScore, isVulnerable)

	departmentID, err := e.RouteToMostSuitableDepartment(ctx, complaint.CategoryID, complaint.DepartmentID)
	if err != nil {
		e.metrics.RecordAssessmentFailure()
		return nil, fmt.Errorf("failed to route complaint: %w", err)
	}

	triageNotes := e.buildTriageNotes(ctx, severityScore, isVulnerable, priority, departmentID)

	e.metrics.RecordAssessment(severityScore, isVulnerable, departmentID != nil, time.Since(startTime))

	e.logger.Info("Complaint assessed",
		"complaint_id", complaintID,
		"severity_score", severityScore,
		"priority", priority,
		"vulnerable", isVulnerable,
		"department_id", departmentID)

	return &Result{
		SeverityScore: severityScore,
		Priority:      priority,
		DepartmentID:  departmentID,
		TriageNotes:   triageNotes,
		IsVulnerable:  isVulnerable,
	}, nil
}

// CalculateSeverityScore scores a complaint's severity on a 0-100 scale from
// keyword tiers, category risk and the reporter's unresolved-complaint count.
func (e *Engine) CalculateSeverityScore(ctx context.Context, title, description string, categoryID, citizenID int) (int, error) {
	score := baseScore

	combinedText := []byte(strings.ToLower(title + " " + description))
	score += e.urgent.score(combinedText)
	score += e.high.score(combinedText)
	score += e.moderate.score(combinedText)

	category, err := e.store.GetCategory(ctx, categoryID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}
	if category != nil {
		switch category.RiskLevel {
		case database.RiskHigh:
			score += categoryHighBonus
		case database.RiskLow:
			// no adjustment
		default:
			score += categoryMediumBonus
		}
	}

	unresolved, err := e.store.CountUnresolvedByCitizen(ctx, citizenID)
	if err != nil {
		return 0, err
	}
	if unresolved > repeatThreshold {
		score += repeatBonus
	}

	if score > maxScore {
		score = maxScore
	}

	return score, nil
}

// DetermineAutoPriority maps a severity score to a priority. Vulnerable
// reporters are never assigned Low.
func (e *Engine) DetermineAutoPriority(severityScore int, isVulnerable bool) string {
	if isVulnerable {
		if severityScore >= vulnerableHighCutoff {
			return database.PriorityHigh
		}
		return database.PriorityMedium
	}

	if severityScore >= standardHighCutoff {
		return database.PriorityHigh
	}
	if severityScore >= standardMediumCutoff {
		return database.PriorityMedium
	}
	return database.PriorityLow
}

// CheckVulnerableReporter reports whether the citizen is flagged vulnerable,
// has a disability, or is 65 or older by calendar-year difference. A missing
// citizen is treated as not vulnerable.
func (e *Engine) CheckVulnerableReporter(ctx context.Context, citizenID int) (bool, error) {
	citizen, err := e.store.GetCitizen(ctx, citizenID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if citizen.IsVulnerable || citizen.HasDisability {
		return true, nil
	}

	if citizen.DateOfBirth != nil {
		age := time.Now().Year() - citizen.DateOfBirth.Year()
		if age >= vulnerableAge {
			return true, nil
		}
	}

	return false, nil
}

// RouteToMostSuitableDepartment picks a department for a complaint. An
// already assigned department is always kept, so re-triage never reassigns.
// Otherwise the category's default department is used unless it is
// overloaded and a materially less loaded department with active staff
// exists; a missing default is an expected outcome that leaves the
// complaint for manual assignment.
func (e *Engine) RouteToMostSuitableDepartment(ctx context.Context, categoryID int, currentDepartmentID *int) (*int, error) {
	if currentDepartmentID != nil {
		return currentDepartmentID, nil
	}

	category, err := e.store.GetCategory(ctx, categoryID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if category.DefaultDepartmentID == nil {
		return nil, nil
	}

	defaultDeptID := *category.DefaultDepartmentID

	defaultLoad, err := e.store.CountOpenByDepartment(ctx, defaultDeptID)
	if err != nil {
		return nil, err
	}

	if defaultLoad > e.config.OverloadThreshold {
		alternate, err := e.store.LeastLoadedActiveDepartment(ctx)
		if err != nil {
			return nil, err
		}

		// Redirect only for a material gain; marginal differences keep
		// the default to avoid thrashing.
		if alternate != nil && float64(alternate.OpenCount) < float64(defaultLoad)*e.config.RedirectLoadRatio {
			e.metrics.RecordRoutingRedirect()
			e.logger.Info("Redirecting overloaded department",
				"default_department_id", defaultDeptID,
				"default_load", defaultLoad,
				"alternate_department_id", alternate.DepartmentID,
				"alternate_load", alternate.OpenCount)
			return &alternate.DepartmentID, nil
		}
	}

	return &defaultDeptID, nil
}

// buildTriageNotes produces the human-readable triage summary persisted
// onto the complaint.
func (e *Engine) buildTriageNotes(ctx context.Context, severityScore int, isVulnerable bool, priority string, departmentID *int) string {
	var notes strings.Builder

	fmt.Fprintf(&notes, "Auto-triaged with severity score: %d/100. ", severityScore)
	fmt.Fprintf(&notes, "Priority set to: %s. ", priority)

	if isVulnerable {
		notes.WriteString("Reporter flagged as vulnerable - priority elevated. ")
	}

	if departmentID != nil {
		if dept, err := e.store.GetDepartment(ctx, *departmentID); err == nil {
			fmt.Fprintf(&notes, "Routed to: %s. ", dept.Name)
		}
	} else {
		notes.WriteString("No department routing configured. ")
	}

	return strings.TrimSpace(notes.String())
}
