// Package linkage detects likely-duplicate complaints and maintains the
// directed link graph between complaints. Expected failure paths (missing
// rows, self links, existing pairs) surface as boolean false rather than
// errors; only FindPotentialDuplicates propagates a not-found error.
package linkage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
	"github.com/civicgrid/case-triage/internal/similarity"
)

// ComplaintStore is the complaint read access needed by the linkage engine.
type ComplaintStore interface {
	GetComplaint(ctx context.Context, id int) (*database.Complaint, error)
	ComplaintExists(ctx context.Context, id int) (bool, error)
	ListCandidates(ctx context.Context, categoryID, excludeID int, from, to time.Time) ([]database.Complaint, error)
}

// LinkStore is the link edge access needed by the linkage engine.
type LinkStore interface {
	CreateLink(ctx context.Context, link *database.ComplaintLink) error
	GetLink(ctx context.Context, id int) (*database.ComplaintLink, error)
	DeleteLink(ctx context.Context, id int) (bool, error)
	AreLinked(ctx context.Context, complaintID1, complaintID2 int) (bool, error)
	LinkedComplaintIDs(ctx context.Context, complaintID int) ([]int, error)
	ListLinkedComplaints(ctx context.Context, complaintID int) ([]database.LinkedComplaint, error)
	CloseAsDuplicate(ctx context.Context, link *database.ComplaintLink, closedAt time.Time) error
}

// Notifier is the fire-and-forget notification sink. Delivery is not
// guaranteed and failures never fail the triggering operation.
type Notifier interface {
	Send(ctx context.Context, message string, complaintID int, citizenID, staffID, adminID *int) error
}

// GraphMirror mirrors link edges into the graph store. Mirroring is
// best-effort after the relational write.
type GraphMirror interface {
	MirrorLink(ctx context.Context, link *database.ComplaintLink) error
	RemoveLink(ctx context.Context, sourceComplaintID, targetComplaintID int) error
}

// EventPublisher publishes link events to the event stream. Publishing is
// best-effort after the relational write.
type EventPublisher interface {
	PublishComplaintLinked(ctx context.Context, link *database.ComplaintLink) error
	PublishDuplicateClosed(ctx context.Context, link *database.ComplaintLink) error
}

// DuplicateCandidate is one surfaced potential duplicate.
type DuplicateCandidate struct {
	ComplaintID      int       `json:"complaint_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Location         string    `json:"location"`
	Status           string    `json:"status"`
	CategoryName     string    `json:"category_name"`
	SubmittedAt      time.Time `json:"submitted_at"`
	SimilarityScore  float64   `json:"similarity_score"`
	SimilarityReason string    `json:"similarity_reason"`
	AlreadyLinked    bool      `json:"already_linked"`
}

// DuplicateReport is the result of a duplicate detection scan.
type DuplicateReport struct {
	ComplaintID int                  `json:"complaint_id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Location    string               `json:"location"`
	SubmittedAt time.Time            `json:"submitted_at"`
	Candidates  []DuplicateCandidate `json:"candidates"`
}

// Engine maintains the complaint link graph
type Engine struct {
	complaints ComplaintStore
	links      LinkStore
	notifier   Notifier
	graph      GraphMirror
	events     EventPublisher
	scorer     similarity.Scorer
	config     config.SimilarityConfig
	reports    *cache.Cache
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewEngine creates a new linkage engine. The report cache is optional per
// configuration; eviction is TTL-based.
func NewEngine(
	complaints ComplaintStore,
	links LinkStore,
	notifier Notifier,
	graph GraphMirror,
	events EventPublisher,
	cfg config.SimilarityConfig,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Engine {
	var reports *cache.Cache
	if cfg.CacheEnabled {
		reports = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	return &Engine{
		complaints: complaints,
		links:      links,
		notifier:   notifier,
		graph:      graph,
		events:     events,
		scorer:     similarity.NewScorer(cfg),
		config:     cfg,
		reports:    reports,
		metrics:    collector,
		logger:     logger,
	}
}

// FindPotentialDuplicates scans same-category complaints submitted within
// the configured window around the target and surfaces candidates whose
// weighted similarity clears the threshold, sorted by score descending.
// Fails with database.ErrNotFound when the complaint does not exist.
func (e *Engine) FindPotentialDuplicates(ctx context.Context, complaintID int) (*DuplicateReport, error) {
	if e.reports != nil {
		if cached, ok := e.reports.Get(reportCacheKey(complaintID)); ok {
			e.metrics.RecordScanCacheHit()
			return cached.(*DuplicateReport), nil
		}
	}

	startTime := time.Now()

	complaint, err := e.complaints.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}

	linkedIDs, err := e.links.LinkedComplaintIDs(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	linked := make(map[int]bool, len(linkedIDs))
	for _, id := range linkedIDs {
		linked[id] = true
	}

	window := time.Duration(e.config.WindowDays) * 24 * time.Hour
	candidates, err := e.complaints.ListCandidates(ctx,
		complaint.CategoryID, complaintID,
		complaint.SubmittedAt.Add(-window), complaint.SubmittedAt.Add(window))
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{
		ComplaintID: complaint.ID,
		Title:       complaint.Title,
		Description: complaint.Description,
		Location:    complaint.Location,
		SubmittedAt: complaint.SubmittedAt,
		Candidates:  []DuplicateCandidate{},
	}

	for i := range candidates {
		candidate := &candidates[i]
		score := e.scorer.Score(complaint, candidate)
		e.metrics.RecordSimilarityScore(score)

		if score < e.config.Threshold {
			continue
		}

		report.Candidates = append(report.Candidates, DuplicateCandidate{
			ComplaintID:      candidate.ID,
			Title:            candidate.Title,
			Description:      candidate.Description,
			Location:         candidate.Location,
			Status:           candidate.Status,
			CategoryName:     candidate.CategoryName,
			SubmittedAt:      candidate.SubmittedAt,
			SimilarityScore:  similarity.Round2(score),
			SimilarityReason: e.scorer.BuildReason(complaint, candidate),
			AlreadyLinked:    linked[candidate.ID],
		})
	}

	sort.Slice(report.Candidates, func(i, j int) bool {
		return report.Candidates[i].SimilarityScore > report.Candidates[j].SimilarityScore
	})

	e.metrics.RecordDuplicateScan(len(report.Candidates), time.Since(startTime))

	e.logger.Info("Duplicate scan completed",
		"complaint_id", complaintID,
		"scanned", len(candidates),
		"surfaced", len(report.Candidates))

	if e.reports != nil {
		e.reports.SetDefault(reportCacheKey(complaintID), report)
	}

	return report, nil
}

// LinkComplaints creates a directed link between two complaints. Returns
// false without error when either complaint is missing, the link would be a
// self-link, the link type is unknown, or the pair is already linked in
// either direction. The source complaint's citizen is notified on success.
func (e *Engine) LinkComplaints(ctx context.Context, sourceID, targetID int, linkType string, notes *string, userID int, userType string) (bool, error) {
	if sourceID == targetID {
		return false, nil
	}

	switch linkType {
	case database.LinkTypeDuplicate, database.LinkTypeRelated, database.LinkTypeFollowUp:
	default:
		return false, nil
	}

	sourceExists, err := e.complaints.ComplaintExists(ctx, sourceID)
	if err != nil {
		return false, err
	}
	targetExists, err := e.complaints.ComplaintExists(ctx, targetID)
	if err != nil {
		return false, err
	}
	if !sourceExists || !targetExists {
		return false, nil
	}

	alreadyLinked, err := e.links.AreLinked(ctx, sourceID, targetID)
	if err != nil {
		return false, err
	}
	if alreadyLinked {
		return false, nil
	}

	link := &database.ComplaintLink{
		SourceComplaintID: sourceID,
		TargetComplaintID: targetID,
		LinkType:          linkType,
		Notes:             notes,
		CreatedByUserID:   userID,
		CreatedByUserType: userType,
		CreatedAt:         time.Now(),
	}

	if err := e.links.CreateLink(ctx, link); err != nil {
		return false, err
	}

	e.metrics.RecordLinkCreated(linkType)
	e.mirrorLink(ctx, link)
	e.invalidateReports(sourceID, targetID)

	if e.events != nil {
		if err := e.events.PublishComplaintLinked(ctx, link); err != nil {
			e.logger.Warn("Failed to publish link event", "link_id", link.ID, "error", err)
		}
	}

	if source, err := e.complaints.GetComplaint(ctx, sourceID); err == nil {
		e.notify(ctx,
			fmt.Sprintf("Your complaint has been linked to another complaint (#%d) as %s", targetID, linkType),
			sourceID, &source.CitizenID)
	}

	e.logger.Info("Complaints linked",
		"link_id", link.ID,
		"source_complaint_id", sourceID,
		"target_complaint_id", targetID,
		"link_type", linkType)

	return true, nil
}

// UnlinkComplaints deletes a link edge. Returns false when the link does
// not exist. No cascading side effects.
func (e *Engine) UnlinkComplaints(ctx context.Context, linkID int) (bool, error) {
	link, err := e.links.GetLink(ctx, linkID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	deleted, err := e.links.DeleteLink(ctx, linkID)
	if err != nil || !deleted {
		return deleted, err
	}

	e.metrics.RecordLinkDeleted()
	e.invalidateReports(link.SourceComplaintID, link.TargetComplaintID)

	if e.graph != nil {
		if err := e.graph.RemoveLink(ctx, link.SourceComplaintID, link.TargetComplaintID); err != nil {
			e.metrics.RecordNeo4jError()
			e.logger.Warn("Failed to remove link from graph mirror",
				"link_id", linkID, "error", err)
		}
	}

	e.logger.Info("Complaints unlinked", "link_id", linkID)

	return true, nil
}

// MarkAsDuplicate records a Duplicate link from the original to the
// duplicate with the computed similarity score, closes the duplicate with
// the terminal Closed - Duplicate status (this is the only path allowed to
// set it) and notifies the duplicate's citizen.
//
// Unlike LinkComplaints there is deliberately no existing-link guard:
// marking a duplicate always records a fresh audit link, even when the pair
// was previously linked as Related.
func (e *Engine) MarkAsDuplicate(ctx context.Context, originalID, duplicateID, userID int, userType string) (bool, error) {
	duplicate, err := e.complaints.GetComplaint(ctx, duplicateID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	original, err := e.complaints.GetComplaint(ctx, originalID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	score := similarity.Round2(e.scorer.Score(original, duplicate))
	notes := "Marked as duplicate and auto-closed"

	link := &database.ComplaintLink{
		SourceComplaintID: originalID,
		TargetComplaintID: duplicateID,
		LinkType:          database.LinkTypeDuplicate,
		SimilarityScore:   &score,
		Notes:             &notes,
		CreatedByUserID:   userID,
		CreatedByUserType: userType,
		CreatedAt:         time.Now(),
	}

	if err := e.links.CloseAsDuplicate(ctx, link, time.Now()); err != nil {
		return false, err
	}

	e.metrics.RecordLinkCreated(database.LinkTypeDuplicate)
	e.metrics.RecordDuplicateClosed()
	e.mirrorLink(ctx, link)
	e.invalidateReports(originalID, duplicateID)

	if e.events != nil {
		if err := e.events.PublishDuplicateClosed(ctx, link); err != nil {
			e.logger.Warn("Failed to publish duplicate-closed event", "link_id", link.ID, "error", err)
		}
	}

	e.notify(ctx,
		fmt.Sprintf("Your complaint has been marked as a duplicate of complaint #%d and has been closed. "+
			"Please refer to the original complaint for updates.", originalID),
		duplicateID, &duplicate.CitizenID)

	e.logger.Info("Complaint marked as duplicate",
		"original_complaint_id", originalID,
		"duplicate_complaint_id", duplicateID,
		"similarity_score", score)

	return true, nil
}

// AreComplaintsLinked reports whether a link exists between the pair in
// either direction.
func (e *Engine) AreComplaintsLinked(ctx context.Context, complaintID1, complaintID2 int) (bool, error) {
	return e.links.AreLinked(ctx, complaintID1, complaintID2)
}

// GetLinkedComplaints returns the joined link view for a complaint, both
// directions, most recently linked first.
func (e *Engine) GetLinkedComplaints(ctx context.Context, complaintID int) ([]database.LinkedComplaint, error) {
	return e.links.ListLinkedComplaints(ctx, complaintID)
}

func (e *Engine) mirrorLink(ctx context.Context, link *database.ComplaintLink) {
	if e.graph == nil {
		return
	}
	if err := e.graph.MirrorLink(ctx, link); err != nil {
		e.metrics.RecordNeo4jError()
		e.logger.Warn("Failed to mirror link to graph",
			"link_id", link.ID, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, message string, complaintID int, citizenID *int) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, message, complaintID, citizenID, nil, nil); err != nil {
		e.logger.Warn("Failed to send link notification",
			"complaint_id", complaintID, "error", err)
	}
}

func (e *Engine) invalidateReports(complaintIDs ...int) {
	if e.reports == nil {
		return
	}
	for _, id := range complaintIDs {
		e.reports.Delete(reportCacheKey(id))
	}
}

func reportCacheKey(complaintID int) string {
	return fmt.Sprintf("duplicates:%d", complaintID)
}
