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

// LinkRepository handles complaint link edges.
type LinkRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *sqlx.DB, logger *slog.Logger) *LinkRepository {
	return &LinkRepository{
		db:     db,
		logger: logger,
	}
}

// CreateLink inserts a link edge and fills in its generated ID
func (r *LinkRepository) CreateLink(ctx context.Context, link *ComplaintLink) error {
	query := `
		INSERT INTO complaint_links (
			source_complaint_id, target_complaint_id, link_type,
			similarity_score, notes, created_by_user_id, created_by_user_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if err := r.db.GetContext(ctx, &link.ID, query,
		link.SourceComplaintID, link.TargetComplaintID, link.LinkType,
		link.SimilarityScore, link.Notes, link.CreatedByUserID,
		link.CreatedByUserType, link.CreatedAt); err != nil {
		return fmt.Errorf("failed to create complaint link: %w", err)
	}

	return nil
}

// GetLink retrieves a link by ID
func (r *LinkRepository) GetLink(ctx context.Context, id int) (*ComplaintLink, error) {
	query := `
		SELECT id, source_complaint_id, target_complaint_id, link_type,
		       similarity_score, notes, created_by_user_id, created_by_user_type, created_at
		FROM complaint_links
		WHERE id = $1`

	link := &ComplaintLink{}
	if err := r.db.GetContext(ctx, link, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("complaint link %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get complaint link %d: %w", id, err)
	}

	return link, nil
}

// DeleteLink removes a link edge. Returns false when no such link exists.
func (r *LinkRepository) DeleteLink(ctx context.Context, id int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM complaint_links WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete complaint link %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}

// AreLinked reports whether a link exists between the pair in either direction
func (r *LinkRepository) AreLinked(ctx context.Context, complaintID1, complaintID2 int) (bool, error) {
	var linked bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM complaint_links
			WHERE (source_complaint_id = $1 AND target_complaint_id = $2)
			   OR (source_complaint_id = $2 AND target_complaint_id = $1)
		)`

	if err := r.db.GetContext(ctx, &linked, query, complaintID1, complaintID2); err != nil {
		return false, fmt.Errorf("failed to check link between %d and %d: %w", complaintID1, complaintID2, err)
	}

	return linked, nil
}

// LinkedComplaintIDs returns the IDs of all complaints linked to the given
// complaint in either direction.
func (r *LinkRepository) LinkedComplaintIDs(ctx context.Context, complaintID int) ([]int, error) {
	query := `
		SELECT CASE WHEN source_complaint_id = $1 THEN target_complaint_id ELSE source_complaint_id END
		FROM complaint_links
		WHERE source_complaint_id = $1 OR target_complaint_id = $1`

	var ids []int
	if err := r.db.SelectContext(ctx, &ids, query, complaintID); err != nil {
		return nil, fmt.Errorf("failed to list linked complaint IDs for %d: %w", complaintID, err)
	}

	return ids, nil
}

// ListLinkedComplaints returns the joined link view for a complaint, both
// outgoing and incoming edges, most recently linked first.
func (r *LinkRepository) ListLinkedComplaints(ctx context.Context, complaintID int) ([]LinkedComplaint, error) {
	query := `
		SELECT l.id AS link_id,
		       c.id AS complaint_id,
		       c.title, c.description, c.status, c.priority,
		       cat.name AS category_name,
		       c.submitted_at,
		       l.link_type, l.similarity_score, l.notes,
		       l.created_at AS linked_at,
		       l.created_by_user_type AS linked_by_user_type
		FROM complaint_links l
		JOIN complaints c
		  ON c.id = CASE WHEN l.source_complaint_id = $1 THEN l.target_complaint_id ELSE l.source_complaint_id END
		JOIN categories cat ON cat.id = c.category_id
		WHERE l.source_complaint_id = $1 OR l.target_complaint_id = $1
		ORDER BY l.created_at DESC`

	var linked []LinkedComplaint
	if err := r.db.SelectContext(ctx, &linked, query, complaintID); err != nil {
		return nil, fmt.Errorf("failed to list linked complaints for %d: %w", complaintID, err)
	}

	return linked, nil
}

// CloseAsDuplicate records a duplicate link and closes the target complaint
// in a single transaction, so the link and the terminal status cannot
// diverge if one write fails.
func (r *LinkRepository) CloseAsDuplicate(ctx context.Context, link *ComplaintLink, closedAt time.Time) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &link.ID, `
			INSERT INTO complaint_links (
				source_complaint_id, target_complaint_id, link_type,
				similarity_score, notes, created_by_user_id, created_by_user_type, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			link.SourceComplaintID, link.TargetComplaintID, link.LinkType,
			link.SimilarityScore, link.Notes, link.CreatedByUserID,
			link.CreatedByUserType, link.CreatedAt); err != nil {
			return fmt.Errorf("failed to create duplicate link: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE complaints SET status = $2, updated_at = $3 WHERE id = $1`,
			link.TargetComplaintID, StatusClosedDuplicate, closedAt)
		if err != nil {
			return fmt.Errorf("failed to close complaint %d as duplicate: %w", link.TargetComplaintID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("complaint %d: %w", link.TargetComplaintID, ErrNotFound)
		}

		return nil
	})
}

func (r *LinkRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
