package database

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "postgres"), mock
}

func testLinkRepo(t *testing.T) (*LinkRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMockDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLinkRepository(db, logger), mock
}

func TestLinkRepository_CreateLink(t *testing.T) {
	repo, mock := testLinkRepo(t)
	ctx := context.Background()

	score := 92.5
	link := &ComplaintLink{
		SourceComplaintID: 1,
		TargetComplaintID: 2,
		LinkType:          LinkTypeDuplicate,
		SimilarityScore:   &score,
		CreatedByUserID:   55,
		CreatedByUserType: "staff",
		CreatedAt:         time.Now(),
	}

	mock.ExpectQuery("INSERT INTO complaint_links").
		WithArgs(link.SourceComplaintID, link.TargetComplaintID, link.LinkType,
			link.SimilarityScore, link.Notes, link.CreatedByUserID,
			link.CreatedByUserType, link.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, repo.CreateLink(ctx, link))
	assert.Equal(t, 7, link.ID, "generated ID filled in")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkRepository_GetLink(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "source_complaint_id", "target_complaint_id", "link_type",
			"similarity_score", "notes", "created_by_user_id", "created_by_user_type", "created_at",
		}).AddRow(7, 1, 2, LinkTypeRelated, nil, nil, 55, "staff", now)

		mock.ExpectQuery("SELECT (.+) FROM complaint_links").
			WithArgs(7).
			WillReturnRows(rows)

		link, err := repo.GetLink(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, 1, link.SourceComplaintID)
		assert.Equal(t, 2, link.TargetComplaintID)
		assert.Equal(t, LinkTypeRelated, link.LinkType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing Returns ErrNotFound", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		mock.ExpectQuery("SELECT (.+) FROM complaint_links").
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetLink(context.Background(), 99)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLinkRepository_DeleteLink(t *testing.T) {
	t.Run("Existing Link Deleted", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		mock.ExpectExec("DELETE FROM complaint_links").
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		deleted, err := repo.DeleteLink(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing Link Reports False", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		mock.ExpectExec("DELETE FROM complaint_links").
			WithArgs(99).
			WillReturnResult(sqlmock.NewResult(0, 0))

		deleted, err := repo.DeleteLink(context.Background(), 99)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLinkRepository_AreLinked(t *testing.T) {
	repo, mock := testLinkRepo(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	linked, err := repo.AreLinked(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkRepository_CloseAsDuplicate(t *testing.T) {
	t.Run("Link And Close In One Transaction", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		score := 88.25
		link := &ComplaintLink{
			SourceComplaintID: 1,
			TargetComplaintID: 2,
			LinkType:          LinkTypeDuplicate,
			SimilarityScore:   &score,
			CreatedByUserID:   55,
			CreatedByUserType: "staff",
			CreatedAt:         time.Now(),
		}
		closedAt := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO complaint_links").
			WithArgs(link.SourceComplaintID, link.TargetComplaintID, link.LinkType,
				link.SimilarityScore, link.Notes, link.CreatedByUserID,
				link.CreatedByUserType, link.CreatedAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectExec("UPDATE complaints SET status").
			WithArgs(link.TargetComplaintID, StatusClosedDuplicate, closedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.CloseAsDuplicate(context.Background(), link, closedAt))
		assert.Equal(t, 3, link.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing Complaint Rolls Back", func(t *testing.T) {
		repo, mock := testLinkRepo(t)

		link := &ComplaintLink{
			SourceComplaintID: 1,
			TargetComplaintID: 999,
			LinkType:          LinkTypeDuplicate,
			CreatedByUserID:   55,
			CreatedByUserType: "staff",
			CreatedAt:         time.Now(),
		}
		closedAt := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO complaint_links").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectExec("UPDATE complaints SET status").
			WithArgs(link.TargetComplaintID, StatusClosedDuplicate, closedAt).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.CloseAsDuplicate(context.Background(), link, closedAt)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
