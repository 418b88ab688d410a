package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/medisight/gatekeeper/internal/domain/reports"
)

var reportColumns = []string{"id", "diagnosis", "confidence", "image_path", "heatmap", "status", "doctor_notes", "created_at"}

func newMockRepo(t *testing.T) (*ReportRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewReportRepository(db), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rep := &domain.Report{
		ID:         "018f3a6e-0000-7000-8000-00000000000a",
		Diagnosis:  "Effusion",
		Confidence: 0.5,
		ImagePath:  "uploads/e.png",
		Heatmap:    "data:image/jpeg;base64,AA",
		Status:     domain.StatusPending,
		CreatedAt:  created,
	}
	mock.ExpectExec("INSERT INTO diagnostic_reports").
		WithArgs(string(rep.ID), "Effusion", 0.5, "uploads/e.png", "data:image/jpeg;base64,AA", "Pending", "", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), rep))
}

func TestCreateHeatmapNullOnlyWhenAbsent(t *testing.T) {
	for name, tc := range map[string]struct {
		heatmap string
		want    any
	}{
		"absent":     {heatmap: "", want: nil},
		"whitespace": {heatmap: "  ", want: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
			rep := &domain.Report{
				ID:         "018f3a6e-0000-7000-8000-00000000000b",
				Diagnosis:  "Effusion",
				Confidence: 0.5,
				ImagePath:  "uploads/f.png",
				Heatmap:    tc.heatmap,
				Status:     domain.StatusPending,
				CreatedAt:  created,
			}
			mock.ExpectExec("INSERT INTO diagnostic_reports").
				WithArgs(string(rep.ID), "Effusion", 0.5, "uploads/f.png", tc.want, "Pending", "", created).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, repo.Create(context.Background(), rep))
		})
	}
}

func TestUpdateReviewReturning(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := "018f3a6e-0000-7000-8000-00000000000b"
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE diagnostic_reports SET status=\$1`).
		WithArgs("Correct", "ok", id).
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow(id, "Effusion", 0.5, "uploads/e.png", nil, "Correct", "ok", created))

	rep, err := repo.UpdateReview(context.Background(), domain.ReportID(id), domain.StatusCorrect, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCorrect, rep.Status)
	assert.Empty(t, rep.Heatmap)
	assert.True(t, created.Equal(rep.CreatedAt))
}

func TestUpdateReviewUnknownID(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := "018f3a6e-0000-7000-8000-00000000000c"

	mock.ExpectQuery(`UPDATE diagnostic_reports SET status=\$1`).
		WithArgs("Correct", "", id).
		WillReturnRows(sqlmock.NewRows(reportColumns))

	_, err := repo.UpdateReview(context.Background(), domain.ReportID(id), domain.StatusCorrect, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatest(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(reportColumns)
	for i := 0; i < 3; i++ {
		rows.AddRow("id", "Mass", 0.1, "uploads/x.png", nil, "Pending", "", now.Add(-time.Duration(i)*time.Minute))
	}
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC").WithArgs(10).WillReturnRows(rows)

	list, err := repo.Latest(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestEnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS diagnostic_reports").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_reports_created").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
}
