package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/medisight/gatekeeper/internal/domain/reports"
)

const schema = `
CREATE TABLE IF NOT EXISTS diagnostic_reports (
  id           VARCHAR(36)   NOT NULL PRIMARY KEY,
  diagnosis    VARCHAR(255)  NOT NULL,
  confidence   DOUBLE        NOT NULL,
  image_path   VARCHAR(1024) NOT NULL,
  heatmap      LONGTEXT      NULL,
  status       VARCHAR(16)   NOT NULL DEFAULT 'Pending',
  doctor_notes TEXT          NOT NULL,
  created_at   DATETIME(6)   NOT NULL,
  INDEX idx_reports_created (created_at, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

const selectColumns = `
SELECT id, diagnosis, confidence, image_path, heatmap, status, doctor_notes, created_at
FROM diagnostic_reports`

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// EnsureSchema creates the reports table when missing.
func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Create inserts a new report
func (r *ReportRepository) Create(ctx context.Context, rep *domain.Report) error {
	const q = `
INSERT INTO diagnostic_reports
  (id, diagnosis, confidence, image_path, heatmap, status, doctor_notes, created_at)
VALUES (?,?,?,?,?,?,?,?);`
	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(rep.ID), rep.Diagnosis, float64(rep.Confidence), rep.ImagePath,
		nullIfEmpty(rep.Heatmap), string(rep.Status), rep.DoctorNotes, created,
	)
	return err
}

// Get by ID
func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id=? LIMIT 1;`, string(id))
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rep, err
}

// UpdateReview overwrites status and notes. MySQL reports zero affected rows
// for an unchanged row, so existence is checked by reading it back.
func (r *ReportRepository) UpdateReview(ctx context.Context, id domain.ReportID, status domain.Status, notes string) (*domain.Report, error) {
	const q = `UPDATE diagnostic_reports SET status=?, doctor_notes=? WHERE id=?;`
	if _, err := r.db.ExecContext(ctx, q, string(status), notes, string(id)); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Latest reports, newest first
func (r *ReportRepository) Latest(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = domain.HistorySize
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Report, 0, limit)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Ping is used by the health endpoint.
func (r *ReportRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var rep domain.Report
	var heatmap sql.NullString
	if err := row.Scan(
		&rep.ID, &rep.Diagnosis, &rep.Confidence, &rep.ImagePath,
		&heatmap, &rep.Status, &rep.DoctorNotes, &rep.CreatedAt,
	); err != nil {
		return nil, err
	}
	rep.Heatmap = heatmap.String
	rep.CreatedAt = rep.CreatedAt.UTC()
	return &rep, nil
}
