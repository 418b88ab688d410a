package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/medisight/gatekeeper/internal/domain/reports"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS diagnostic_reports (
  id           VARCHAR(36)      PRIMARY KEY,
  diagnosis    TEXT             NOT NULL,
  confidence   DOUBLE PRECISION NOT NULL,
  image_path   TEXT             NOT NULL,
  heatmap      TEXT             NULL,
  status       VARCHAR(16)      NOT NULL DEFAULT 'Pending',
  doctor_notes TEXT             NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ      NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_reports_created ON diagnostic_reports (created_at DESC, id DESC);`,
}

const columns = `id, diagnosis, confidence, image_path, heatmap, status, doctor_notes, created_at`

type ReportRepository struct{ db *sql.DB }

func NewReportRepository(db *sql.DB) *ReportRepository { return &ReportRepository{db: db} }

// EnsureSchema creates the reports table and index when missing.
func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new report
func (r *ReportRepository) Create(ctx context.Context, rep *domain.Report) error {
	const q = `
INSERT INTO diagnostic_reports (` + columns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var heatmap sql.NullString
	if rep.Heatmap != "" {
		heatmap = sql.NullString{String: rep.Heatmap, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		string(rep.ID), rep.Diagnosis, float64(rep.Confidence), rep.ImagePath,
		heatmap, string(rep.Status), rep.DoctorNotes, created,
	)
	return err
}

// Get by ID
func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM diagnostic_reports WHERE id=$1 LIMIT 1;`, string(id))
	return scanOne(row)
}

// UpdateReview overwrites status and notes and returns the stored row.
func (r *ReportRepository) UpdateReview(ctx context.Context, id domain.ReportID, status domain.Status, notes string) (*domain.Report, error) {
	const q = `
UPDATE diagnostic_reports SET status=$1, doctor_notes=$2
WHERE id=$3
RETURNING ` + columns + `;`
	row := r.db.QueryRowContext(ctx, q, string(status), notes, string(id))
	return scanOne(row)
}

// Latest reports, newest first
func (r *ReportRepository) Latest(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = domain.HistorySize
	}
	const q = `
SELECT ` + columns + `
FROM diagnostic_reports
ORDER BY created_at DESC, id DESC
LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
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

func (r *ReportRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanOne(row *sql.Row) (*domain.Report, error) {
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rep, err
}

func scanReport(row interface{ Scan(...any) error }) (*domain.Report, error) {
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
