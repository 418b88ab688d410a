package reports

import (
	"context"
	"io"
)

// HistorySize is the fixed window returned by the history query.
const HistorySize = 10

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id ReportID) (*Report, error)
	// UpdateReview overwrites status and doctor notes. Returns ErrNotFound
	// when id does not resolve.
	UpdateReview(ctx context.Context, id ReportID, status Status, notes string) (*Report, error)
	// Latest returns up to limit reports, newest first.
	Latest(ctx context.Context, limit int) ([]*Report, error)
}

// ImageStore stages uploads on local disk for the duration of an analysis.
type ImageStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

// ImageArchive copies a staged image to long-term storage and returns its URL.
// The staged file stays with the ImageStore that owns it.
type ImageArchive interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
