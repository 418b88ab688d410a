package reports

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medisight/gatekeeper/internal/application"
	"github.com/medisight/gatekeeper/internal/domain/inference"
	domain "github.com/medisight/gatekeeper/internal/domain/reports"
)

// Analysis outcomes reported to the Recorder.
const (
	OutcomeSuccess        = "success"
	OutcomeStorageError   = "storage_error"
	OutcomeInferenceError = "inference_error"
	OutcomeInvalidResult  = "invalid_result"
	OutcomePersistError   = "persist_error"
)

// Recorder receives per-operation measurements. Nil disables recording.
type Recorder interface {
	ObserveAnalysis(outcome string, d time.Duration)
	ObserveReview(status string)
}

// Service implements the report use-cases.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	Repo      domain.Repository
	Images    domain.ImageStore
	Archive   domain.ImageArchive // optional
	Inference inference.Client
	Clock     application.Clock
	Metrics   Recorder
	Logger    *slog.Logger
}

// AnalyzeCommand carries one uploaded image.
type AnalyzeCommand struct {
	Filename string
	Image    io.Reader
}

// UpdateStatusCommand carries a clinician's review. Fields are raw input and
// are validated by the service.
type UpdateStatusCommand struct {
	ID     string
	Status string
	Notes  string
}

// Analyze stages the upload, runs inference on it and persists the result.
// The staged file (and the archived copy, when an archive is configured) is
// removed on every path that does not end with a persisted report.
func (s *Service) Analyze(ctx context.Context, cmd AnalyzeCommand) (rep *domain.Report, err error) {
	start := s.now()
	outcome := OutcomeSuccess
	defer func() {
		if s.Metrics != nil {
			s.Metrics.ObserveAnalysis(outcome, s.now().Sub(start))
		}
	}()

	name := stagedName(start, cmd.Filename)
	path, err := s.Images.Save(ctx, name, cmd.Image)
	if err != nil {
		outcome = OutcomeStorageError
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	log := s.logger().With("file", path)
	log.Info("received file")

	var archivedKey string
	defer func() {
		if rep != nil {
			return
		}
		cleanupCtx := context.WithoutCancel(ctx)
		if rmErr := s.Images.Remove(cleanupCtx, path); rmErr != nil {
			log.Warn("failed to remove staged upload", "error", rmErr)
		}
		if archivedKey != "" {
			if delErr := s.Archive.Delete(cleanupCtx, archivedKey); delErr != nil {
				log.Warn("failed to remove archived image", "key", archivedKey, "error", delErr)
			}
		}
	}()

	res, err := s.predict(ctx, name, path)
	if err != nil {
		outcome = OutcomeInferenceError
		log.Error("inference call failed", "error", err)
		return nil, err
	}

	analysis, err := domain.NewAnalysis(res.Diagnosis, res.Confidence, res.Heatmap)
	if err != nil {
		outcome = OutcomeInvalidResult
		return nil, fmt.Errorf("diagnosis %q confidence %v: %w", res.Diagnosis, res.Confidence, err)
	}
	log.Info("diagnosis received",
		"diagnosis", analysis.Diagnosis,
		"confidence", float64(analysis.Confidence),
		"has_heatmap", analysis.Heatmap != "",
		"heatmap_len", len(analysis.Heatmap),
	)

	imagePath := path
	if s.Archive != nil {
		key := "xrays/" + name
		url, err := s.Archive.Upload(ctx, path, key)
		if err != nil {
			outcome = OutcomeStorageError
			return nil, fmt.Errorf("archive image: %w", err)
		}
		archivedKey = key
		imagePath = url

		// upload sudah berhasil, gagal hapus cukup di-log
		if rmErr := s.Images.Remove(ctx, path); rmErr != nil {
			log.Warn("failed to remove staged upload", "error", rmErr)
		}
	}

	// stamped at persist time so history order follows insertion order
	report, err := s.create(ctx, imagePath, analysis, s.now())
	if err != nil {
		outcome = OutcomePersistError
		return nil, err
	}
	return report, nil
}

func (s *Service) predict(ctx context.Context, name, path string) (inference.Result, error) {
	f, err := s.Images.Open(ctx, path)
	if err != nil {
		return inference.Result{}, fmt.Errorf("open staged upload: %w", err)
	}
	defer f.Close()
	return s.Inference.Predict(ctx, name, f)
}

// CreateFromAnalysis validates an inference payload and persists it as a new
// Pending report.
func (s *Service) CreateFromAnalysis(ctx context.Context, imagePath string, res inference.Result) (*domain.Report, error) {
	analysis, err := domain.NewAnalysis(res.Diagnosis, res.Confidence, res.Heatmap)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, imagePath, analysis, s.now())
}

func (s *Service) create(ctx context.Context, imagePath string, a domain.Analysis, now time.Time) (*domain.Report, error) {
	report := domain.NewReport(imagePath, a, now)
	if err := s.Repo.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return report, nil
}

// UpdateStatus records a clinician's review. Repeated reviews overwrite the
// previous one (last write wins).
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*domain.Report, error) {
	id, err := domain.ParseReportID(cmd.ID)
	if err != nil {
		return nil, err
	}
	status, err := domain.ParseReviewStatus(cmd.Status)
	if err != nil {
		return nil, err
	}

	report, err := s.Repo.UpdateReview(ctx, id, status, cmd.Notes)
	if err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.ObserveReview(string(status))
	}
	s.logger().Info("report reviewed", "id", id, "status", status)
	return report, nil
}

// Get ambil 1 report by id
func (s *Service) Get(ctx context.Context, rawID string) (*domain.Report, error) {
	id, err := domain.ParseReportID(rawID)
	if err != nil {
		return nil, err
	}
	return s.Repo.Get(ctx, id)
}

// History returns the most recent reports, newest first. Never nil.
func (s *Service) History(ctx context.Context) ([]*domain.Report, error) {
	list, err := s.Repo.Latest(ctx, domain.HistorySize)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.Report{}
	}
	return list, nil
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// stagedName builds "<unix-millis>-<8 hex><ext>" from the upload's name.
func stagedName(now time.Time, original string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString()[:8], ext)
}
