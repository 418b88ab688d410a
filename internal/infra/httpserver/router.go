package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	appreports "github.com/medisight/gatekeeper/internal/application/reports"
	domain "github.com/medisight/gatekeeper/internal/domain/reports"
	"github.com/medisight/gatekeeper/internal/middleware"
)

const (
	// imageField is the multipart field the UI uploads the X-ray in.
	imageField = "image"

	maxJSONBody = 1 << 20
)

var (
	errNoImage     = errors.New("no image uploaded")
	errInvalidBody = errors.New("invalid request body")
)

// ReportService is the subset of the report use-cases the HTTP layer calls.
type ReportService interface {
	Analyze(ctx context.Context, cmd appreports.AnalyzeCommand) (*domain.Report, error)
	UpdateStatus(ctx context.Context, cmd appreports.UpdateStatusCommand) (*domain.Report, error)
	Get(ctx context.Context, id string) (*domain.Report, error)
	History(ctx context.Context) ([]*domain.Report, error)
}

// Options configures the optional parts of the router.
type Options struct {
	Logger         *slog.Logger
	MaxUploadBytes int64
	Metrics        *middleware.Metrics
	RateLimiter    *middleware.RateLimiter
	// Health is reported by /health; Ready gates /health/ready.
	Health map[string]middleware.HealthChecker
	Ready  map[string]middleware.HealthChecker
}

type Router struct {
	svc       ReportService
	log       *slog.Logger
	maxUpload int64
}

func NewRouter(svc ReportService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	r := &Router{svc: svc, log: log, maxUpload: maxUpload}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, middleware.Logging(log), chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(middleware.CORS(), middleware.AnswerOptions)
	if opts.RateLimiter != nil {
		mux.Use(opts.RateLimiter.Middleware)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler(opts.Ready))
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/api", func(rt chi.Router) {
		rt.Post("/analyze", r.wrap("Analysis Failed", r.handleAnalyze))
		rt.Put("/reports/{id}", r.wrap("Update failed", r.handleUpdateStatus))
		rt.Get("/reports/{id}", r.wrap("Fetch failed", r.handleGet))
		rt.Get("/history", r.wrap("Fetch failed", r.handleHistory))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// wrap turns handler errors into JSON envelopes. failMsg is the message used
// for anything that is not the client's fault.
func (r *Router) wrap(failMsg string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, errNoImage):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "No image uploaded"})
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error:   "Image too large",
				Details: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
		case errors.Is(err, errInvalidBody),
			errors.Is(err, domain.ErrInvalidID),
			errors.Is(err, domain.ErrInvalidStatus):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: failMsg, Details: err.Error()})
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Report not found", Details: err.Error()})
		default:
			r.log.ErrorContext(req.Context(), failMsg,
				"error", err,
				"path", req.URL.Path,
				"request_id", chimw.GetReqID(req.Context()),
			)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: failMsg, Details: err.Error()})
		}
	}
}

// POST /api/analyze (multipart, field "image")
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)

	part, err := imagePart(req)
	if err != nil {
		return err
	}
	defer part.Close()

	report, err := r.svc.Analyze(req.Context(), appreports.AnalyzeCommand{
		Filename: part.FileName(),
		Image:    part,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, successBody{Success: true, Data: report})
}

// imagePart streams the multipart body up to the image file part, so the
// upload is never buffered whole in memory.
func imagePart(req *http.Request) (*multipart.Part, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, errNoImage
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoImage
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", errNoImage, err)
		}
		if part.FormName() == imageField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// PUT /api/reports/{id}
// Body: {"status":"Correct"|"Incorrect","notes":"..."}
func (r *Router) handleUpdateStatus(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBody))
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}

	report, err := r.svc.UpdateStatus(req.Context(), appreports.UpdateStatusCommand{
		ID:     chi.URLParam(req, "id"),
		Status: body.Status,
		Notes:  body.Notes,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, successBody{Success: true, Data: report})
}

// GET /api/reports/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	report, err := r.svc.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, successBody{Success: true, Data: report})
}

// GET /api/history
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	list, err := r.svc.History(req.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Report{}
	}
	return writeJSON(w, http.StatusOK, successBody{Success: true, Data: list})
}

// writeJSON returns nil once the header is out; an encode error at that
// point cannot be reported to the client anyway.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return nil
}
