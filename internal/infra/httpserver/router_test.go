package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appreports "github.com/medisight/gatekeeper/internal/application/reports"
	"github.com/medisight/gatekeeper/internal/domain/inference"
	domain "github.com/medisight/gatekeeper/internal/domain/reports"
	"github.com/medisight/gatekeeper/internal/middleware"
)

type fakeService struct {
	analyze func(ctx context.Context, cmd appreports.AnalyzeCommand) (*domain.Report, error)
	update  func(ctx context.Context, cmd appreports.UpdateStatusCommand) (*domain.Report, error)
	get     func(ctx context.Context, id string) (*domain.Report, error)
	history func(ctx context.Context) ([]*domain.Report, error)
}

func (f *fakeService) Analyze(ctx context.Context, cmd appreports.AnalyzeCommand) (*domain.Report, error) {
	return f.analyze(ctx, cmd)
}

func (f *fakeService) UpdateStatus(ctx context.Context, cmd appreports.UpdateStatusCommand) (*domain.Report, error) {
	return f.update(ctx, cmd)
}

func (f *fakeService) Get(ctx context.Context, id string) (*domain.Report, error) {
	return f.get(ctx, id)
}

func (f *fakeService) History(ctx context.Context) ([]*domain.Report, error) {
	return f.history(ctx)
}

const reportID = "01890a5d-ac96-774b-bcce-b302099a8057"

func sampleReport() *domain.Report {
	return &domain.Report{
		ID:          reportID,
		Diagnosis:   "Pneumonia",
		Confidence:  0.87,
		ImagePath:   "uploads/1700000000000-ab12cd34.png",
		Heatmap:     "data:image/jpeg;base64,/9j/4AAQ",
		Status:      domain.StatusPending,
		DoctorNotes: "",
		CreatedAt:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(svc ReportService, maxUpload int64) http.Handler {
	return NewRouter(svc, Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxUploadBytes: maxUpload,
	})
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotName, gotBody string
	svc := &fakeService{analyze: func(_ context.Context, cmd appreports.AnalyzeCommand) (*domain.Report, error) {
		b, err := io.ReadAll(cmd.Image)
		if err != nil {
			return nil, err
		}
		gotName, gotBody = cmd.Filename, string(b)
		return sampleReport(), nil
	}}

	body, ct := multipartBody(t, "image", "chest.PNG", "pixels")
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(newTestRouter(svc, 0), req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "chest.PNG", gotName)
	assert.Equal(t, "pixels", gotBody)

	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, reportID, data["_id"])
	assert.NotContains(t, data, "id")
	assert.Equal(t, "Pending", data["status"])
	assert.Equal(t, "", data["doctorNotes"])
	assert.Equal(t, "data:image/jpeg;base64,/9j/4AAQ", data["heatmap"])
	assert.Equal(t, "2024-05-01T08:00:00Z", data["createdAt"])
}

func TestAnalyzeWithoutImage(t *testing.T) {
	called := false
	svc := &fakeService{analyze: func(context.Context, appreports.AnalyzeCommand) (*domain.Report, error) {
		called = true
		return nil, nil
	}}
	h := newTestRouter(svc, 0)

	body, ct := multipartBody(t, "", "", "")
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image uploaded", decode(t, rec)["error"])

	// wrong field name
	body, ct = multipartBody(t, "file", "a.png", "x")
	req = httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)

	// not multipart at all
	req = httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)

	assert.False(t, called)
}

func TestAnalyzeTooLarge(t *testing.T) {
	svc := &fakeService{analyze: func(_ context.Context, cmd appreports.AnalyzeCommand) (*domain.Report, error) {
		_, err := io.ReadAll(cmd.Image)
		if err != nil {
			return nil, fmt.Errorf("stage upload: %w", err)
		}
		return sampleReport(), nil
	}}

	body, ct := multipartBody(t, "image", "big.png", strings.Repeat("x", 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(newTestRouter(svc, 1024), req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Image too large", decode(t, rec)["error"])
}

func TestAnalyzeFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"inference", fmt.Errorf("%w: status 500: boom", inference.ErrInferenceFailed)},
		{"quota", inference.ErrQuotaExceeded},
		{"invalid_result", fmt.Errorf("diagnosis %q confidence 1.7: %w", "X", domain.ErrInvalidResult)},
		{"storage", errors.New("stage upload: disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{analyze: func(context.Context, appreports.AnalyzeCommand) (*domain.Report, error) {
				return nil, tt.err
			}}
			body, ct := multipartBody(t, "image", "a.png", "x")
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
			req.Header.Set("Content-Type", ct)
			rec := serve(newTestRouter(svc, 0), req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, "Analysis Failed", out["error"])
			assert.Equal(t, tt.err.Error(), out["details"])
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	var got appreports.UpdateStatusCommand
	svc := &fakeService{update: func(_ context.Context, cmd appreports.UpdateStatusCommand) (*domain.Report, error) {
		got = cmd
		rep := sampleReport()
		rep.Status = domain.StatusCorrect
		rep.DoctorNotes = cmd.Notes
		return rep, nil
	}}

	req := httptest.NewRequest(http.MethodPut, "/api/reports/"+reportID,
		strings.NewReader(`{"status":"Correct","notes":"agree"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(newTestRouter(svc, 0), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appreports.UpdateStatusCommand{ID: reportID, Status: "Correct", Notes: "agree"}, got)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "Correct", data["status"])
	assert.Equal(t, "agree", data["doctorNotes"])
}

// storeBackedService keeps reports in a map and parses ids the way the
// application service does.
type storeBackedService struct {
	nextID  string
	reports map[domain.ReportID]*domain.Report
}

func (s *storeBackedService) Analyze(_ context.Context, _ appreports.AnalyzeCommand) (*domain.Report, error) {
	rep := sampleReport()
	rep.ID = domain.ReportID(s.nextID)
	s.reports[rep.ID] = rep
	return rep, nil
}

func (s *storeBackedService) UpdateStatus(_ context.Context, cmd appreports.UpdateStatusCommand) (*domain.Report, error) {
	id, err := domain.ParseReportID(cmd.ID)
	if err != nil {
		return nil, err
	}
	status, err := domain.ParseReviewStatus(cmd.Status)
	if err != nil {
		return nil, err
	}
	rep, ok := s.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rep.Status = status
	rep.DoctorNotes = cmd.Notes
	return rep, nil
}

func (s *storeBackedService) Get(_ context.Context, raw string) (*domain.Report, error) {
	id, err := domain.ParseReportID(raw)
	if err != nil {
		return nil, err
	}
	rep, ok := s.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rep, nil
}

func (s *storeBackedService) History(context.Context) ([]*domain.Report, error) {
	return nil, nil
}

func TestAnalyzedIDRoundTripsIntoUpdate(t *testing.T) {
	for name, id := range map[string]string{
		"uuid":           reportID,
		"legacy_oid_hex": "65f1c0d2e4b0a1b2c3d4e5f6",
	} {
		t.Run(name, func(t *testing.T) {
			svc := &storeBackedService{nextID: id, reports: map[domain.ReportID]*domain.Report{}}
			h := newTestRouter(svc, 0)

			body, ct := multipartBody(t, "image", "chest.png", "pixels")
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
			req.Header.Set("Content-Type", ct)
			rec := serve(h, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			created, ok := decode(t, rec)["data"].(map[string]any)["_id"].(string)
			require.True(t, ok, "analyze response carries data._id")

			req = httptest.NewRequest(http.MethodPut, "/api/reports/"+created, strings.NewReader(`{"status":"Correct","notes":"ok"}`))
			rec = serve(h, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			data := decode(t, rec)["data"].(map[string]any)
			assert.Equal(t, created, data["_id"])
			assert.Equal(t, "Correct", data["status"])
			assert.Equal(t, "ok", data["doctorNotes"])
		})
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"invalid_status", `{"status":"Maybe"}`, domain.ErrInvalidStatus, http.StatusBadRequest, "Update failed"},
		{"invalid_id", `{"status":"Correct"}`, domain.ErrInvalidID, http.StatusBadRequest, "Update failed"},
		{"malformed_json", `{"status":`, nil, http.StatusBadRequest, "Update failed"},
		{"not_found", `{"status":"Correct"}`, domain.ErrNotFound, http.StatusNotFound, "Report not found"},
		{"store_down", `{"status":"Correct"}`, errors.New("connection reset"), http.StatusInternalServerError, "Update failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{update: func(context.Context, appreports.UpdateStatusCommand) (*domain.Report, error) {
				return nil, tt.err
			}}
			req := httptest.NewRequest(http.MethodPut, "/api/reports/"+reportID, strings.NewReader(tt.body))
			rec := serve(newTestRouter(svc, 0), req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decode(t, rec)["error"])
		})
	}
}

func TestGetReport(t *testing.T) {
	svc := &fakeService{get: func(_ context.Context, id string) (*domain.Report, error) {
		if id != reportID {
			return nil, domain.ErrNotFound
		}
		return sampleReport(), nil
	}}
	h := newTestRouter(svc, 0)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/reports/"+reportID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reportID, decode(t, rec)["data"].(map[string]any)["_id"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/reports/01890a5d-ac96-774b-bcce-b302099a8058", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	newer := sampleReport()
	older := sampleReport()
	older.ID = "01890a5d-ac96-774b-bcce-b302099a8000"
	older.Heatmap = ""

	svc := &fakeService{history: func(context.Context) ([]*domain.Report, error) {
		return []*domain.Report{newer, older}, nil
	}}
	rec := serve(newTestRouter(svc, 0), httptest.NewRequest(http.MethodGet, "/api/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, reportID, data[0].(map[string]any)["_id"])
	assert.NotContains(t, data[1].(map[string]any), "heatmap")
}

func TestHistoryEmptyIsArray(t *testing.T) {
	svc := &fakeService{history: func(context.Context) ([]*domain.Report, error) { return nil, nil }}
	rec := serve(newTestRouter(svc, 0), httptest.NewRequest(http.MethodGet, "/api/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())
}

func TestHistoryFailure(t *testing.T) {
	svc := &fakeService{history: func(context.Context) ([]*domain.Report, error) {
		return nil, errors.New("server selection timeout")
	}}
	rec := serve(newTestRouter(svc, 0), httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Fetch failed", decode(t, rec)["error"])
}

func TestOptionsAnsweredEverywhere(t *testing.T) {
	h := newTestRouter(&fakeService{}, 0)
	for _, path := range []string{"/api/analyze", "/api/reports/" + reportID, "/nowhere"} {
		rec := serve(h, httptest.NewRequest(http.MethodOptions, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	svc := &fakeService{history: func(context.Context) ([]*domain.Report, error) { return nil, nil }}
	h := NewRouter(svc, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
		Health: map[string]middleware.HealthChecker{
			"database":  middleware.CheckerFunc(func(context.Context) error { return nil }),
			"inference": middleware.CheckerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		},
	})

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gatekeeper_http_requests_total{method="GET",route="/api/history",status="200"} 1`)
}
