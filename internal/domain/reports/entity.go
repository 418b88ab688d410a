package reports

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportID identifies a Report. Values are UUIDv7 strings so that the id
// also sorts by creation order.
type ReportID string

// NewReportID returns a fresh time-ordered id.
func NewReportID() ReportID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return ReportID(uuid.NewString())
	}
	return ReportID(id.String())
}

// legacyIDLen is the hex length of a MongoDB ObjectID. Reports written by
// the previous Node backend carry these ids.
const legacyIDLen = 24

// ParseReportID validates a raw id coming from outside the service. It
// accepts UUIDs and the 24-hex ObjectIDs of older reports.
func ParseReportID(raw string) (ReportID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidID
	}
	if IsLegacyID(raw) {
		return ReportID(strings.ToLower(raw)), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", ErrInvalidID
	}
	return ReportID(id.String()), nil
}

// IsLegacyID reports whether raw looks like a MongoDB ObjectID.
func IsLegacyID(raw string) bool {
	if len(raw) != legacyIDLen {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Status enum
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCorrect   Status = "Correct"
	StatusIncorrect Status = "Incorrect"
)

// Valid reports whether s is one of the three review states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCorrect, StatusIncorrect:
		return true
	}
	return false
}

// ParseReviewStatus accepts only the states a clinician can set.
// Pending is the initial state and cannot be re-entered.
func ParseReviewStatus(raw string) (Status, error) {
	switch s := Status(strings.TrimSpace(raw)); s {
	case StatusCorrect, StatusIncorrect:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Confidence is a probability in [0,1].
type Confidence float64

func NewConfidence(v float64) (Confidence, error) {
	// NaN fails both comparisons
	if !(v >= 0 && v <= 1) {
		return 0, ErrInvalidResult
	}
	return Confidence(v), nil
}

// Analysis is the validated outcome of one inference call.
type Analysis struct {
	Diagnosis  string
	Confidence Confidence
	Heatmap    string
}

// NewAnalysis validates the raw fields returned by an inference service.
func NewAnalysis(diagnosis string, confidence float64, heatmap string) (Analysis, error) {
	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		return Analysis{}, ErrInvalidResult
	}
	c, err := NewConfidence(confidence)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Diagnosis: diagnosis, Confidence: c, Heatmap: heatmap}, nil
}

// Aggregate Root: Report
type Report struct {
	ID          ReportID   `json:"_id"`
	Diagnosis   string     `json:"diagnosis"`
	Confidence  Confidence `json:"confidence"`
	ImagePath   string     `json:"imagePath"`
	Heatmap     string     `json:"heatmap,omitempty"`
	Status      Status     `json:"status"`
	DoctorNotes string     `json:"doctorNotes"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewReport builds a Pending report for a freshly analysed image.
func NewReport(imagePath string, a Analysis, now time.Time) *Report {
	return &Report{
		ID:          NewReportID(),
		Diagnosis:   a.Diagnosis,
		Confidence:  a.Confidence,
		ImagePath:   imagePath,
		Heatmap:     a.Heatmap,
		Status:      StatusPending,
		DoctorNotes: "",
		CreatedAt:   now.UTC(),
	}
}
