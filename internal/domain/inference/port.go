package inference

import (
	"context"
	"io"
)

// Result is the raw payload returned by an inference engine.
type Result struct {
	Diagnosis  string  `json:"diagnosis"`
	Confidence float64 `json:"confidence"`
	Heatmap    string  `json:"heatmap,omitempty"`
}

type Client interface {
	Predict(ctx context.Context, filename string, image io.Reader) (Result, error)
}
