// Package httpclient talks to the inference engine over plain HTTP: one
// multipart POST per image, JSON back.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/medisight/gatekeeper/internal/domain/inference"
)

const (
	// formField is the multipart field name the engine reads the image from.
	formField = "file"

	maxErrorExcerpt = 512
)

type Client struct {
	url  string
	http *http.Client
}

// New returns a client posting to url. A zero timeout waits indefinitely.
func New(url string, timeout time.Duration) *Client {
	return NewWithHTTPClient(url, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(url string, hc *http.Client) *Client {
	return &Client{url: url, http: hc}
}

// engineResponse mirrors the engine's JSON. full_analysis is informational.
// Confidence is a pointer so a missing value is not read as 0.
type engineResponse struct {
	Diagnosis    string   `json:"diagnosis"`
	Confidence   *float64 `json:"confidence"`
	Heatmap      string   `json:"heatmap"`
	FullAnalysis string   `json:"full_analysis"`
}

// Predict streams image to the engine as multipart form data and decodes the
// diagnosis. Any failure is reported as inference.ErrInferenceFailed.
func (c *Client) Predict(ctx context.Context, filename string, image io.Reader) (inference.Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// the writer must be done with image before the caller closes it
	done := make(chan struct{})
	defer func() {
		pr.Close()
		<-done
	}()

	go func() {
		defer close(done)
		part, err := mw.CreateFormFile(formField, filename)
		if err == nil {
			_, err = io.Copy(part, image)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: build request: %w", inference.ErrInferenceFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: %w", inference.ErrInferenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return inference.Result{}, fmt.Errorf("%w: status %d: %s",
			inference.ErrInferenceFailed, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var body engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return inference.Result{}, fmt.Errorf("%w: decode response: %w", inference.ErrInferenceFailed, err)
	}

	if body.Confidence == nil {
		return inference.Result{}, fmt.Errorf("%w: response has no confidence", inference.ErrInferenceFailed)
	}

	return inference.Result{
		Diagnosis:  body.Diagnosis,
		Confidence: *body.Confidence,
		Heatmap:    body.Heatmap,
	}, nil
}

// Ping reports whether the engine answers at all. The predict route only
// accepts POST, so a 405 still counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorExcerpt))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("inference engine returned status %d", resp.StatusCode)
	}
	return nil
}
