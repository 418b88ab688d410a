package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/medisight/gatekeeper/internal/domain/inference"
	"github.com/medisight/gatekeeper/internal/infra/inference/prompt"
)

const (
	maxTokens    = 256
	defaultModel = "gpt-4o"
)

// Client classifies radiographs with a vision-capable chat model. It never
// produces a heatmap.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, baseURL, model string) *Client {
	return NewClientWithHTTP(apiKey, baseURL, model, nil)
}

// NewClientWithHTTP lets callers supply the transport; nil keeps the default.
func NewClientWithHTTP(apiKey, baseURL, model string, hc *http.Client) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (c *Client) Predict(ctx context.Context, filename string, image io.Reader) (inference.Result, error) {
	raw, err := io.ReadAll(image)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: read image: %w", inference.ErrInferenceFailed, err)
	}
	dataURL := "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw)

	model := c.Model
	if model == "" {
		model = defaultModel
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt.GetUserPrompt(filename)},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		if isQuotaError(err) {
			return inference.Result{}, fmt.Errorf("%w: %w", inference.ErrQuotaExceeded, err)
		}
		return inference.Result{}, fmt.Errorf("%w: chat completion: %w", inference.ErrInferenceFailed, err)
	}
	if len(resp.Choices) == 0 {
		return inference.Result{}, fmt.Errorf("%w: empty completion", inference.ErrInferenceFailed)
	}

	d, err := prompt.ParseDiagnosis(resp.Choices[0].Message.Content)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: %w", inference.ErrInferenceFailed, err)
	}
	return inference.Result{Diagnosis: d.Diagnosis, Confidence: d.Confidence}, nil
}

func isQuotaError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}
