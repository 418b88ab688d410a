package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisight/gatekeeper/internal/domain/inference"
)

const (
	baseURL        = "https://api.openai.test/v1"
	completionsURL = baseURL + "/chat/completions"
)

func setupMock(t *testing.T, model string) *Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClientWithHTTP("sk-test", baseURL, model, hc)
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func TestPredictSendsImageAsDataURL(t *testing.T) {
	client := setupMock(t, "")

	var sent struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	httpmock.RegisterResponder(http.MethodPost, completionsURL,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, completion(`{"diagnosis":"Effusion","confidence":0.72}`))
		})

	// PNG magic so DetectContentType picks image/png
	img := "\x89PNG\r\n\x1a\n0000"
	res, err := client.Predict(context.Background(), "a.png", strings.NewReader(img))
	require.NoError(t, err)

	assert.Equal(t, "Effusion", res.Diagnosis)
	assert.InDelta(t, 0.72, res.Confidence, 1e-9)
	assert.Empty(t, res.Heatmap)

	assert.Equal(t, defaultModel, sent.Model)
	assert.Equal(t, maxTokens, sent.MaxTokens)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "user", sent.Messages[1].Role)
	assert.Contains(t, string(sent.Messages[1].Content), "data:image/png;base64,")
}

func TestPredictQuotaExceeded(t *testing.T) {
	client := setupMock(t, "gpt-4o-mini")
	httpmock.RegisterResponder(http.MethodPost, completionsURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests,
			`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))

	_, err := client.Predict(context.Background(), "a.png", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrQuotaExceeded)
}

func TestPredictServerError(t *testing.T) {
	client := setupMock(t, "gpt-4o")
	httpmock.RegisterResponder(http.MethodPost, completionsURL,
		httpmock.NewStringResponder(http.StatusInternalServerError,
			`{"error":{"message":"boom","type":"server_error"}}`))

	_, err := client.Predict(context.Background(), "a.png", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrInferenceFailed)
}

func TestPredictUnparseableAnswer(t *testing.T) {
	client := setupMock(t, "gpt-4o")
	httpmock.RegisterResponder(http.MethodPost, completionsURL,
		func(*http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(http.StatusOK, completion("I cannot help with that."))
		})

	_, err := client.Predict(context.Background(), "a.png", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrInferenceFailed)
}
