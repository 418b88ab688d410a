package inference

import "errors"

// ErrInferenceFailed covers every non-success response or transport failure
// from the inference engine.
var ErrInferenceFailed = errors.New("inference failed")

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")
