package generator

import (
	"context"
	"time"
)

// Request is one call to the generation service.
type Request struct {
	Model             string
	Prompt            string
	SystemInstruction string
	// GoogleSearch enables web-search grounding.
	GoogleSearch bool
	// ResponseMIMEType is an output-format hint such as "application/json".
	ResponseMIMEType string
}

// Response is the raw text of a successful call plus usage data.
type Response struct {
	Text         string     `json:"text"`
	LatencyMs    int64      `json:"latency_ms"`
	TokenUsage   TokenUsage `json:"token_usage"`
	ModelName    string     `json:"model_name"`
	ModelVersion string     `json:"model_version"`
	GeneratedAt  time.Time  `json:"generated_at"`
}

type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Service generates text for a prompt. Errors are classified with apperrors:
// KindTransport, KindRateLimited or KindMalformedResponse.
type Service interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
