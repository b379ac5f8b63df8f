package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"crimson-pen/apperrors"
)

// GeminiService calls Gemini through the genai SDK.
type GeminiService struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiService creates a client with the API key read from apiKeyEnv.
func NewGeminiService(ctx context.Context, apiKeyEnv string, timeout time.Duration) (*GeminiService, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, apperrors.ConfigInvalid("generation.api_key_env",
			fmt.Sprintf("%s environment variable is not set", apiKeyEnv))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, "create genai client")
	}
	return &GeminiService{client: client, timeout: timeout}, nil
}

func (s *GeminiService) Generate(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.client.Models.GenerateContent(
		ctx,
		req.Model,
		genai.Text(req.Prompt),
		buildContentConfig(req),
	)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if result == nil {
		return nil, apperrors.MalformedResponse("empty response from generation service", nil)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.MalformedResponse("generation service returned no text", nil).
			WithContext("model", req.Model)
	}

	resp := &Response{
		Text:         text,
		LatencyMs:    time.Since(startTime).Milliseconds(),
		ModelName:    req.Model,
		ModelVersion: result.ModelVersion,
		GeneratedAt:  time.Now(),
	}
	if result.UsageMetadata != nil {
		resp.TokenUsage = TokenUsage{
			InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int64(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func buildContentConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.GoogleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if req.ResponseMIMEType != "" {
		cfg.ResponseMIMEType = req.ResponseMIMEType
	}
	return cfg
}

// ClassifyError maps an SDK error to the run error taxonomy. HTTP 429 and
// RESOURCE_EXHAUSTED signal rate limiting; everything else is transport.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return apperrors.RateLimited(err).WithContext("status", apiErr.Status)
		}
		return apperrors.Transport(err).WithContext("code", apiErr.Code)
	}
	return apperrors.Transport(err)
}
