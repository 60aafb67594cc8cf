package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"certflow/backend/pkg/apperr"
)

// GenAIGenerator is a Gemini-backed implementation of the Generator interface.
type GenAIGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIGenerator creates a new GenAIGenerator.
func NewGenAIGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generation API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model, timeout: timeout}, nil
}

// Generate performs one structured-output generation call bounded by the
// configured timeout.
func (g *GenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
		Temperature:      genai.Ptr[float32](0.2),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		return nil, mapGenerationError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, apperr.New(apperr.CodeInternal, "generation service returned no content")
	}
	if !json.Valid([]byte(text)) {
		return nil, apperr.New(apperr.CodeInternal, "generation service returned malformed JSON")
	}
	return json.RawMessage(text), nil
}

// mapGenerationError translates upstream failures into the taxonomy: 429 and
// 402 pass through 1:1, deadline expiry becomes TIMEOUT.
func mapGenerationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, err, "generation service call timed out")
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return apperr.Wrap(apperr.CodeRateLimited, err, "generation service throttled the request")
		case http.StatusPaymentRequired:
			return apperr.Wrap(apperr.CodeQuotaExhausted, err, "generation service quota exhausted")
		}
	}
	return apperr.Wrap(apperr.CodeInternal, err, "generation service call failed")
}

// GenerateWithRetry wraps a Generate call in a bounded exponential backoff.
// Throttling and quota failures are surfaced immediately, never retried.
func GenerateWithRetry(ctx context.Context, g Generator, req GenerateRequest, base time.Duration, maxRetries uint) (json.RawMessage, error) {
	var out json.RawMessage
	op := func() error {
		raw, err := g.Generate(ctx, req)
		if err != nil {
			switch apperr.CodeOf(err) {
			case apperr.CodeRateLimited, apperr.CodeQuotaExhausted:
				return backoff.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = base
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}
