package services

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"
)

// GenerateRequest is one structured-output call to the generation service.
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	Schema       *genai.Schema
}

// Generator is an interface for the external generation (LLM) service.
type Generator interface {
	// Generate returns the raw JSON object matching the request schema.
	Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error)
}
