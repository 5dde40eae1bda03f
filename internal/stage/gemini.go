// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/pdiddy/deep-research/pkg/types"
)

const defaultModel = "gemini-2.5-flash"

// geminiBaseURL overrides the API endpoint. Package-level var for test substitution.
var geminiBaseURL = ""

// GeminiCollaborator answers stage requests with the Gemini API. Responses
// are requested as JSON at temperature zero.
type GeminiCollaborator struct {
	client *genai.Client
	model  string
}

// NewGeminiCollaborator creates a collaborator from the stage configuration.
func NewGeminiCollaborator(ctx context.Context, cfg types.StageConfig) (*GeminiCollaborator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if geminiBaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: geminiBaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiCollaborator{client: client, model: model}, nil
}

// Complete sends one request and returns the response text.
func (g *GeminiCollaborator) Complete(ctx context.Context, req Request) (string, error) {
	system, user, err := RenderPrompt(req)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("calling gemini %s: %w", g.model, err)
	}
	return resp.Text(), nil
}
