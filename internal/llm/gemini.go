package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiDefaultModel is used when no model is configured.
const GeminiDefaultModel = "gemini-1.5-flash"

// Gemini calls Google's Generative Language API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	if model == "" {
		model = GeminiDefaultModel
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) Complete(ctx context.Context, in Request) (Response, error) {
	name := g.model
	if in.Model != "" {
		name = in.Model
	}
	m := g.client.GenerativeModel(name)
	m.SetTemperature(float32(in.Temperature))
	if in.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(in.MaxTokens))
	}
	if in.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(in.System)}}
	}
	if in.Format == FormatJSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(in.User))
	if err != nil {
		return Response{}, fmt.Errorf("gemini: generate: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return Response{}, fmt.Errorf("gemini: empty response")
	}
	return Response{Text: strings.TrimSpace(sb.String()), Model: name, Provider: ProviderGemini}, nil
}
