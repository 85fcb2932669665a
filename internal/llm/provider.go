// Package llm adapts chat-completion backends to the single Provider
// capability the arbiter consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDisabled is returned by providers that are not configured.
var ErrDisabled = errors.New("llm: provider disabled")

// Format selects the response shape requested from the model.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Format      Format
	Temperature float64
	MaxTokens   int
	// Model overrides the provider default when set.
	Model string
}

// Response is the raw model answer.
type Response struct {
	Text     string
	Model    string
	Provider string
}

// Provider completes a prompt. Implementations must honor ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	// Name identifies the backend in judgment provenance.
	Name() string
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string // zai, openai, ollama, gemini, disabled
	APIKey      string
	BaseURL     string
	Model       string
	HTTPTimeout time.Duration
}

// Provider names.
const (
	ProviderZAI      = "zai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGemini   = "gemini"
	ProviderDisabled = "disabled"
)

// New builds the provider named by cfg.Provider. Hosted providers without an
// API key resolve to Disabled so the caller always gets a usable Provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderZAI
	}
	switch name {
	case ProviderZAI, ProviderOpenAI:
		if cfg.APIKey == "" {
			return Disabled{Reason: name + " api key not set"}, nil
		}
		return NewOpenAICompatible(name, cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.HTTPTimeout), nil
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.HTTPTimeout), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return Disabled{Reason: "gemini api key not set"}, nil
		}
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderDisabled:
		return Disabled{Reason: "disabled by configuration"}, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// StripCodeFences removes a surrounding markdown code fence, which several
// models add around JSON even when asked not to.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", ...).
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
