// Package mode resolves the operating mode of each judgment domain from
// explicit configuration.
package mode

import (
	"log/slog"
	"strings"

	"github.com/ashita-ai/kensa/internal/model"
)

// Config holds the raw mode settings. Empty strings mean "not set".
type Config struct {
	Global  string
	Domains map[string]string
}

// Resolver answers Resolve(domain) using precedence
// domain-specific > global > live.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// NewResolver creates a Resolver over cfg. A nil logger discards warnings.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	domains := make(map[string]string, len(cfg.Domains))
	for k, v := range cfg.Domains {
		domains[strings.ToLower(k)] = v
	}
	return &Resolver{cfg: Config{Global: cfg.Global, Domains: domains}, logger: logger}
}

// Resolve returns the mode for domain. Unrecognized values resolve to live.
func (r *Resolver) Resolve(domain string) model.Mode {
	domain = strings.ToLower(domain)
	if raw := strings.TrimSpace(r.cfg.Domains[domain]); raw != "" {
		return r.parse(raw, "domain", domain)
	}
	if raw := strings.TrimSpace(r.cfg.Global); raw != "" {
		return r.parse(raw, "global", domain)
	}
	return model.ModeLive
}

func (r *Resolver) parse(raw, scope, domain string) model.Mode {
	m, ok := model.ParseMode(raw)
	if !ok {
		r.logger.Warn("mode: unrecognized value, using live",
			"scope", scope, "domain", domain, "value", raw)
		return model.ModeLive
	}
	return m
}
