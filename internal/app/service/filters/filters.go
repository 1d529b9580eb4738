// Package filters holds the built-in whole-document filters: security
// stripping and sanitizing, spam scoring, and structural validation.
package filters

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/entity"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// Filter ids.
const (
	SecurityFilterID   = "SecurityFilter"
	SpamFilterID       = "SpamFilter"
	ValidationFilterID = "ValidationFilter"
)

// Defaults builds the configured built-in filters, highest priority first.
// Disabled filters are returned too so they can be enabled at runtime.
func Defaults(cfg value.MarkupConfig, logger *zap.Logger) ([]*entity.Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	candidates := []struct {
		settings  value.FilterSettings
		id        string
		processor entity.FilterProcessor
	}{
		{cfg.Security.FilterSettings, SecurityFilterID, NewSecurityFilter(cfg.Security, logger)},
		{cfg.Spam.FilterSettings, SpamFilterID, NewSpamFilter(cfg.Spam, logger)},
		{cfg.Validation.FilterSettings, ValidationFilterID, NewValidationFilter(cfg.Validation, logger)},
	}

	out := make([]*entity.Filter, 0, len(candidates))
	for _, c := range candidates {
		f, err := entity.NewFilter(entity.FilterSpec{
			ID:       c.id,
			Priority: c.settings.Priority,
			Enabled:  c.settings.Enabled,
		}, c.processor).Value()
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.id, err)
		}
		out = append(out, f)
	}
	return out, nil
}
