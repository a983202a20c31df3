package masking

import (
	"log/slog"
)

// Service applies data masking to event payloads and log-bound text.
// Created once at application startup (singleton). Thread-safe and stateless
// aside from compiled patterns.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
	maskers  []Masker
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time.
func NewService(enabled bool) *Service {
	s := &Service{
		enabled:  enabled,
		patterns: compileBuiltinPatterns(),
		maskers:  []Masker{&JSONCredentialMasker{}},
	}

	slog.Info("Masking service initialized",
		"enabled", enabled,
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.maskers))

	return s
}

// Enabled reports whether masking is active.
func (s *Service) Enabled() bool { return s.enabled }

// MaskEventData prepares an event payload for storage: sensitive keys are
// replaced and string values swept for embedded credentials. Returns a copy;
// the input is never mutated. When masking is disabled the input is returned
// as-is.
func (s *Service) MaskEventData(data map[string]any) map[string]any {
	if !s.enabled || data == nil {
		return data
	}

	masked := MaskMap(data)
	for k, v := range masked {
		if str, ok := v.(string); ok {
			masked[k] = s.MaskText(str)
		}
	}
	return masked
}

// MaskText applies code-based maskers then regex patterns to a string
// surface. On any failure the original text is preserved (fail-open: events
// and logs must still be written).
func (s *Service) MaskText(text string) string {
	if !s.enabled || text == "" {
		return text
	}

	masked := text
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
