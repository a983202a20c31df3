package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are the regex sweeps applied to every string surface that
// leaves the process (events, logs, error replies). They target credentials
// that commonly leak through error messages.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
	description string
}{
	{
		name:        "telegram_bot_token",
		pattern:     `\b\d{6,12}:[A-Za-z0-9_-]{30,50}\b`,
		replacement: MaskedValue,
		description: "Telegram bot API tokens (digits:base64ish)",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`,
		replacement: "Bearer " + MaskedValue,
		description: "HTTP Authorization bearer tokens",
	},
	{
		name:        "postgres_dsn_password",
		pattern:     `(postgres(?:ql)?://[^:/@\s]+:)[^@\s]+@`,
		replacement: "${1}" + MaskedValue + "@",
		description: "Passwords embedded in Postgres connection strings",
	},
}

// compileBuiltinPatterns compiles the built-in regex patterns.
// Invalid patterns are logged and skipped.
func compileBuiltinPatterns() []*CompiledPattern {
	out := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		out = append(out, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
	return out
}
