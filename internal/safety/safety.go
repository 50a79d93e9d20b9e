// Package safety classifies text against injection-attempt patterns and
// filters system-prompt leakage out of model responses.
package safety

import (
	"log/slog"
	"regexp"
	"strings"
)

// defaultPatterns target common prompt-injection phrasings, including
// localized equivalents for "system" / "prompt".
var defaultPatterns = []string{
	`ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|messages?)`,
	`disregard\s+(all\s+|any\s+)?(previous|prior|above|earlier)`,
	`forget\s+(all\s+|any\s+)?(previous|prior|above|earlier|your)\s+(instructions?|prompts?|rules?)`,
	`\bact\s+as\b`,
	`\bpretend\s+to\s+be\b`,
	`\byou\s+are\s+now\b`,
	`reveal\s+(your\s+)?(system\s+)?prompt`,
	`system\s*prompt`,
	`システム\s*プロンプト`,
	`プロンプト(を|の)?\s*(無視|表示|出力|教え)`,
	`指示(を|に)?\s*(無視|忘れ)`,
}

// Filter performs local, synchronous safety checks. It has no side effects.
type Filter struct {
	patterns  []*regexp.Regexp
	errorText string
	logger    *slog.Logger
}

// NewFilter compiles the default pattern set plus any extra patterns.
// Invalid extra patterns are skipped with a warning.
func NewFilter(log *slog.Logger, errorText string, extraPatterns []string) *Filter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "safety"))

	patterns := make([]*regexp.Regexp, 0, len(defaultPatterns)+len(extraPatterns))
	for _, raw := range defaultPatterns {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+raw))
	}
	for _, raw := range extraPatterns {
		re, err := regexp.Compile(`(?i)` + raw)
		if err != nil {
			log.Warn("skip invalid safety pattern", slog.String("pattern", raw), slog.Any("error", err))
			continue
		}
		patterns = append(patterns, re)
	}

	return &Filter{
		patterns:  patterns,
		errorText: errorText,
		logger:    log,
	}
}

// ErrorText is the fixed user-facing reply for blocked input and filtered output.
func (f *Filter) ErrorText() string {
	return f.errorText
}

// InputSafe reports whether text matches no injection-attempt pattern.
func (f *Filter) InputSafe(text string) bool {
	for _, re := range f.patterns {
		if re.MatchString(text) {
			f.logger.Info("unsafe input blocked", slog.String("pattern", re.String()))
			return false
		}
	}
	return true
}

// FilterOutput replaces response with the fixed error text when any of the
// given prompt variants appears verbatim inside it; otherwise it returns
// response unchanged. Variants typically carry the raw system prompt and its
// date-stamped synthesized form.
func (f *Filter) FilterOutput(response string, promptVariants ...string) string {
	for _, prompt := range promptVariants {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			continue
		}
		if strings.Contains(response, prompt) {
			f.logger.Warn("system prompt leak filtered", slog.Int("response_len", len(response)))
			return f.errorText
		}
	}
	return response
}
