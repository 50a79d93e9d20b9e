package completion

import (
	"log/slog"
	"regexp"

	"github.com/plumehq/plume/internal/config"
)

// Default classification patterns. Backend SDK error strings are not a
// stable contract, so both sets can be overridden in configuration.
var (
	defaultRateLimitPatterns = []string{
		`rate ?limit`,
		`quota`,
		`too many requests`,
		`resource[ _]?exhausted`,
		`\b429\b`,
	}
	defaultNotFoundPatterns = []string{
		`not[ _]?found`,
		`\b404\b`,
	}
)

// Classifier sorts backend errors into the retry classes that trigger an
// immediate backend switch.
type Classifier struct {
	rateLimit []*regexp.Regexp
	notFound  []*regexp.Regexp
}

// NewClassifier compiles the configured pattern sets, falling back to the
// defaults when a set is empty. Invalid patterns are skipped with a warning.
func NewClassifier(log *slog.Logger, cfg config.CompletionConfig) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		rateLimit: compilePatterns(log, cfg.RateLimitPatterns, defaultRateLimitPatterns),
		notFound:  compilePatterns(log, cfg.NotFoundPatterns, defaultNotFoundPatterns),
	}
}

// RateLimit reports whether err looks like a rate-limit or quota failure.
func (c *Classifier) RateLimit(err error) bool {
	return matchAny(c.rateLimit, err)
}

// NotFound reports whether err looks like a missing/retired backend
// identifier failure.
func (c *Classifier) NotFound(err error) bool {
	return matchAny(c.notFound, err)
}

// SwitchImmediately reports whether err warrants advancing to the next
// backend without exhausting the inline attempts.
func (c *Classifier) SwitchImmediately(err error) bool {
	return c.RateLimit(err) || c.NotFound(err)
}

func compilePatterns(log *slog.Logger, configured, defaults []string) []*regexp.Regexp {
	raw := configured
	if len(raw) == 0 {
		raw = defaults
	}
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, pattern := range raw {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			log.Warn("skip invalid error pattern", slog.String("pattern", pattern), slog.Any("error", err))
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func matchAny(patterns []*regexp.Regexp, err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, re := range patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}
