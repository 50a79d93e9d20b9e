// Package normalize flattens rich-text status bodies into plain text.
package normalize

import (
	"html"
	"regexp"
	"strings"
)

// lineBreakToken protects explicit line breaks from whitespace collapse.
// NUL cannot appear in status bodies delivered over the API.
const lineBreakToken = "\x00"

var (
	newlineRe   = regexp.MustCompile(`\r\n|\r|\n`)
	paraBreakRe = regexp.MustCompile(`(?i)</p>[\s\x00]*<p[^>]*?>`)
	breakTagRe  = regexp.MustCompile(`(?i)<br[^>]*?>`)
	tagRe       = regexp.MustCompile(`<[^>]*?>`)
	spaceRe     = regexp.MustCompile(`\s+`)
	tokenPadRe  = regexp.MustCompile(` *\x00 *`)
)

// Flatten converts an HTML status body to plain text.
//
// Line-break markup (and literal newlines) is encoded as a sentinel before
// tags are stripped and whitespace is collapsed, then decoded back to a
// newline as the final step, so explicit breaks survive the collapse.
// Flatten is idempotent on its own output.
func Flatten(rich string) string {
	s := newlineRe.ReplaceAllString(rich, lineBreakToken)
	s = paraBreakRe.ReplaceAllString(s, lineBreakToken)
	s = breakTagRe.ReplaceAllString(s, lineBreakToken)
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = tokenPadRe.ReplaceAllString(s, lineBreakToken)
	s = strings.Trim(s, " "+lineBreakToken)
	return strings.ReplaceAll(s, lineBreakToken, "\n")
}
