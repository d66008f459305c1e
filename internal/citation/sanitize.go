package citation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// safeURLPattern rejects characters that could break out of a markdown link target.
var safeURLPattern = regexp.MustCompile(`^https?://[^\s<>"'()\[\]\\` + "`" + `]+$`)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`[`, `\[`,
	`]`, `\]`,
	"\r", " ",
	"\n", " ",
)

// Sanitizer neutralizes titles and vets URLs before they are embedded in markdown.
// Safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Title strips all markup from a display title and escapes markdown link delimiters.
func (s *Sanitizer) Title(title string) string {
	clean := s.policy.Sanitize(title)
	return strings.TrimSpace(markdownEscaper.Replace(clean))
}

// URL returns the link if it is an absolute http(s) URL that is safe to embed.
func (s *Sanitizer) URL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !safeURLPattern.MatchString(raw) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" || u.User != nil {
		return "", false
	}
	return raw, true
}
