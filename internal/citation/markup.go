package citation

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	citeTagPattern      = regexp.MustCompile(`(?s)^<cite\s*>(.*)</cite>$`)
	pageTokenPattern    = regexp.MustCompile(`(?i)^(?:p\.?|pp\.?|page:?)\s*(\d+)$`)
	filenameLinkPattern = regexp.MustCompile(`(?s)^(\d+)\. ?\[(.*?)\]\((.*)\)$`)
	pageHintPattern     = regexp.MustCompile(`(?i)\bpage:?\s*(\d+)`)
)

// CiteMarkup is a parsed "<cite>...</cite>" tag.
type CiteMarkup struct {
	Indices []int
	Page    *int
}

// ParseCite extracts 1-based indices and an optional page hint from a cite tag. The body
// holds comma or semicolon separated tokens such as "1", "2, 3" or "1, p. 4".
func ParseCite(markup string) (CiteMarkup, bool) {
	m := citeTagPattern.FindStringSubmatch(markup)
	if m == nil {
		return CiteMarkup{}, false
	}

	var out CiteMarkup
	seen := make(map[int]bool)
	for _, tok := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' }) {
		tok = strings.TrimSpace(tok)
		if n, err := strconv.Atoi(tok); err == nil {
			if !seen[n] {
				seen[n] = true
				out.Indices = append(out.Indices, n)
			}
			continue
		}
		if pm := pageTokenPattern.FindStringSubmatch(tok); pm != nil {
			if p, err := strconv.Atoi(pm[1]); err == nil {
				out.Page = &p
			}
		}
	}
	return out, len(out.Indices) > 0
}

// FilenameLink is a parsed "N. [title](url)" source link.
type FilenameLink struct {
	Index int
	Title string
	URL   string
	Page  *int
}

// ParseFilenameLink parses a numbered source link. A "page: N" hint in the title is mined
// as the page number.
func ParseFilenameLink(markup string) (FilenameLink, bool) {
	m := filenameLinkPattern.FindStringSubmatch(markup)
	if m == nil {
		return FilenameLink{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return FilenameLink{}, false
	}
	link := FilenameLink{Index: n, Title: m[2], URL: m[3]}
	if pm := pageHintPattern.FindStringSubmatch(m[2]); pm != nil {
		if p, err := strconv.Atoi(pm[1]); err == nil {
			link.Page = &p
		}
	}
	return link, true
}
