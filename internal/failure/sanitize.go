package failure

import (
	"net/url"
	"regexp"
	"unicode/utf8"
)

// Sanitizer strips personal and environment details from failure text
// before it leaves the process.
type Sanitizer struct {
	patterns []*replacement
}

type replacement struct {
	regex *regexp.Regexp
	with  string
}

// NewSanitizer returns a sanitizer with the default rules. Order matters:
// URLs go before emails so credentials in URLs are not half-matched, and
// paths go last so URL paths are already gone.
func NewSanitizer() *Sanitizer {
	s := &Sanitizer{}

	// URLs, including extension and file schemes
	s.add(`(?i)\b[a-z][a-z0-9+.\-]*://[^\s"'<>()]+`, "[url]")

	s.add(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`, "[email]")

	s.add(`\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[ip]")

	// Absolute file paths keep only their base name
	s.add(`(^|[\s(\["'=])((?:[A-Za-z]:)?(?:[\\/][^\s\\/:"'()]+)*[\\/])([^\s\\/:"'()]+)`, "$1$3")

	return s
}

func (s *Sanitizer) add(pattern, with string) {
	s.patterns = append(s.patterns, &replacement{regex: regexp.MustCompile(pattern), with: with})
}

// Sanitize applies every rule in order.
func (s *Sanitizer) Sanitize(text string) string {
	for _, p := range s.patterns {
		text = p.regex.ReplaceAllString(text, p.with)
	}
	return text
}

// PageURL drops the query string and fragment from a page address.
func PageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
