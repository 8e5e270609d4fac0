package latex

import (
	"regexp"
	"strings"
)

var (
	displayMathRe   = regexp.MustCompile(`(?s)\\\[\s*(.*?)\s*\\\]`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
	preambleRe      = regexp.MustCompile(`\\documentclass\b`)
)

// NormalizeDisplayMath collapses whitespace inside \[ ... \] to single spaces.
// Text outside display math is untouched.
func NormalizeDisplayMath(tex string) string {
	return displayMathRe.ReplaceAllStringFunc(tex, func(m string) string {
		inner := displayMathRe.FindStringSubmatch(m)[1]
		inner = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(inner, " "))
		return `\[` + inner + `\]`
	})
}

// HasPreamble reports whether tex already declares a document class.
func HasPreamble(tex string) bool {
	return preambleRe.MatchString(tex)
}

// WrapIfNeeded prepares user-edited markup for compilation. Display math is
// normalized; a body without \documentclass gets the standard header and footer.
func (a *Assembler) WrapIfNeeded(tex, title string) string {
	if strings.TrimSpace(tex) == "" {
		return a.Header(title) + EmptyBody + Footer
	}
	body := NormalizeDisplayMath(tex)
	if HasPreamble(body) {
		return body
	}
	return a.Header(title) + body + Footer
}
