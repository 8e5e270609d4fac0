package latex

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var textEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// EscapeText makes recognized prose safe to place in a LaTeX body.
// Input is NFC-normalized first so composed and decomposed forms render alike.
func EscapeText(s string) string {
	return textEscaper.Replace(norm.NFC.String(s))
}
