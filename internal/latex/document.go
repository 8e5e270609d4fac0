// Package latex renders clustered page lines into a LaTeX document.
package latex

import (
	"strings"
)

const titlePlaceholder = "%TITLE%"
const languagePlaceholder = "%LANG%"

const headerTemplate = `\documentclass[12pt]{article}
\usepackage[T1]{fontenc}
\usepackage[utf8]{inputenc}
\usepackage{lmodern}
\usepackage{amsmath, amssymb}
\usepackage[margin=1in]{geometry}
\usepackage[%LANG%]{babel}
\title{%TITLE%}
\date{}
\begin{document}
\setlength{\abovedisplayskip}{8pt}
\setlength{\belowdisplayskip}{8pt}
`

// Footer closes every generated document.
const Footer = "\n\\end{document}\n"

// NoContent is the body emitted for a page without any usable blocks.
const NoContent = "\\textit{No content.}\n"

// EmptyBody is the body emitted when a rebuild receives no markup.
const EmptyBody = "\\textit{Empty}\n"

const DefaultLanguage = "english"

// Header returns the preamble with the escaped title and babel language filled in.
func Header(title, language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	r := strings.NewReplacer(titlePlaceholder, EscapeText(title), languagePlaceholder, language)
	return r.Replace(headerTemplate)
}
