package latex

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

// Assembler turns ordered lines into a complete document. It holds no per-call state.
type Assembler struct {
	language string
}

type Option func(*Assembler)

// WithLanguage sets the babel language of the preamble.
func WithLanguage(lang string) Option {
	return func(a *Assembler) {
		if strings.TrimSpace(lang) != "" {
			a.language = lang
		}
	}
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{language: DefaultLanguage}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Header returns this assembler's preamble for title.
func (a *Assembler) Header(title string) string {
	return Header(title, a.language)
}

// Assemble renders header, one provenance comment plus rendering per line, and footer.
// An empty line list renders the NoContent placeholder.
func (a *Assembler) Assemble(lines []entity.Line, title string) string {
	var sb strings.Builder
	sb.WriteString(a.Header(title))
	sb.WriteString(Body(lines))
	sb.WriteString(Footer)
	return sb.String()
}

// Body renders only the lines between preamble and footer.
func Body(lines []entity.Line) string {
	if len(lines) == 0 {
		return NoContent
	}
	var sb strings.Builder
	for _, ln := range lines {
		sb.WriteString(Provenance(ln))
		sb.WriteString("\n")
		sb.WriteString(RenderLine(ln))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderLine renders one line. A lone formula becomes display math, or nothing
// when blank; anything else is inline math and escaped prose joined by spaces.
func RenderLine(line entity.Line) string {
	if len(line) == 1 && line[0].Kind == constants.BlockFormula {
		f := strings.TrimSpace(line[0].Content)
		if f == "" {
			return ""
		}
		return "\\[\n" + f + "\n\\]\n"
	}

	var sb strings.Builder
	for i, b := range line {
		if i > 0 {
			prev := line[i-1]
			if prev.Kind == constants.BlockFormula && b.Kind == constants.BlockFormula {
				sb.WriteString(`\, `)
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(renderBlock(b))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderBlock(b entity.ContentBlock) string {
	if b.Kind == constants.BlockFormula {
		f := strings.TrimSpace(b.Content)
		if f == "" {
			return ""
		}
		return `\(` + f + `\)`
	}
	return EscapeText(strings.TrimSpace(b.Content))
}

// Provenance is a LaTeX comment naming the index, kind and box of every block on the line.
func Provenance(line entity.Line) string {
	parts := make([]string, 0, len(line))
	for _, b := range line {
		parts = append(parts, fmt.Sprintf("(#%d %s %s)", b.Index, b.Kind, b.Box))
	}
	return "% " + strings.Join(parts, " ")
}
