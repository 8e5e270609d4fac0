package latex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDisplayMath(t *testing.T) {
	in := "Some   prose  here\n\\[\n  a +\n\t b\n\\]\nmore   prose"
	want := "Some   prose  here\n\\[a + b\\]\nmore   prose"
	assert.Equal(t, want, NormalizeDisplayMath(in))
}

func TestWrapIfNeededAddsPreamble(t *testing.T) {
	a := NewAssembler()
	out := a.WrapIfNeeded("hello \\(x\\)", "Patched")
	assert.True(t, strings.HasPrefix(out, `\documentclass`))
	assert.Contains(t, out, "hello \\(x\\)")
	assert.True(t, strings.HasSuffix(out, Footer))
}

func TestWrapIfNeededKeepsFullDocument(t *testing.T) {
	a := NewAssembler()
	doc := "\\documentclass{article}\n\\begin{document}\n\\[ x \n = 1 \\]\n\\end{document}\n"
	out := a.WrapIfNeeded(doc, "ignored")
	assert.Equal(t, "\\documentclass{article}\n\\begin{document}\n\\[x = 1\\]\n\\end{document}\n", out)
}

func TestWrapIfNeededEmpty(t *testing.T) {
	a := NewAssembler()
	out := a.WrapIfNeeded("  \n ", "Patched")
	assert.Contains(t, out, EmptyBody)
	assert.Contains(t, out, `\title{Patched}`)
}

func TestHasPreambleNeedsWordBoundary(t *testing.T) {
	assert.True(t, HasPreamble(`\documentclass[12pt]{article}`))
	assert.False(t, HasPreamble(`\documentclassx`))
}
