package constants

import (
	"strings"
)

// BlockKind is the class of a detected page region that takes part in layout.
type BlockKind string

const (
	BlockFormula BlockKind = "formula"
	BlockText    BlockKind = "text"
)

var allBlockKinds = []BlockKind{
	BlockFormula,
	BlockText,
}

func BlockKindsAsStringSlice() []string {
	result := make([]string, len(allBlockKinds))
	for i, k := range allBlockKinds {
		result[i] = string(k)
	}
	return result
}

// CanonicalBlockKind maps a raw detector class onto a BlockKind.
// Classes that do not take part in layout ("other", "table", unknown) report false.
func CanonicalBlockKind(raw string) (BlockKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]BlockKind{
		"text_line": BlockText,
		"textline":  BlockText,
		"math":      BlockFormula,
	}
	if k, ok := synonyms[normalized]; ok {
		return k, true
	}

	for _, k := range allBlockKinds {
		if normalized == string(k) {
			return k, true
		}
	}
	return "", false
}
