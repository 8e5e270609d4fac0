package constants

import "strings"

// AllowedImageExtensions holds the page image formats accepted for submission.
var AllowedImageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

// Artifact file names inside a project's storage prefix.
const (
	ArtifactTex     = "formulas.tex"
	ArtifactPDF     = "formulas.pdf"
	ArtifactDocx    = "formulas.docx"
	ArtifactPreview = "detections.png"
	SourceImageBase = "image"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedImage reports whether ext (with or without dot) is an accepted page format.
func IsAllowedImage(ext string) bool {
	_, ok := AllowedImageExtensions[NormalizeExt(ext)]
	return ok
}
