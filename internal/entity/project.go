package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/constants"
)

// Project represents one submitted page for data transfer between layers.
type Project struct {
	ID          uuid.UUID               `json:"id"`
	UserID      uuid.UUID               `json:"user_id"`
	Title       string                  `json:"title"`
	Description *string                 `json:"description,omitempty"`
	Status      constants.ProjectStatus `json:"status"`
	PageCount   int                     `json:"page_count"`
	ImageKey    *string                 `json:"image_key,omitempty"`
	TexKey      *string                 `json:"tex_key,omitempty"`
	PDFKey      *string                 `json:"pdf_key,omitempty"`
	DocxKey     *string                 `json:"docx_key,omitempty"`
	PreviewKey  *string                 `json:"preview_key,omitempty"`
	LastError   *string                 `json:"last_error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Artifacts holds the storage keys of generated outputs. A nil key means absent.
type Artifacts struct {
	TexKey     *string
	PDFKey     *string
	DocxKey    *string
	PreviewKey *string
}

// Artifacts returns the generated output keys currently recorded on p.
func (p *Project) Artifacts() Artifacts {
	return Artifacts{TexKey: p.TexKey, PDFKey: p.PDFKey, DocxKey: p.DocxKey, PreviewKey: p.PreviewKey}
}

// Keys lists the non-nil keys.
func (a Artifacts) Keys() []string {
	var out []string
	for _, k := range []*string{a.TexKey, a.PDFKey, a.DocxKey, a.PreviewKey} {
		if k != nil && *k != "" {
			out = append(out, *k)
		}
	}
	return out
}
