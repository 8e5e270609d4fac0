package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/latex"
	"github.com/joseph-ayodele/note2tex/internal/layout"
)

// rawBlock mirrors entity.ContentBlock with the kind left unparsed.
type rawBlock struct {
	Index      int                `json:"idx"`
	Box        entity.BoundingBox `json:"bbox"`
	Kind       string             `json:"kind"`
	Content    string             `json:"content"`
	Confidence *float32           `json:"confidence,omitempty"`
}

func assembleCommand() *cli.Command {
	return &cli.Command{
		Name:  "assemble",
		Usage: "Build a LaTeX document from recognized blocks (JSON array) without any services",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "blocks JSON file (default: stdin)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output .tex file (default: stdout)"},
			&cli.StringFlag{Name: "title", Value: "Formulas"},
			&cli.StringFlag{Name: "lang", Value: latex.DefaultLanguage, Usage: "babel language"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			var r io.Reader = os.Stdin
			if p := cmd.String("input"); p != "" {
				f, err := os.Open(p)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			blocks, skipped, err := decodeBlocks(r)
			if err != nil {
				return err
			}
			if skipped > 0 {
				fmt.Fprintf(os.Stderr, "skipped %d blocks of unsupported kind (supported: %s)\n",
					skipped, strings.Join(constants.BlockKindsAsStringSlice(), ", "))
			}

			lines := layout.NewClusterer().Cluster(blocks)
			tex := latex.NewAssembler(latex.WithLanguage(cmd.String("lang"))).Assemble(lines, cmd.String("title"))

			if out := cmd.String("output"); out != "" {
				if err := os.WriteFile(out, []byte(tex), 0o644); err != nil {
					return fmt.Errorf("failed to write output file: %w", err)
				}
				fmt.Fprintf(os.Stderr, "%d lines written to %s\n", len(lines), out)
				return nil
			}
			fmt.Print(tex)
			return nil
		},
	}
}

// decodeBlocks reads a JSON array of blocks and keeps formula/text kinds.
func decodeBlocks(r io.Reader) ([]entity.ContentBlock, int, error) {
	var raw []rawBlock
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decode blocks: %w", err)
	}
	blocks := make([]entity.ContentBlock, 0, len(raw))
	skipped := 0
	for _, b := range raw {
		kind, ok := constants.CanonicalBlockKind(b.Kind)
		if !ok {
			skipped++
			continue
		}
		blocks = append(blocks, entity.ContentBlock{
			Index:      b.Index,
			Box:        b.Box,
			Kind:       kind,
			Content:    b.Content,
			Confidence: b.Confidence,
		})
	}
	return blocks, skipped, nil
}
