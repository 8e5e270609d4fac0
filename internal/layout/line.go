// Package layout groups positioned page regions into reading-order lines.
package layout

import (
	"math"
	"sort"
	"strings"

	"github.com/joseph-ayodele/note2tex/internal/entity"
)

// Config holds the tuning constants of the line clusterer.
type Config struct {
	// MinTolerance is the floor of the vertical center tolerance in pixels (default: 10)
	MinTolerance float64

	// ToleranceFactor scales the median block height into the tolerance (default: 0.6)
	ToleranceFactor float64

	// SpreadRatio triggers inflation when the height stddev exceeds this
	// fraction of the median height (default: 0.8)
	SpreadRatio float64

	// SpreadInflation multiplies the tolerance on mixed-height pages (default: 1.25)
	SpreadInflation float64

	// OverlapThreshold is the vertical overlap fraction that joins a line
	// regardless of center distance (default: 0.5)
	OverlapThreshold float64

	// OverlapWeight is the weight of the overlap fraction in the line score (default: 0.5)
	OverlapWeight float64
}

// DefaultConfig returns the empirically tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinTolerance:     10,
		ToleranceFactor:  0.6,
		SpreadRatio:      0.8,
		SpreadInflation:  1.25,
		OverlapThreshold: 0.5,
		OverlapWeight:    0.5,
	}
}

// Clusterer assigns blocks to lines greedily in top-to-bottom order.
type Clusterer struct {
	config Config
}

// NewClusterer creates a clusterer with default configuration
func NewClusterer() *Clusterer {
	return &Clusterer{config: DefaultConfig()}
}

// NewClustererWithConfig creates a clusterer with custom configuration
func NewClustererWithConfig(config Config) *Clusterer {
	return &Clusterer{config: config}
}

// Config returns the active configuration.
func (c *Clusterer) Config() Config {
	return c.config
}

// Filter splits blocks into those with non-blank content and those excluded from clustering.
// Excluded blocks are returned unchanged so callers can log or re-include them.
func Filter(blocks []entity.ContentBlock) (kept, excluded []entity.ContentBlock) {
	for _, b := range blocks {
		if strings.TrimSpace(b.Content) == "" {
			excluded = append(excluded, b)
			continue
		}
		kept = append(kept, b)
	}
	return kept, excluded
}

// Cluster groups blocks into lines ordered top to bottom, members ordered left to right.
// Blocks with blank content are skipped (see Filter). No blocks yields nil.
func (c *Clusterer) Cluster(blocks []entity.ContentBlock) []entity.Line {
	kept, _ := Filter(blocks)
	if len(kept) == 0 {
		return nil
	}

	sorted := make([]entity.ContentBlock, len(kept))
	copy(sorted, kept)
	sort.SliceStable(sorted, func(i, j int) bool {
		return readingLess(sorted[i], sorted[j])
	})

	tol := c.Tolerance(sorted)

	var open []*openLine
	for _, b := range sorted {
		best := -1
		bestScore := math.Inf(-1)
		for i, ln := range open {
			dy := math.Abs(b.Box.CenterY() - ln.center)
			ovl := ln.maxOverlap(b.Box)
			if dy > tol && ovl < c.config.OverlapThreshold {
				continue
			}
			score := math.Max(0, tol-dy)/tol + c.config.OverlapWeight*ovl
			// strictly greater: the earliest opened line wins ties
			if score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			open = append(open, newOpenLine(b))
			continue
		}
		open[best].add(b)
	}

	lines := make([]entity.Line, 0, len(open))
	for _, ln := range open {
		members := ln.blocks
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].Box.X1 != members[j].Box.X1 {
				return members[i].Box.X1 < members[j].Box.X1
			}
			return members[i].Index < members[j].Index
		})
		lines = append(lines, entity.Line(members))
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Top() != lines[j].Top() {
			return lines[i].Top() < lines[j].Top()
		}
		return lines[i].Left() < lines[j].Left()
	})
	return lines
}

// Tolerance computes the vertical center tolerance for a page from its block heights.
func (c *Clusterer) Tolerance(blocks []entity.ContentBlock) float64 {
	if len(blocks) == 0 {
		return math.Max(c.config.MinTolerance, 1)
	}
	heights := make([]float64, len(blocks))
	for i, b := range blocks {
		heights[i] = float64(b.Box.Height())
	}
	med := median(heights)
	tol := math.Max(c.config.MinTolerance, c.config.ToleranceFactor*med)
	if populationStdDev(heights) > c.config.SpreadRatio*(med+1e-6) {
		tol *= c.config.SpreadInflation
	}
	if tol <= 0 {
		tol = 1
	}
	return tol
}

// VerticalOverlap is the intersection height divided by the smaller block height.
func VerticalOverlap(a, b entity.BoundingBox) float64 {
	top := math.Max(float64(a.Y1), float64(b.Y1))
	bottom := math.Min(float64(a.Y2), float64(b.Y2))
	inter := math.Max(0, bottom-top)
	return inter / float64(min(a.Height(), b.Height()))
}

type openLine struct {
	blocks  []entity.ContentBlock
	centers []float64
	center  float64
}

func newOpenLine(b entity.ContentBlock) *openLine {
	ln := &openLine{}
	ln.add(b)
	return ln
}

func (l *openLine) add(b entity.ContentBlock) {
	l.blocks = append(l.blocks, b)
	l.centers = append(l.centers, b.Box.CenterY())
	l.center = median(l.centers)
}

func (l *openLine) maxOverlap(box entity.BoundingBox) float64 {
	best := 0.0
	for _, m := range l.blocks {
		best = math.Max(best, VerticalOverlap(m.Box, box))
	}
	return best
}

// readingLess orders by (y1, x1) with full-box and index tie-breaks so the
// result does not depend on input order.
func readingLess(a, b entity.ContentBlock) bool {
	switch {
	case a.Box.Y1 != b.Box.Y1:
		return a.Box.Y1 < b.Box.Y1
	case a.Box.X1 != b.Box.X1:
		return a.Box.X1 < b.Box.X1
	case a.Box.Y2 != b.Box.Y2:
		return a.Box.Y2 < b.Box.Y2
	case a.Box.X2 != b.Box.X2:
		return a.Box.X2 < b.Box.X2
	default:
		return a.Index < b.Index
	}
}
