package layout

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

func block(idx, x1, y1, x2, y2 int, kind constants.BlockKind, content string) entity.ContentBlock {
	return entity.ContentBlock{
		Index:   idx,
		Box:     entity.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Kind:    kind,
		Content: content,
	}
}

func indices(lines []entity.Line) [][]int {
	out := make([][]int, len(lines))
	for i, ln := range lines {
		for _, b := range ln {
			out[i] = append(out[i], b.Index)
		}
	}
	return out
}

func TestClusterEmpty(t *testing.T) {
	c := NewClusterer()
	assert.Nil(t, c.Cluster(nil))
	assert.Nil(t, c.Cluster([]entity.ContentBlock{
		block(1, 0, 0, 10, 10, constants.BlockText, "   "),
		block(2, 0, 20, 10, 30, constants.BlockFormula, "\n\t"),
	}))
}

func TestFilterKeepsExcludedBlocks(t *testing.T) {
	kept, excluded := Filter([]entity.ContentBlock{
		block(1, 0, 0, 10, 10, constants.BlockText, "a"),
		block(2, 0, 20, 10, 30, constants.BlockFormula, " "),
	})
	require.Len(t, kept, 1)
	require.Len(t, excluded, 1)
	assert.Equal(t, 1, kept[0].Index)
	assert.Equal(t, 2, excluded[0].Index)
}

func TestClusterSingleBlockFormsOwnLine(t *testing.T) {
	lines := NewClusterer().Cluster([]entity.ContentBlock{
		block(7, 40, 40, 90, 70, constants.BlockFormula, "x^2"),
	})
	assert.Equal(t, [][]int{{7}}, indices(lines))
}

func TestClusterTwoInlineFormulas(t *testing.T) {
	lines := NewClusterer().Cluster([]entity.ContentBlock{
		block(2, 60, 12, 90, 28, constants.BlockFormula, "b"),
		block(1, 10, 10, 50, 30, constants.BlockFormula, "a"),
	})
	assert.Equal(t, [][]int{{1, 2}}, indices(lines))
}

func TestClusterSeparatesLines(t *testing.T) {
	blocks := []entity.ContentBlock{
		block(1, 10, 10, 100, 40, constants.BlockText, "Let"),
		block(2, 120, 12, 200, 38, constants.BlockFormula, "x"),
		block(3, 10, 80, 100, 110, constants.BlockText, "then"),
		block(4, 120, 82, 200, 108, constants.BlockFormula, "y"),
	}
	lines := NewClusterer().Cluster(blocks)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}}, indices(lines))
}

func TestClusterSortsMembersLeftToRight(t *testing.T) {
	lines := NewClusterer().Cluster([]entity.ContentBlock{
		block(1, 120, 5, 200, 35, constants.BlockText, "right"),
		block(2, 10, 10, 100, 40, constants.BlockText, "left"),
	})
	assert.Equal(t, [][]int{{2, 1}}, indices(lines))
}

func TestClusterOverlapJoinsDespiteCenterDistance(t *testing.T) {
	a := block(1, 0, 0, 100, 20, constants.BlockText, "short")
	b := block(2, 500, 5, 600, 200, constants.BlockFormula, "\\int")

	c := NewClusterer()
	tol := c.Tolerance([]entity.ContentBlock{a, b})
	require.Greater(t, b.Box.CenterY()-a.Box.CenterY(), tol)
	require.GreaterOrEqual(t, VerticalOverlap(a.Box, b.Box), 0.5)

	assert.Equal(t, [][]int{{1, 2}}, indices(c.Cluster([]entity.ContentBlock{b, a})))
}

func TestClusterIsOrderIndependent(t *testing.T) {
	blocks := []entity.ContentBlock{
		block(1, 10, 10, 100, 40, constants.BlockText, "Let"),
		block(2, 120, 12, 200, 38, constants.BlockFormula, "x"),
		block(3, 220, 14, 300, 36, constants.BlockText, "be"),
		block(4, 10, 80, 100, 110, constants.BlockText, "then"),
		block(5, 120, 82, 200, 108, constants.BlockFormula, "y"),
		block(6, 40, 150, 400, 220, constants.BlockFormula, "\\sum"),
		block(7, 120, 82, 200, 108, constants.BlockText, "dup"),
	}
	c := NewClusterer()
	want := indices(c.Cluster(blocks))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := make([]entity.ContentBlock, len(blocks))
		for j, p := range rng.Perm(len(blocks)) {
			shuffled[j] = blocks[p]
		}
		assert.Equal(t, want, indices(c.Cluster(shuffled)))
	}
}

func TestToleranceInflatesOnMixedHeights(t *testing.T) {
	c := NewClusterer()
	uniform := []entity.ContentBlock{
		block(1, 0, 0, 10, 30, constants.BlockText, "a"),
		block(2, 0, 50, 10, 80, constants.BlockText, "b"),
	}
	assert.InDelta(t, 18.0, c.Tolerance(uniform), 1e-9)

	mixed := []entity.ContentBlock{
		block(1, 0, 0, 10, 10, constants.BlockText, "a"),
		block(2, 0, 20, 10, 30, constants.BlockText, "b"),
		block(3, 0, 40, 10, 140, constants.BlockFormula, "c"),
	}
	assert.InDelta(t, 12.5, c.Tolerance(mixed), 1e-9)
}

func TestToleranceRespectsConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTolerance = 50
	c := NewClustererWithConfig(cfg)
	assert.InDelta(t, 50.0, c.Tolerance([]entity.ContentBlock{
		block(1, 0, 0, 10, 30, constants.BlockText, "a"),
	}), 1e-9)
}

func TestVerticalOverlap(t *testing.T) {
	a := entity.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 30}
	b := entity.BoundingBox{X1: 60, Y1: 12, X2: 90, Y2: 28}
	assert.InDelta(t, 1.0, VerticalOverlap(a, b), 1e-9)

	c := entity.BoundingBox{X1: 0, Y1: 100, X2: 10, Y2: 120}
	assert.Zero(t, VerticalOverlap(a, c))
}
