package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphRangeLinking(t *testing.T) {
	dg := NewDependencyGraph()
	a1 := dg.getOrCreateCell(NewAddress(1, 0, 0))
	r := dg.getOrCreateRange(NewRangeAddress(NewAddress(1, 0, 0), NewAddress(1, 2, 0)))

	// existing cells are linked when the range is created
	assert.True(t, dg.HasEdge(a1.ID, r.ID))

	// cells created later inside the rectangle are linked too
	a2 := dg.getOrCreateCell(NewAddress(1, 1, 0))
	assert.True(t, dg.HasEdge(a2.ID, r.ID))

	outside := dg.getOrCreateCell(NewAddress(1, 5, 0))
	assert.False(t, dg.HasEdge(outside.ID, r.ID))
	other := dg.getOrCreateCell(NewAddress(2, 0, 0))
	assert.False(t, dg.HasEdge(other.ID, r.ID))

	assert.Equal(t, []VertexID{a1.ID, a2.ID}, dg.Dependencies(r.ID))

	// lookups return the same vertex
	again := dg.getOrCreateRange(r.Range)
	assert.Equal(t, r.ID, again.ID)
	id, ok := dg.CellVertex(NewAddress(1, 1, 0))
	require.True(t, ok)
	assert.Equal(t, a2.ID, id)
}

func TestGraphTopologicalOrder(t *testing.T) {
	dg := NewDependencyGraph()
	a1 := dg.getOrCreateCell(NewAddress(1, 0, 0))
	r := dg.getOrCreateRange(NewRangeAddress(NewAddress(1, 0, 0), NewAddress(1, 2, 0)))
	b1 := dg.getOrCreateCell(NewAddress(1, 0, 1))
	b1.Kind = VertexFormulaCell
	dg.AddEdge(r.ID, b1.ID)
	c1 := dg.getOrCreateCell(NewAddress(1, 0, 2))
	c1.Kind = VertexFormulaCell
	dg.AddEdge(b1.ID, c1.ID)

	result := dg.TopologicalOrder([]VertexID{a1.ID})
	assert.Equal(t, []VertexID{a1.ID, r.ID, b1.ID, c1.ID}, result.Order())
	assert.Empty(t, result.Cycles())

	// only the closure of the start vertices is ordered
	result = dg.TopologicalOrder([]VertexID{b1.ID})
	assert.Equal(t, []VertexID{b1.ID, c1.ID}, result.Order())

	assert.Equal(t, []VertexID{a1.ID, r.ID, b1.ID, c1.ID}, dg.Closure([]VertexID{a1.ID}))
}

func TestGraphCycles(t *testing.T) {
	dg := NewDependencyGraph()
	x := dg.getOrCreateCell(NewAddress(1, 0, 0))
	y := dg.getOrCreateCell(NewAddress(1, 1, 0))
	z := dg.getOrCreateCell(NewAddress(1, 2, 0))
	w := dg.getOrCreateCell(NewAddress(1, 3, 0))
	for _, v := range []*Vertex{x, y, z, w} {
		v.Kind = VertexFormulaCell
	}
	dg.AddEdge(x.ID, y.ID)
	dg.AddEdge(y.ID, x.ID)
	dg.AddEdge(y.ID, z.ID)
	dg.AddEdge(w.ID, w.ID)

	result := dg.TopologicalOrder([]VertexID{x.ID, w.ID})
	assert.ElementsMatch(t, []VertexID{x.ID, y.ID, w.ID}, result.Cycles())

	// the cell downstream of the cycle comes after it and is not cyclic
	positions := make(map[VertexID]int)
	for i, c := range result.Components {
		for _, id := range c.Vertices {
			positions[id] = i
		}
		if c.Cyclic {
			continue
		}
		assert.Equal(t, []VertexID{z.ID}, c.Vertices)
	}
	assert.Greater(t, positions[z.ID], positions[x.ID])
	assert.Equal(t, positions[x.ID], positions[y.ID])
}

func TestGraphGarbageCollection(t *testing.T) {
	dg := NewDependencyGraph()
	a1 := dg.getOrCreateCell(NewAddress(1, 0, 0))
	a2 := dg.getOrCreateCell(NewAddress(1, 1, 0))
	r := dg.getOrCreateRange(NewRangeAddress(NewAddress(1, 0, 0), NewAddress(1, 1, 0)))
	b1 := dg.getOrCreateCell(NewAddress(1, 0, 1))
	b1.Kind = VertexFormulaCell
	dg.AddEdge(r.ID, b1.ID)
	require.Equal(t, 4, dg.VertexCount())

	// a range with a reader survives
	dg.collectGarbage([]VertexID{r.ID})
	assert.Equal(t, 4, dg.VertexCount())

	// once unread it goes, and so do the empty cells it kept alive
	dg.clearDependencies(b1.ID)
	dg.collectGarbage([]VertexID{r.ID})
	assert.Equal(t, 1, dg.VertexCount())
	assert.Nil(t, dg.Vertex(r.ID))
	assert.Nil(t, dg.Vertex(a1.ID))
	assert.Nil(t, dg.Vertex(a2.ID))
	_, ok := dg.RangeVertex(r.Range)
	assert.False(t, ok)

	// freed slots are recycled
	fresh := dg.getOrCreateCell(NewAddress(1, 9, 9))
	assert.Contains(t, []VertexID{r.ID, a1.ID, a2.ID}, fresh.ID)
}

func TestGraphDimensions(t *testing.T) {
	dg := NewDependencyGraph()
	assert.Equal(t, SheetDimensions{}, dg.Dimensions(1))

	v := dg.getOrCreateCell(NewAddress(1, 4, 2))
	v.Kind = VertexValueCell
	dg.invalidateDimensions(1)
	// empty placeholders do not count
	dg.getOrCreateCell(NewAddress(1, 10, 10))

	assert.Equal(t, SheetDimensions{Rows: 5, Columns: 3}, dg.Dimensions(1))
	assert.Equal(t, SheetDimensions{}, dg.Dimensions(2))
}

func TestGraphDirtySet(t *testing.T) {
	dg := NewDependencyGraph()
	a := dg.getOrCreateCell(NewAddress(1, 0, 0))
	b := dg.getOrCreateCell(NewAddress(1, 1, 0))

	dg.MarkDirty(b.ID)
	dg.MarkDirty(a.ID)
	dg.MarkDirty(VertexID(999))
	assert.Equal(t, []VertexID{a.ID, b.ID}, dg.DirtyVertices())
	assert.Equal(t, VertexDirty, dg.Vertex(a.ID).State)

	dg.ClearAllDirty()
	assert.Empty(t, dg.DirtyVertices())
	assert.Equal(t, "formula", VertexFormulaCell.String())
	assert.True(t, VertexEmptyCell.IsCell())
	assert.False(t, VertexRange.IsCell())
}
