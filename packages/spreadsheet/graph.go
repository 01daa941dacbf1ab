package spreadsheet

import (
	"fmt"
	"slices"
)

// VertexID is a stable handle into the graph arena. 0 is never a valid
// vertex.
type VertexID uint32

// VertexKind tags what a vertex stands for
type VertexKind uint8

const (
	VertexFormulaCell VertexKind = iota + 1
	VertexValueCell
	VertexEmptyCell
	VertexRange
	VertexNamedExpression
)

func (k VertexKind) String() string {
	switch k {
	case VertexFormulaCell:
		return "formula"
	case VertexValueCell:
		return "value"
	case VertexEmptyCell:
		return "empty"
	case VertexRange:
		return "range"
	case VertexNamedExpression:
		return "named"
	default:
		return fmt.Sprintf("VertexKind(%d)", uint8(k))
	}
}

// IsCell reports whether the vertex kind sits at a cell address
func (k VertexKind) IsCell() bool {
	return k == VertexFormulaCell || k == VertexValueCell || k == VertexEmptyCell
}

// VertexState is the recalculation state of a vertex
type VertexState uint8

const (
	VertexClean VertexState = iota
	VertexDirty
	VertexEvaluating
	VertexCleanWithError
)

// Vertex is one node of the dependency graph. which fields are meaningful
// depends on Kind.
type Vertex struct {
	ID    VertexID
	Kind  VertexKind
	State VertexState

	Address Address      // cell kinds, and the base address of named expressions
	Range   RangeAddress // VertexRange
	Name    string       // VertexNamedExpression, upper-cased
	Scope   uint32       // VertexNamedExpression, 0 for global

	Raw      Primitive // value for value cells, formula text for formulas and named expressions
	AST      ASTNode
	ParseErr *ParseError
	Value    Primitive
	Volatile bool
	Defined  bool // VertexNamedExpression: false for placeholders of unknown names

	templateHash uint64

	dependencies map[VertexID]struct{} // vertices this one reads
	dependents   map[VertexID]struct{} // vertices reading this one

	// criterion cache, range vertices only
	criterionEntries     map[string]*criterionEntry
	dependentCacheRanges map[VertexID]struct{}
}

// DependencyGraph is an arena of vertices. an edge u -> v means v depends
// on u.
type DependencyGraph struct {
	vertices []*Vertex // indexed by VertexID, slot 0 unused
	free     []VertexID
	count    int

	cells       map[Address]VertexID
	ranges      map[RangeAddress]VertexID
	sheetCells  map[uint32]map[VertexID]struct{}
	sheetRanges map[uint32]map[VertexID]struct{}

	dirty    map[VertexID]struct{}
	volatile map[VertexID]struct{}

	dimensions map[uint32]SheetDimensions

	// onRemove is called for every vertex just before it leaves the arena
	onRemove func(v *Vertex)
}

// SheetDimensions is the used extent of a sheet
type SheetDimensions struct {
	Rows    uint32
	Columns uint32
}

// NewDependencyGraph creates an empty dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		vertices:    []*Vertex{nil},
		cells:       make(map[Address]VertexID),
		ranges:      make(map[RangeAddress]VertexID),
		sheetCells:  make(map[uint32]map[VertexID]struct{}),
		sheetRanges: make(map[uint32]map[VertexID]struct{}),
		dirty:       make(map[VertexID]struct{}),
		volatile:    make(map[VertexID]struct{}),
		dimensions:  make(map[uint32]SheetDimensions),
	}
}

func (dg *DependencyGraph) newVertex(kind VertexKind) *Vertex {
	var id VertexID
	if n := len(dg.free); n > 0 {
		id = dg.free[n-1]
		dg.free = dg.free[:n-1]
	} else {
		id = VertexID(len(dg.vertices))
		dg.vertices = append(dg.vertices, nil)
	}
	v := &Vertex{
		ID:           id,
		Kind:         kind,
		dependencies: make(map[VertexID]struct{}),
		dependents:   make(map[VertexID]struct{}),
	}
	dg.vertices[id] = v
	dg.count++
	return v
}

// Vertex returns the vertex with the given id, or nil
func (dg *DependencyGraph) Vertex(id VertexID) *Vertex {
	if int(id) >= len(dg.vertices) {
		return nil
	}
	return dg.vertices[id]
}

// VertexCount returns the number of live vertices
func (dg *DependencyGraph) VertexCount() int {
	return dg.count
}

// Vertices returns the ids of all live vertices in ascending order
func (dg *DependencyGraph) Vertices() []VertexID {
	result := make([]VertexID, 0, dg.count)
	for id, v := range dg.vertices {
		if v != nil {
			result = append(result, VertexID(id))
		}
	}
	return result
}

// CellVertex returns the vertex at a cell address
func (dg *DependencyGraph) CellVertex(addr Address) (VertexID, bool) {
	id, exists := dg.cells[addr]
	return id, exists
}

// RangeVertex returns the vertex for a range
func (dg *DependencyGraph) RangeVertex(r RangeAddress) (VertexID, bool) {
	id, exists := dg.ranges[r]
	return id, exists
}

// getOrCreateCell returns the vertex at addr, creating an empty cell
// vertex linked to every range containing it
func (dg *DependencyGraph) getOrCreateCell(addr Address) *Vertex {
	if id, exists := dg.cells[addr]; exists {
		return dg.vertices[id]
	}
	v := dg.newVertex(VertexEmptyCell)
	v.Address = addr
	dg.registerCell(v)
	for rangeID := range dg.sheetRanges[addr.Sheet] {
		if dg.vertices[rangeID].Range.Contains(addr) {
			dg.AddEdge(v.ID, rangeID)
		}
	}
	return v
}

func (dg *DependencyGraph) registerCell(v *Vertex) {
	dg.cells[v.Address] = v.ID
	if dg.sheetCells[v.Address.Sheet] == nil {
		dg.sheetCells[v.Address.Sheet] = make(map[VertexID]struct{})
	}
	dg.sheetCells[v.Address.Sheet][v.ID] = struct{}{}
	delete(dg.dimensions, v.Address.Sheet)
}

func (dg *DependencyGraph) unregisterCell(v *Vertex) {
	if dg.cells[v.Address] == v.ID {
		delete(dg.cells, v.Address)
	}
	if set, ok := dg.sheetCells[v.Address.Sheet]; ok {
		delete(set, v.ID)
		if len(set) == 0 {
			delete(dg.sheetCells, v.Address.Sheet)
		}
	}
	delete(dg.dimensions, v.Address.Sheet)
}

// getOrCreateRange returns the vertex for r, creating it with edges from
// every existing cell vertex inside the rectangle
func (dg *DependencyGraph) getOrCreateRange(r RangeAddress) *Vertex {
	if id, exists := dg.ranges[r]; exists {
		return dg.vertices[id]
	}
	v := dg.newVertex(VertexRange)
	v.Range = r
	dg.registerRange(v)
	dg.linkRangeCells(v)
	return v
}

func (dg *DependencyGraph) registerRange(v *Vertex) {
	dg.ranges[v.Range] = v.ID
	if dg.sheetRanges[v.Range.Sheet] == nil {
		dg.sheetRanges[v.Range.Sheet] = make(map[VertexID]struct{})
	}
	dg.sheetRanges[v.Range.Sheet][v.ID] = struct{}{}
}

func (dg *DependencyGraph) unregisterRange(v *Vertex) {
	if dg.ranges[v.Range] == v.ID {
		delete(dg.ranges, v.Range)
	}
	if set, ok := dg.sheetRanges[v.Range.Sheet]; ok {
		delete(set, v.ID)
		if len(set) == 0 {
			delete(dg.sheetRanges, v.Range.Sheet)
		}
	}
}

// linkRangeCells adds an edge from every cell vertex inside the range's
// rectangle to the range vertex
func (dg *DependencyGraph) linkRangeCells(v *Vertex) {
	for cellID := range dg.sheetCells[v.Range.Sheet] {
		if v.Range.Contains(dg.vertices[cellID].Address) {
			dg.AddEdge(cellID, v.ID)
		}
	}
}

// relinkRangeCells drops and recomputes the cell edges into a range vertex
func (dg *DependencyGraph) relinkRangeCells(v *Vertex) {
	for dep := range v.dependencies {
		if dg.vertices[dep].Kind.IsCell() {
			dg.RemoveEdge(dep, v.ID)
		}
	}
	dg.linkRangeCells(v)
}

// AddEdge records that to depends on from. adding an existing edge is a
// no-op.
func (dg *DependencyGraph) AddEdge(from, to VertexID) {
	dg.vertices[from].dependents[to] = struct{}{}
	dg.vertices[to].dependencies[from] = struct{}{}
}

// RemoveEdge removes the edge from -> to if present
func (dg *DependencyGraph) RemoveEdge(from, to VertexID) {
	if v := dg.Vertex(from); v != nil {
		delete(v.dependents, to)
	}
	if v := dg.Vertex(to); v != nil {
		delete(v.dependencies, from)
	}
}

// HasEdge reports whether to depends on from
func (dg *DependencyGraph) HasEdge(from, to VertexID) bool {
	v := dg.Vertex(from)
	if v == nil {
		return false
	}
	_, exists := v.dependents[to]
	return exists
}

// Dependencies returns the vertices v reads, sorted
func (dg *DependencyGraph) Dependencies(id VertexID) []VertexID {
	v := dg.Vertex(id)
	if v == nil {
		return nil
	}
	return sortedIDs(v.dependencies)
}

// Dependents returns the vertices reading v, sorted
func (dg *DependencyGraph) Dependents(id VertexID) []VertexID {
	v := dg.Vertex(id)
	if v == nil {
		return nil
	}
	return sortedIDs(v.dependents)
}

func sortedIDs(set map[VertexID]struct{}) []VertexID {
	result := make([]VertexID, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	slices.Sort(result)
	return result
}

// clearDependencies removes every incoming edge of a formula or named
// expression vertex and returns the former dependencies
func (dg *DependencyGraph) clearDependencies(id VertexID) []VertexID {
	v := dg.vertices[id]
	former := sortedIDs(v.dependencies)
	for _, dep := range former {
		dg.RemoveEdge(dep, id)
	}
	return former
}

// removeVertex deletes a vertex and all its edges. the slot is recycled.
func (dg *DependencyGraph) removeVertex(id VertexID) {
	v := dg.Vertex(id)
	if v == nil {
		return
	}
	for dep := range v.dependencies {
		delete(dg.vertices[dep].dependents, id)
	}
	for dep := range v.dependents {
		delete(dg.vertices[dep].dependencies, id)
	}
	if dg.onRemove != nil {
		dg.onRemove(v)
	}
	switch v.Kind {
	case VertexFormulaCell, VertexValueCell, VertexEmptyCell:
		dg.unregisterCell(v)
	case VertexRange:
		dg.unregisterRange(v)
	case VertexNamedExpression:
	}
	delete(dg.dirty, id)
	delete(dg.volatile, id)
	dg.vertices[id] = nil
	dg.free = append(dg.free, id)
	dg.count--
}

// collectGarbage removes empty cell vertices nothing reads (apart from
// range aggregation) and range vertices nothing reads. it cascades from
// the given candidates.
func (dg *DependencyGraph) collectGarbage(candidates []VertexID) {
	queue := slices.Clone(candidates)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		v := dg.Vertex(id)
		if v == nil {
			continue
		}
		switch v.Kind {
		case VertexEmptyCell:
			if dg.hasNonRangeDependents(v) {
				continue
			}
			dg.removeVertex(id)
		case VertexRange:
			if len(v.dependents) > 0 {
				continue
			}
			cells := sortedIDs(v.dependencies)
			dg.removeVertex(id)
			queue = append(queue, cells...)
		case VertexNamedExpression:
			if v.Defined || len(v.dependents) > 0 {
				continue
			}
			dg.removeVertex(id)
		case VertexFormulaCell, VertexValueCell:
		}
	}
}

func (dg *DependencyGraph) hasNonRangeDependents(v *Vertex) bool {
	for dep := range v.dependents {
		if dg.vertices[dep].Kind != VertexRange {
			return true
		}
	}
	return false
}

// relocateCell moves a cell vertex to a new address. edges into range
// vertices are left untouched; callers relink ranges whose membership
// changed.
func (dg *DependencyGraph) relocateCell(id VertexID, to Address) {
	v := dg.vertices[id]
	dg.unregisterCell(v)
	v.Address = to
	dg.registerCell(v)
}

// MarkDirty flags a vertex for recalculation
func (dg *DependencyGraph) MarkDirty(id VertexID) {
	if v := dg.Vertex(id); v != nil {
		v.State = VertexDirty
		dg.dirty[id] = struct{}{}
	}
}

// DirtyVertices returns the flagged vertices, sorted
func (dg *DependencyGraph) DirtyVertices() []VertexID {
	return sortedIDs(dg.dirty)
}

// ClearAllDirty empties the dirty set
func (dg *DependencyGraph) ClearAllDirty() {
	dg.dirty = make(map[VertexID]struct{})
}

// SetVolatile marks or unmarks a vertex as volatile
func (dg *DependencyGraph) SetVolatile(id VertexID, volatile bool) {
	v := dg.Vertex(id)
	if v == nil {
		return
	}
	v.Volatile = volatile
	if volatile {
		dg.volatile[id] = struct{}{}
	} else {
		delete(dg.volatile, id)
	}
}

// VolatileVertices returns the volatile vertices, sorted
func (dg *DependencyGraph) VolatileVertices() []VertexID {
	return sortedIDs(dg.volatile)
}

// CellsInSheet returns the cell vertices of a sheet, sorted by id
func (dg *DependencyGraph) CellsInSheet(sheet uint32) []VertexID {
	return sortedIDs(dg.sheetCells[sheet])
}

// RangesInSheet returns the range vertices of a sheet, sorted by id
func (dg *DependencyGraph) RangesInSheet(sheet uint32) []VertexID {
	return sortedIDs(dg.sheetRanges[sheet])
}

// Dimensions returns the used extent of a sheet: one past the last row and
// column holding a value or formula
func (dg *DependencyGraph) Dimensions(sheet uint32) SheetDimensions {
	if d, ok := dg.dimensions[sheet]; ok {
		return d
	}
	var d SheetDimensions
	for id := range dg.sheetCells[sheet] {
		v := dg.vertices[id]
		if v.Kind == VertexEmptyCell {
			continue
		}
		d.Rows = max(d.Rows, v.Address.Row+1)
		d.Columns = max(d.Columns, v.Address.Col+1)
	}
	dg.dimensions[sheet] = d
	return d
}

// invalidateDimensions forgets the cached extent of a sheet
func (dg *DependencyGraph) invalidateDimensions(sheet uint32) {
	delete(dg.dimensions, sheet)
}

// GraphSnapshot is a canonical, id-independent view of the graph used to
// compare states: vertices are identified by kind and location.
type GraphSnapshot struct {
	Vertices map[string]Primitive
	Edges    map[[2]string]struct{}
}

// vertexKey identifies a vertex by what it stands for rather than its id
func (dg *DependencyGraph) vertexKey(v *Vertex) string {
	switch v.Kind {
	case VertexRange:
		return "range:" + v.Range.String()
	case VertexNamedExpression:
		return fmt.Sprintf("named:%d:%s", v.Scope, v.Name)
	default:
		return v.Kind.String() + ":" + v.Address.String()
	}
}

// Snapshot captures vertices, edges and values
func (dg *DependencyGraph) Snapshot() GraphSnapshot {
	snap := GraphSnapshot{
		Vertices: make(map[string]Primitive, dg.count),
		Edges:    make(map[[2]string]struct{}),
	}
	for _, v := range dg.vertices {
		if v == nil {
			continue
		}
		key := dg.vertexKey(v)
		value := v.Value
		if err, ok := value.(*SpreadsheetError); ok {
			value = err.String()
		}
		if r, ok := value.(Range); ok {
			value = "range:" + r.Address().String()
		}
		if v.Kind == VertexRange {
			value = nil
		}
		snap.Vertices[key] = value
		for dep := range v.dependents {
			snap.Edges[[2]string{key, dg.vertexKey(dg.vertices[dep])}] = struct{}{}
		}
	}
	return snap
}
