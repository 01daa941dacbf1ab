package spreadsheet

import (
	"slices"
	"strings"
)

// GlobalScope is the scope of workbook-wide named expressions
const GlobalScope uint32 = 0

// NamedExpression describes a defined name as reported to callers
type NamedExpression struct {
	Name       string
	Scope      uint32 // GlobalScope or a sheet ID
	Expression Primitive
}

// NamedExpressionTable manages named expression vertices per scope. global
// names keep one vertex per name for as long as anything references it;
// while undefined it is a placeholder evaluating to #NAME?.
type NamedExpressionTable struct {
	global map[string]VertexID            // upper name -> vertex, defined or placeholder
	local  map[uint32]map[string]VertexID // sheet ID -> upper name -> vertex
	names  map[VertexID]string            // vertex -> name as written when defined
}

// NewNamedExpressionTable creates an empty table
func NewNamedExpressionTable() *NamedExpressionTable {
	return &NamedExpressionTable{
		global: make(map[string]VertexID),
		local:  make(map[uint32]map[string]VertexID),
		names:  make(map[VertexID]string),
	}
}

func nameKey(name string) string {
	return strings.ToUpper(name)
}

// Global returns the global vertex for a name, defined or placeholder
func (nt *NamedExpressionTable) Global(name string) (VertexID, bool) {
	id, exists := nt.global[nameKey(name)]
	return id, exists
}

// Local returns the sheet-local vertex for a name
func (nt *NamedExpressionTable) Local(sheet uint32, name string) (VertexID, bool) {
	id, exists := nt.local[sheet][nameKey(name)]
	return id, exists
}

// Get returns the vertex for a name in exactly the given scope
func (nt *NamedExpressionTable) Get(name string, scope uint32) (VertexID, bool) {
	if scope == GlobalScope {
		return nt.Global(name)
	}
	return nt.Local(scope, name)
}

// Resolve finds the vertex a formula on sheet sees for name: the sheet's
// own definition shadows the global one
func (nt *NamedExpressionTable) Resolve(name string, sheet uint32) (VertexID, bool) {
	if id, ok := nt.Local(sheet, name); ok {
		return id, true
	}
	return nt.Global(name)
}

func (nt *NamedExpressionTable) setGlobal(name string, id VertexID) {
	nt.global[nameKey(name)] = id
}

func (nt *NamedExpressionTable) setLocal(sheet uint32, name string, id VertexID) {
	if nt.local[sheet] == nil {
		nt.local[sheet] = make(map[string]VertexID)
	}
	nt.local[sheet][nameKey(name)] = id
}

func (nt *NamedExpressionTable) setDisplayName(id VertexID, name string) {
	nt.names[id] = name
}

// DisplayName returns the name as written when it was defined
func (nt *NamedExpressionTable) DisplayName(id VertexID) (string, bool) {
	name, ok := nt.names[id]
	return name, ok
}

// remove forgets a vertex in whichever scope holds it
func (nt *NamedExpressionTable) remove(id VertexID) {
	delete(nt.names, id)
	for name, v := range nt.global {
		if v == id {
			delete(nt.global, name)
		}
	}
	for sheet, scope := range nt.local {
		for name, v := range scope {
			if v == id {
				delete(scope, name)
			}
		}
		if len(scope) == 0 {
			delete(nt.local, sheet)
		}
	}
}

// LocalVertices returns the vertices scoped to a sheet, ordered by name
func (nt *NamedExpressionTable) LocalVertices(sheet uint32) []VertexID {
	names := make([]string, 0, len(nt.local[sheet]))
	for name := range nt.local[sheet] {
		names = append(names, name)
	}
	slices.Sort(names)
	result := make([]VertexID, len(names))
	for i, name := range names {
		result[i] = nt.local[sheet][name]
	}
	return result
}

// GlobalVertices returns the global vertices, defined or not, ordered by
// name
func (nt *NamedExpressionTable) GlobalVertices() []VertexID {
	names := make([]string, 0, len(nt.global))
	for name := range nt.global {
		names = append(names, name)
	}
	slices.Sort(names)
	result := make([]VertexID, len(names))
	for i, name := range names {
		result[i] = nt.global[name]
	}
	return result
}

// AllVertices returns every named expression vertex, globals first
func (nt *NamedExpressionTable) AllVertices() []VertexID {
	result := nt.GlobalVertices()
	sheets := make([]uint32, 0, len(nt.local))
	for sheet := range nt.local {
		sheets = append(sheets, sheet)
	}
	slices.Sort(sheets)
	for _, sheet := range sheets {
		result = append(result, nt.LocalVertices(sheet)...)
	}
	return result
}
