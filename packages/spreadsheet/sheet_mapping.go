package spreadsheet

import (
	"slices"
	"strings"
)

// SheetMapping manages sheet names and ID mappings. names are compared
// case-insensitively but keep the spelling they were added with.
type SheetMapping struct {
	// core name/ID mapping

	nameToID map[string]uint32 // lowercased name -> ID
	idToName map[uint32]string // ID -> display name
	order    []uint32          // sheet IDs in tab order

	// formulas waiting for a sheet that does not exist yet

	awaiting   map[string]map[VertexID]struct{} // lowercased name -> formula vertices
	awaitingBy map[VertexID]string              // reverse index

	nextID uint32
}

// NewSheetMapping creates an empty sheet mapping
func NewSheetMapping() *SheetMapping {
	return &SheetMapping{
		nameToID:   make(map[string]uint32),
		idToName:   make(map[uint32]string),
		awaiting:   make(map[string]map[VertexID]struct{}),
		awaitingBy: make(map[VertexID]string),
		nextID:     1, // start at 1, reserve 0 for no sheet
	}
}

func sheetKey(name string) string {
	return strings.ToLower(name)
}

// validateNewName checks that name can be given to a new sheet, or to the
// sheet except when renaming
func (sm *SheetMapping) validateNewName(name string, except uint32) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidArgument("sheet name must not be empty")
	}
	if strings.ContainsAny(name, "[]*?/\\:") {
		return ErrInvalidArgument("sheet name %q contains an invalid character", name)
	}
	if id, exists := sm.nameToID[sheetKey(name)]; exists && id != except {
		return ErrSheetNameAlreadyTaken(name)
	}
	return nil
}

// AddSheet defines a new sheet at the end of the tab order and returns its
// ID
func (sm *SheetMapping) AddSheet(name string) (uint32, error) {
	if err := sm.validateNewName(name, 0); err != nil {
		return 0, err
	}
	id := sm.nextID
	sm.nextID++
	sm.define(id, name, len(sm.order))
	return id, nil
}

// restoreSheet re-defines a removed sheet under its previous ID and tab
// position
func (sm *SheetMapping) restoreSheet(id uint32, name string, position int) error {
	if _, exists := sm.idToName[id]; exists {
		return ErrSheetNameAlreadyTaken(name)
	}
	if err := sm.validateNewName(name, 0); err != nil {
		return err
	}
	sm.define(id, name, min(position, len(sm.order)))
	if id >= sm.nextID {
		sm.nextID = id + 1
	}
	return nil
}

func (sm *SheetMapping) define(id uint32, name string, position int) {
	sm.nameToID[sheetKey(name)] = id
	sm.idToName[id] = name
	sm.order = slices.Insert(sm.order, position, id)
}

// RemoveSheet removes a sheet and returns its former tab position
func (sm *SheetMapping) RemoveSheet(id uint32) (int, error) {
	name, exists := sm.idToName[id]
	if !exists {
		return 0, ErrSheetNotFound(id)
	}
	position := slices.Index(sm.order, id)
	delete(sm.nameToID, sheetKey(name))
	delete(sm.idToName, id)
	sm.order = slices.Delete(sm.order, position, position+1)
	return position, nil
}

// RenameSheet renames a sheet and returns the previous name. changing only
// the case of a name is allowed.
func (sm *SheetMapping) RenameSheet(id uint32, newName string) (string, error) {
	oldName, exists := sm.idToName[id]
	if !exists {
		return "", ErrSheetNotFound(id)
	}
	if err := sm.validateNewName(newName, id); err != nil {
		return "", err
	}
	delete(sm.nameToID, sheetKey(oldName))
	sm.nameToID[sheetKey(newName)] = id
	sm.idToName[id] = newName
	return oldName, nil
}

// ID returns the ID for a sheet name
func (sm *SheetMapping) ID(name string) (uint32, bool) {
	id, exists := sm.nameToID[sheetKey(name)]
	return id, exists
}

// Name returns the name for a sheet ID
func (sm *SheetMapping) Name(id uint32) (string, bool) {
	name, exists := sm.idToName[id]
	return name, exists
}

// Contains checks if a sheet ID is defined
func (sm *SheetMapping) Contains(id uint32) bool {
	_, exists := sm.idToName[id]
	return exists
}

// Sheets returns sheet IDs in tab order
func (sm *SheetMapping) Sheets() []uint32 {
	return slices.Clone(sm.order)
}

// Names returns sheet names in tab order
func (sm *SheetMapping) Names() []string {
	result := make([]string, 0, len(sm.order))
	for _, id := range sm.order {
		result = append(result, sm.idToName[id])
	}
	return result
}

// First returns the first sheet in tab order
func (sm *SheetMapping) First() (uint32, bool) {
	if len(sm.order) == 0 {
		return 0, false
	}
	return sm.order[0], true
}

// Count returns the number of defined sheets
func (sm *SheetMapping) Count() int {
	return len(sm.order)
}

// Await records that a formula vertex refers to a sheet name that is not
// defined yet
func (sm *SheetMapping) Await(name string, v VertexID) {
	sm.StopAwaiting(v)
	key := sheetKey(name)
	if sm.awaiting[key] == nil {
		sm.awaiting[key] = make(map[VertexID]struct{})
	}
	sm.awaiting[key][v] = struct{}{}
	sm.awaitingBy[v] = key
}

// StopAwaiting forgets a waiting formula vertex
func (sm *SheetMapping) StopAwaiting(v VertexID) {
	key, exists := sm.awaitingBy[v]
	if !exists {
		return
	}
	delete(sm.awaitingBy, v)
	if waiting, ok := sm.awaiting[key]; ok {
		delete(waiting, v)
		if len(waiting) == 0 {
			delete(sm.awaiting, key)
		}
	}
}

// Awaiting returns the formula vertices waiting for a sheet name, sorted
func (sm *SheetMapping) Awaiting(name string) []VertexID {
	waiting := sm.awaiting[sheetKey(name)]
	result := make([]VertexID, 0, len(waiting))
	for v := range waiting {
		result = append(result, v)
	}
	slices.Sort(result)
	return result
}

// AwaitedNames returns the sheet names formulas are waiting for
func (sm *SheetMapping) AwaitedNames() []string {
	result := make([]string, 0, len(sm.awaiting))
	for name := range sm.awaiting {
		result = append(result, name)
	}
	slices.Sort(result)
	return result
}
