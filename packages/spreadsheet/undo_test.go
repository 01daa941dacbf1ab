package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEntry logs undo and redo calls into a shared journal
type recordingEntry struct {
	name    string
	journal *[]string
	fail    error
}

func (e *recordingEntry) undo(*Spreadsheet) error {
	*e.journal = append(*e.journal, "undo "+e.name)
	return e.fail
}

func (e *recordingEntry) redo(*Spreadsheet) error {
	*e.journal = append(*e.journal, "redo "+e.name)
	return e.fail
}

func pushEntry(ur *UndoRedo, journal *[]string, name string) {
	ur.Push(newEditOutcome(Inverse{Entry: &recordingEntry{name: name, journal: journal}}))
}

func TestUndoRedoOrder(t *testing.T) {
	var journal []string
	ur := NewUndoRedo(10)
	pushEntry(ur, &journal, "a")
	pushEntry(ur, &journal, "b")

	did, err := ur.Undo(nil)
	require.NoError(t, err)
	assert.True(t, did)
	did, err = ur.Undo(nil)
	require.NoError(t, err)
	assert.True(t, did)

	// nothing left: a no-op, not an error
	did, err = ur.Undo(nil)
	require.NoError(t, err)
	assert.False(t, did)

	did, err = ur.Redo(nil)
	require.NoError(t, err)
	assert.True(t, did)

	assert.Equal(t, []string{"undo b", "undo a", "redo a"}, journal)
	assert.True(t, ur.IsThereSomethingToUndo())
	assert.True(t, ur.IsThereSomethingToRedo())

	// a new edit drops the redo history
	pushEntry(ur, &journal, "c")
	assert.False(t, ur.IsThereSomethingToRedo())
	did, err = ur.Redo(nil)
	require.NoError(t, err)
	assert.False(t, did)
}

func TestUndoRedoLimit(t *testing.T) {
	var journal []string
	ur := NewUndoRedo(2)
	for _, name := range []string{"a", "b", "c"} {
		pushEntry(ur, &journal, name)
	}
	for ur.IsThereSomethingToUndo() {
		_, err := ur.Undo(nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"undo c", "undo b"}, journal)

	disabled := NewUndoRedo(0)
	pushEntry(disabled, &journal, "d")
	assert.False(t, disabled.IsThereSomethingToUndo())
}

func TestUndoRedoIrreversible(t *testing.T) {
	var journal []string
	ur := NewUndoRedo(10)
	pushEntry(ur, &journal, "a")
	pushEntry(ur, &journal, "b")
	_, err := ur.Undo(nil)
	require.NoError(t, err)

	ur.Push(newEditOutcome(Irreversible{Reason: "reference clipped"}))
	assert.False(t, ur.IsThereSomethingToUndo())
	assert.False(t, ur.IsThereSomethingToRedo())

	// history restarts after the irreversible edit
	pushEntry(ur, &journal, "c")
	_, err = ur.Undo(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"undo b", "undo c"}, journal)
}

func TestUndoRedoFailingEntry(t *testing.T) {
	var journal []string
	boom := errors.New("boom")
	ur := NewUndoRedo(10)
	ur.Push(newEditOutcome(Inverse{Entry: &recordingEntry{name: "x", journal: &journal, fail: boom}}))

	did, err := ur.Undo(nil)
	assert.True(t, did)
	assert.ErrorIs(t, err, boom)
	// a failed entry is not moved to the redo history
	assert.False(t, ur.IsThereSomethingToRedo())
	assert.False(t, ur.IsThereSomethingToUndo())
}

func TestEditOutcomeIDs(t *testing.T) {
	a := newEditOutcome(Irreversible{})
	b := newEditOutcome(Irreversible{})
	assert.NotEqual(t, a.ID, b.ID)

	ur := NewUndoRedo(10)
	var journal []string
	pushEntry(ur, &journal, "a")
	ur.Clear()
	assert.False(t, ur.IsThereSomethingToUndo())
}
