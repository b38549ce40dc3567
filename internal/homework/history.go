package homework

// DefaultHistoryDepth bounds the undo stack of the editor.
const DefaultHistoryDepth = 50

// History is the editor's undo/redo stack. The top of the undo stack is the current state.
// It is not safe for concurrent use.
type History struct {
	depth int
	undo  []string
	redo  []string
}

// NewHistory returns an empty history keeping at most depth states.
func NewHistory(depth int) *History {
	if depth < 1 {
		depth = DefaultHistoryDepth
	}
	return &History{depth: depth}
}

// Record pushes state unless it equals the current one and clears the redo stack.
func (h *History) Record(state string) {
	if len(h.undo) > 0 && h.undo[len(h.undo)-1] == state {
		return
	}
	h.undo = append(h.undo, state)
	if len(h.undo) > h.depth {
		h.undo = append([]string(nil), h.undo[len(h.undo)-h.depth:]...)
	}
	h.redo = nil
}

// Undo steps back one state. The oldest state is never undone.
func (h *History) Undo() (string, bool) {
	if len(h.undo) < 2 {
		return "", false
	}
	last := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, last)
	return h.undo[len(h.undo)-1], true
}

// Redo re-applies the most recently undone state.
func (h *History) Redo() (string, bool) {
	if len(h.redo) == 0 {
		return "", false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, next)
	return next, true
}

// Current returns the current state, if any.
func (h *History) Current() (string, bool) {
	if len(h.undo) == 0 {
		return "", false
	}
	return h.undo[len(h.undo)-1], true
}

// Len reports the number of undoable states.
func (h *History) Len() int {
	return len(h.undo)
}

// Reset empties both stacks.
func (h *History) Reset() {
	h.undo = nil
	h.redo = nil
}
