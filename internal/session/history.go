package session

import (
	"slices"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

const (
	// DefaultHistoryLimit: сколько снимков хранит история по умолчанию.
	DefaultHistoryLimit = 50

	headCursor = -1
)

// History хранит снимки заказа до каждой мутации и курсор для undo/redo.
//
// Пока курсор стоит на head (-1), рабочая копия новее всех записей.
// После первого undo рабочая копия запоминается в head, чтобы redo мог к ней вернуться.
type History struct {
	entries []domain.Order
	head    *domain.Order
	cursor  int
	limit   int
}

// NewHistory создаёт историю с ограничением limit (<=0: значение по умолчанию).
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{cursor: headCursor, limit: limit}
}

// Push запоминает состояние до мутации.
// Если до этого был undo, ветка redo отбрасывается.
func (h *History) Push(current domain.Order) {
	if h.cursor != headCursor {
		// entries[cursor] совпадает с current и будет добавлен заново ниже
		h.entries = h.entries[:h.cursor]
		h.cursor = headCursor
		h.head = nil
	}

	h.entries = append(h.entries, current.Clone())
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = slices.Clone(h.entries[over:])
	}
}

// Undo возвращает предыдущий снимок. current: текущая рабочая копия.
func (h *History) Undo(current domain.Order) (domain.Order, bool) {
	if len(h.entries) == 0 || h.cursor == 0 {
		return domain.Order{}, false
	}

	if h.cursor == headCursor {
		head := current.Clone()
		h.head = &head
		h.cursor = len(h.entries) - 1
	} else {
		h.cursor--
	}
	return h.entries[h.cursor].Clone(), true
}

// Redo возвращает снимок, от которого был сделан последний undo.
func (h *History) Redo() (domain.Order, bool) {
	if h.cursor == headCursor || len(h.entries) == 0 {
		return domain.Order{}, false
	}

	if h.cursor >= len(h.entries)-1 {
		var out domain.Order
		if h.head != nil {
			out = h.head.Clone()
		}
		h.head = nil
		h.cursor = headCursor
		return out, true
	}

	h.cursor++
	return h.entries[h.cursor].Clone(), true
}

// CanUndo сообщает, есть ли куда откатываться.
func (h *History) CanUndo() bool {
	return len(h.entries) > 0 && h.cursor != 0
}

// CanRedo сообщает, был ли undo без последующей мутации.
func (h *History) CanRedo() bool {
	return h.cursor != headCursor && len(h.entries) > 0
}

// Len возвращает количество сохранённых снимков.
func (h *History) Len() int {
	return len(h.entries)
}

// Limit возвращает максимальное количество снимков.
func (h *History) Limit() int {
	return h.limit
}

// Cursor возвращает позицию курсора (-1: head).
func (h *History) Cursor() int {
	return h.cursor
}

// Clear очищает историю.
func (h *History) Clear() {
	h.entries = nil
	h.head = nil
	h.cursor = headCursor
}
