package session

import (
	"github.com/wI2L/jsondiff"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// Change: значения поля до и после правок.
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Поля, которые ведёт сервер при каждой записи; в изменениях не показываются.
var changesExcluded = map[string]struct{}{
	domain.FieldVersion:   {},
	domain.FieldUpdatedAt: {},
}

// IsFieldDirty сравнивает поле рабочей копии с исходным заказом.
func (s *Session) IsFieldDirty(name string) bool {
	if !s.loaded {
		return false
	}
	return !domain.FieldEqual(&s.original, &s.working, name)
}

// Changes возвращает все отличающиеся поля верхнего уровня.
func (s *Session) Changes() map[string]Change {
	out := make(map[string]Change)
	if !s.loaded {
		return out
	}
	for _, name := range domain.Fields() {
		if _, skip := changesExcluded[name]; skip {
			continue
		}
		if domain.FieldEqual(&s.original, &s.working, name) {
			continue
		}
		before, _ := domain.GetField(&s.original, name)
		after, _ := domain.GetField(&s.working, name)
		out[name] = Change{Before: before, After: after}
	}
	return out
}

// ChangedFields возвращает имена изменённых полей в порядке схемы.
func (s *Session) ChangedFields() []string {
	changes := s.Changes()
	out := make([]string, 0, len(changes))
	for _, name := range domain.Fields() {
		if _, ok := changes[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Patch строит JSON Patch (RFC 6902) от исходного заказа к рабочей копии.
func (s *Session) Patch() (jsondiff.Patch, error) {
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	return diffOrders(s.original, s.working)
}

func diffOrders(from, to domain.Order) (jsondiff.Patch, error) {
	return jsondiff.Compare(domain.BuildPatch(from), domain.BuildPatch(to))
}
