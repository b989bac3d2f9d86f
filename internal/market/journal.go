package market

import (
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// txn is the per-operation scratch space shared by all components: the undo
// journal, the events buffered until commit and the block timestamp.
//
// Every state change must be preceded by a save/saveKey call so that revert
// can restore the exact prior state. Stored *big.Int values and nested maps
// are never mutated in place; they are replaced.
type txn struct {
	undo   []func()
	events []domain.Event
	now    time.Time
}

func (t *txn) begin(now time.Time) {
	t.undo = t.undo[:0]
	t.events = t.events[:0]
	t.now = now
}

// revert unwinds every recorded change in reverse order and drops buffered events.
func (t *txn) revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:0]
	t.events = t.events[:0]
}

// commit forgets the journal and hands back the buffered events.
func (t *txn) commit() []domain.Event {
	out := make([]domain.Event, len(t.events))
	copy(out, t.events)
	t.undo = t.undo[:0]
	t.events = t.events[:0]
	return out
}

func (t *txn) emit(ev domain.Event) {
	t.events = append(t.events, ev)
}

// save journals the current value behind p.
func save[T any](t *txn, p *T) {
	old := *p
	t.undo = append(t.undo, func() { *p = old })
}

// saveKey journals the presence and value of m[k].
func saveKey[K comparable, V any](t *txn, m map[K]V, k K) {
	old, ok := m[k]
	t.undo = append(t.undo, func() {
		if ok {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}
