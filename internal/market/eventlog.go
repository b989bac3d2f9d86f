package market

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// EventSink receives committed events in order. Publish is called with the
// engine lock held and must not call back into the engine.
type EventSink interface {
	Publish(events []domain.Event)
}

// EventLog is an append-only in-process history queryable by entity. When
// max > 0 the oldest events are dropped beyond that size.
type EventLog struct {
	mu     sync.RWMutex
	events []domain.Event
	max    int
}

func NewEventLog(max int) *EventLog {
	return &EventLog{max: max}
}

func (l *EventLog) Append(events ...domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
	if l.max > 0 && len(l.events) > l.max {
		drop := len(l.events) - l.max
		l.events = append(l.events[:0:0], l.events[drop:]...)
	}
}

// ByEntity returns the retained events of one entity, oldest first.
func (l *EventLog) ByEntity(entityType string, id uint64) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Event
	for _, ev := range l.events {
		if ev.EntityType == entityType && ev.EntityID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Since returns up to limit events with Seq > seq.
func (l *EventLog) Since(seq uint64, limit int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := sort.Search(len(l.events), func(i int) bool { return l.events[i].Seq > seq })
	end := len(l.events)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]domain.Event, end-i)
	copy(out, l.events[i:end])
	return out
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// eventID is keccak256(seq || kind || entity key || actor).
func eventID(ev domain.Event) string {
	h := sha3.NewLegacyKeccak256()
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], ev.Seq)
	h.Write(seq[:])
	h.Write([]byte(ev.Kind))
	h.Write([]byte(ev.EntityKey()))
	h.Write(ev.Actor.Bytes())
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
