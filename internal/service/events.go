package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const eventBuffer = 8

// eventHub fans attempt events out to stream subscribers. Slow subscribers
// lose events instead of blocking the timer.
type eventHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan model.AttemptEvent]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[uuid.UUID]map[chan model.AttemptEvent]struct{})}
}

func (h *eventHub) subscribe(id uuid.UUID) (<-chan model.AttemptEvent, func()) {
	ch := make(chan model.AttemptEvent, eventBuffer)

	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[chan model.AttemptEvent]struct{})
		h.subs[id] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[id]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, id)
				}
			}
			close(ch)
		})
	}
}

func (h *eventHub) publish(id uuid.UUID, ev model.AttemptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
}
