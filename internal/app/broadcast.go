package app

import (
	"sync"

	"gauntlet-service/internal/domain"
)

const subscriberBuffer = 16

// Hub fans group events out to every subscribed connection. Publishing
// never blocks: a subscriber whose buffer is full loses its oldest event.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[int64]map[chan domain.Event]struct{})}
}

// Subscribe registers a receiver for a group's channel.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(groupID int64) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.groups[groupID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.groups[groupID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.groups[groupID]
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.groups, groupID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of its group.
func (h *Hub) Publish(ev domain.Event) {
	// The write lock keeps the drain-then-send below from racing another publisher.
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.groups[ev.GroupID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribers returns how many connections listen to a group.
func (h *Hub) Subscribers(groupID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}
