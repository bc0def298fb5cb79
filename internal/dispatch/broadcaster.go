// Package dispatch fans events out to live driver and customer connections.
// Delivery is at-most-once, best effort: critical transitions are therefore
// notified directly here and redundantly through the change-feed.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/observability"
)

// Handle is one live channel to a user. A user may hold several at once
// (phone plus tablet, or a reconnect racing the old socket's teardown).
type Handle interface {
	WriteJSON(v any) error
	Close() error
}

type entry struct {
	id int64
	h  Handle
}

type Broadcaster struct {
	mu     sync.RWMutex
	conns  map[string][]entry
	nextID int64
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{conns: make(map[string][]entry), logger: logger}
}

// Register adds a handle for userID and returns its registration id for
// later Unregister.
func (b *Broadcaster) Register(userID string, h Handle) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.conns[userID] = append(b.conns[userID], entry{id: id, h: h})
	observability.WSConnections.Inc()
	b.logger.Debug("connection registered", "user_id", userID, "handle", id)
	return id
}

// Unregister removes one handle; removing the last one drops the user from
// the registry entirely.
func (b *Broadcaster) Unregister(userID string, handleID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(userID, handleID)
}

func (b *Broadcaster) removeLocked(userID string, handleID int64) {
	list := b.conns[userID]
	for i, e := range list {
		if e.id != handleID {
			continue
		}
		_ = e.h.Close()
		list = append(list[:i], list[i+1:]...)
		observability.WSConnections.Dec()
		break
	}
	if len(list) == 0 {
		delete(b.conns, userID)
		return
	}
	b.conns[userID] = list
}

// Connected reports whether userID has at least one live handle.
func (b *Broadcaster) Connected(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns[userID]) > 0
}

// Notify sends the event to every handle of userID and reports whether
// delivery was attempted on at least one. Handles that fail to write are
// pruned on the spot; there is no background sweep to race registrations.
func (b *Broadcaster) Notify(userID, eventType string, payload any) bool {
	ev, err := envelope(eventType, payload)
	if err != nil {
		b.logger.Error("event payload not serializable", "event", eventType, "error", err)
		return false
	}
	return b.send(userID, ev)
}

func (b *Broadcaster) send(userID string, ev models.Event) bool {
	b.mu.RLock()
	list := make([]entry, len(b.conns[userID]))
	copy(list, b.conns[userID])
	b.mu.RUnlock()
	if len(list) == 0 {
		return false
	}

	var stale []int64
	for _, e := range list {
		if err := e.h.WriteJSON(ev); err != nil {
			b.logger.Warn("send failed, pruning handle", "user_id", userID, "handle", e.id, "error", err)
			stale = append(stale, e.id)
		}
	}
	if len(stale) > 0 {
		b.mu.Lock()
		for _, id := range stale {
			b.removeLocked(userID, id)
		}
		b.mu.Unlock()
	}
	return len(stale) < len(list)
}

// NotifyMany batches Notify and returns how many users were reached.
func (b *Broadcaster) NotifyMany(userIDs []string, eventType string, payload any) int {
	ev, err := envelope(eventType, payload)
	if err != nil {
		b.logger.Error("event payload not serializable", "event", eventType, "error", err)
		return 0
	}
	n := 0
	for _, id := range userIDs {
		if b.send(id, ev) {
			n++
		}
	}
	return n
}

// BroadcastFiltered delivers the event to every connected user the predicate
// admits; used for geo-scoped ride offers against a precomputed candidate
// set. Returns the number of users reached.
func (b *Broadcaster) BroadcastFiltered(eventType string, payload any, allow func(userID string) bool) int {
	b.mu.RLock()
	targets := make([]string, 0, len(b.conns))
	for id := range b.conns {
		if allow(id) {
			targets = append(targets, id)
		}
	}
	b.mu.RUnlock()

	ev, err := envelope(eventType, payload)
	if err != nil {
		b.logger.Error("event payload not serializable", "event", eventType, "error", err)
		return 0
	}
	n := 0
	for _, id := range targets {
		if b.send(id, ev) {
			n++
		}
	}
	return n
}

// Drain closes every handle; used at graceful shutdown.
func (b *Broadcaster) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, list := range b.conns {
		for _, e := range list {
			_ = e.h.Close()
			observability.WSConnections.Dec()
		}
		delete(b.conns, userID)
	}
}

func envelope(eventType string, payload any) (models.Event, error) {
	ev := models.Event{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ev, err
		}
		ev.Data = data
	}
	return ev, nil
}
