// Package bus is the in-process event bus. Components publish named events;
// subscribers registered before a publish are guaranteed delivery.
package bus

import (
	"log/slog"
	"sync"
)

// Event is a named payload broadcast to subscribers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event)
}

// subscriberBuffer bounds each subscriber channel. A slow consumer drops the
// oldest pending event rather than blocking publishers.
const subscriberBuffer = 64

type subscriber struct {
	id int
	ch chan Event
}

// Bus fans events out by name. The empty name subscribes to every event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]*subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers for events with the given name ("" = all events) and
// returns the receive channel plus an unsubscribe func. The channel is closed
// on unsubscribe.
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Event, subscriberBuffer)}
	b.subs[name] = append(b.subs[name], sub)

	id := sub.id
	return sub.ch, func() { b.unsubscribe(name, id) }
}

func (b *Bus) unsubscribe(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			b.subs[name] = append(list[:i], list[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers the event to subscribers of its name and to wildcard
// subscribers. Never blocks: a full subscriber buffer drops the oldest
// pending event to make room.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, name := range []string{event.Name, ""} {
		for _, s := range b.subs[name] {
			select {
			case s.ch <- event:
			default:
				select {
				case dropped := <-s.ch:
					slog.Warn("bus subscriber overflow, dropping oldest event", "event", dropped.Name, "pending", event.Name)
				default:
				}
				select {
				case s.ch <- event:
				default:
				}
			}
		}
		if event.Name == "" {
			break
		}
	}
}
