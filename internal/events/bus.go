package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans engine events out to in-process subscribers (websocket stream,
// mirror sync worker). Publish never blocks the payment path: a subscriber
// whose buffer is full loses the event and the drop is logged.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []chan Event
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe returns a channel receiving all events published after the call.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

func (b *Bus) Publish(typ Type, payload any) {
	evt := Event{
		ID:      uuid.NewString(),
		Type:    typ,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event", "type", typ, "event_id", evt.ID)
		}
	}
}
