package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// AllTopics subscribes to every event type.
const AllTopics = "*"

const defaultSubscriberBuffer = 64

// Bus fans events out by type. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	buffer int
	log    zerolog.Logger
}

type BusOption func(*Bus)

func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithBusLogger(log zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.log = log
	}
}

func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string]map[int]chan Event),
		buffer: defaultSubscriberBuffer,
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Subscribe returns a channel of events of the given type (or AllTopics) and
// a func that unsubscribes and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(ch)
		})
	}
}

// Publish delivers ev and reports how many subscribers received it.
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, topic := range []string{ev.Type, AllTopics} {
		for _, ch := range b.subs[topic] {
			select {
			case ch <- ev:
				delivered++
			default:
				b.log.Warn().Str("type", ev.Type).Msg("subscriber buffer full, event dropped")
			}
		}
	}
	return delivered
}
