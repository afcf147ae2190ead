package events

import "sync"

// Envelope pairs an event name with its payload for bus subscribers.
type Envelope struct {
	Event   string
	Payload any
}

// Bus is a non-blocking fan-out Emitter. A subscriber that falls behind
// loses events rather than stalling the state manager's mutation path.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Envelope
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every subsequent event.
func (b *Bus) Subscribe() <-chan Envelope {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- Envelope{Event: event, Payload: payload}:
		default:
		}
	}
}

// Close closes all subscriber channels. Emit must not be called after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Nop is an Emitter that discards everything.
type Nop struct{}

func (Nop) Emit(string, any) {}
