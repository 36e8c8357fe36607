package session

import "sync"

const subscriberBuffer = 100

// hub fans session events out to UI listeners
type hub struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

func newHub() *hub {
	return &hub{}
}

func (h *hub) subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers = append(h.subscribers, ch)
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// broadcast never blocks; a full subscriber misses the event
func (h *hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
