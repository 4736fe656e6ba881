package chat

import (
	"sync"

	"github.com/ent0n29/pacedchat/internal/observability"
	"github.com/ent0n29/pacedchat/internal/protocol"
)

const defaultFeedBuffer = 256

// feed fans protocol events out to subscribers without ever blocking the
// publisher; a full subscriber loses the event.
type feed struct {
	mu      sync.Mutex
	subs    map[int]chan any
	nextID  int
	closed  bool
	metrics *observability.Metrics
}

func newFeed(metrics *observability.Metrics) *feed {
	return &feed{
		subs:    make(map[int]chan any),
		metrics: metrics,
	}
}

func (f *feed) subscribe(buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	ch := make(chan any, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

func (f *feed) publish(msg any) {
	msgType := "unknown"
	if t, ok := protocol.TypeOf(msg); ok {
		msgType = string(t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- msg:
			f.metrics.ObserveOutboundMessage(msgType, "delivered")
		default:
			f.metrics.ObserveOutboundMessage(msgType, "dropped")
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
