package sink

import (
	"context"
	"sync"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Broadcast hands events to live subscribers, such as server-sent event
// streams. A subscriber that falls behind loses events rather than
// stalling the capture.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[chan Envelope]struct{}
	closed bool
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[chan Envelope]struct{})}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it. buf is the channel capacity.
func (b *Broadcast) Subscribe(buf int) (<-chan Envelope, func()) {
	ch := make(chan Envelope, max(buf, 1))
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers reports the number of live subscribers.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast) SendProgress(_ context.Context, p shot.Progress) error {
	b.publish(Envelope{Type: TypeProgress, Data: p})
	return nil
}

func (b *Broadcast) SendResult(_ context.Context, r *shot.Result) error {
	b.publish(Envelope{Type: TypeResult, Data: r})
	return nil
}

func (b *Broadcast) SendError(_ context.Context, f shot.Failure) error {
	b.publish(Envelope{Type: TypeError, Data: f})
	return nil
}

// Close closes every subscriber channel.
func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
	b.closed = true
	return nil
}

func (b *Broadcast) publish(e Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
