package framer

import (
	"sync"

	"github.com/google/uuid"
)

// broadcaster fans values out to subscriber channels. Sends never block: a
// subscriber whose buffer is full misses the value.
type broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[string]chan T
	bufSize int
	closed  bool
}

func newBroadcaster[T any](bufSize int) *broadcaster[T] {
	if bufSize < 0 {
		bufSize = 0
	}
	return &broadcaster[T]{
		subs:    make(map[string]chan T),
		bufSize: bufSize,
	}
}

// subscribe registers a new channel. After close it returns an already
// closed channel so callers don't block.
func (b *broadcaster[T]) subscribe() (string, chan T) {
	id := uuid.NewString()
	ch := make(chan T, b.bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster[T]) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// publish reports false once the broadcaster is closed.
func (b *broadcaster[T]) publish(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// if the channel is full skip so as not to block the publisher
		}
	}
	return true
}

func (b *broadcaster[T]) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
