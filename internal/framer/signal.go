package framer

// DefaultSignalBuffer is the per-subscriber buffer of a Signal.
const DefaultSignalBuffer = 64

// Signal is a Notifier that fans each packet out to any number of
// subscribers. Slow subscribers miss packets rather than stall the stream.
type Signal struct {
	b *broadcaster[[]byte]
}

// NewSignal returns a Signal whose subscribers get a buffer of bufSize
// packets; bufSize <= 0 uses DefaultSignalBuffer.
func NewSignal(bufSize int) *Signal {
	if bufSize <= 0 {
		bufSize = DefaultSignalBuffer
	}
	return &Signal{b: newBroadcaster[[]byte](bufSize)}
}

// Subscribe returns an ID and a channel receiving every emitted packet.
func (s *Signal) Subscribe() (string, <-chan []byte) {
	return s.b.subscribe()
}

// Unsubscribe closes and removes the subscription.
func (s *Signal) Unsubscribe(id string) {
	s.b.unsubscribe(id)
}

// Emit implements Notifier.
func (s *Signal) Emit(packet []byte) error {
	if !s.b.publish(packet) {
		return ErrSignalClosed
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (s *Signal) Subscribers() int {
	return s.b.count()
}

// Close closes every subscription. Later Emit calls fail with
// ErrSignalClosed.
func (s *Signal) Close() {
	s.b.close()
}
