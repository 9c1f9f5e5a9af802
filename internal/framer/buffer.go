package framer

// StreamBuffer accumulates bytes that have been received but not yet framed.
// Bytes are appended at the tail and consumed from the head in whole
// prefixes only. The zero value is an empty buffer.
type StreamBuffer struct {
	data []byte
	off  int
}

// Append adds p to the tail of the buffer.
func (b *StreamBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	// reclaim the consumed prefix once it dominates the backing array
	if b.off > 0 && b.off >= len(b.data)/2 {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
	}
	b.data = append(b.data, p...)
}

// Len returns the number of unconsumed bytes.
func (b *StreamBuffer) Len() int {
	return len(b.data) - b.off
}

// Bytes returns the unconsumed bytes. The slice aliases the buffer and is
// only valid until the next mutation.
func (b *StreamBuffer) Bytes() []byte {
	return b.data[b.off:]
}

// Discard consumes the first n bytes.
func (b *StreamBuffer) Discard(n int) {
	if n >= b.Len() {
		b.Reset()
		return
	}
	b.off += n
}

// Take consumes the first n bytes and returns them as a new slice that does
// not share memory with the buffer. n must not exceed Len.
func (b *StreamBuffer) Take(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data[b.off:b.off+n])
	b.Discard(n)
	return out
}

// Reset empties the buffer, keeping its storage.
func (b *StreamBuffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}
