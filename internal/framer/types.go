package framer

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Callback receives a completed packet. A returned error, or a panic, is
// counted against the header's error statistic and otherwise ignored.
type Callback func(packet []byte) error

// Notifier is a fan-out sink raised with each completed packet.
type Notifier interface {
	Emit(packet []byte) error
}

// PacketConfig describes one packet type. Queue, Callback and Notify are the
// optional sinks; a config with none of them is valid and its packets are
// only counted.
//
// Each sink receives its own copy of the packet.
type PacketConfig struct {
	Header byte
	// Size is the total packet length including the header byte.
	Size int
	// Queue receives packets with a non-blocking send. A full queue drops
	// the packet.
	Queue    chan []byte
	Callback Callback
	Notify   Notifier
	Name     string
}

// DefaultName is the label used for configs registered without a name.
func DefaultName(header byte) string {
	return fmt.Sprintf("Packet_%02X", header)
}

func (c PacketConfig) String() string {
	return fmt.Sprintf("%s (0x%02X, %d bytes)", c.Name, c.Header, c.Size)
}

// PacketStats is a point-in-time copy of one header's delivery statistics.
type PacketStats struct {
	Count  uint64
	Errors uint64
	// LastReceived is zero until the first packet is dispatched.
	LastReceived time.Time
}

// packetCounters are written by the dispatcher and read by the control side
// without locks.
type packetCounters struct {
	count     atomic.Uint64
	errors    atomic.Uint64
	lastNanos atomic.Int64
}

// record stamps the receive time before counting, so a reader that sees a
// count also sees a time.
func (c *packetCounters) record(now time.Time) {
	c.lastNanos.Store(now.UnixNano())
	c.count.Add(1)
}

// snapshot loads count before lastNanos, the reverse of record.
func (c *packetCounters) snapshot() PacketStats {
	s := PacketStats{
		Count:  c.count.Load(),
		Errors: c.errors.Load(),
	}
	if ns := c.lastNanos.Load(); ns != 0 {
		s.LastReceived = time.Unix(0, ns)
	}
	return s
}

// entry pairs a config with its counters so the two are always published
// together.
type entry struct {
	config PacketConfig
	stats  *packetCounters
}
