// Package framer turns a header-delimited serial byte stream into fixed-size
// packets.
//
// A one-byte header at the front of the stream selects a PacketConfig which
// fixes the packet size (header included). Bytes that do not start a known
// packet are dropped one at a time and reported as desyncs. Completed packets
// are handed to the sinks configured for their header: a bounded queue, a
// callback and a Notifier, each isolated from the others' failures.
//
// The packet table lives in a Registry. Every mutation publishes a fresh
// immutable table which the acquisition goroutine picks up on its next
// parsing pass, so configuration can change while a Reader is running.
package framer
