package framer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/serialframe/internal/monitoring"
)

// table is an immutable header -> entry map published to the parser.
type table struct {
	entries map[byte]*entry
}

var emptyTable = &table{entries: map[byte]*entry{}}

func (t *table) lookup(header byte) (*entry, bool) {
	e, ok := t.entries[header]
	return e, ok
}

// Registry owns the authoritative packet table. Mutations are serialised by
// a mutex on the control side; readers on the acquisition goroutine only ever
// load the last published table, so they never observe a table mid-update.
type Registry struct {
	mu      sync.Mutex
	entries map[byte]*entry

	published atomic.Pointer[table]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[byte]*entry)}
	r.published.Store(emptyTable)
	return r
}

// Add registers cfg, replacing any config already present for its header
// and resetting that header's statistics.
func (r *Registry) Add(cfg PacketConfig) error {
	if cfg.Size < 1 {
		return ErrInvalidSize
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName(cfg.Header)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[cfg.Header] = &entry{config: cfg, stats: &packetCounters{}}
	r.publishLocked()

	monitoring.Logf("[CONFIG] Added packet config for header 0x%02X: %s (size: %d)", cfg.Header, cfg.Name, cfg.Size)
	return nil
}

// Remove drops the config and statistics for header. It reports whether the
// header was registered.
func (r *Registry) Remove(header byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[header]
	if !ok {
		return false
	}
	delete(r.entries, header)
	r.publishLocked()

	monitoring.Logf("[CONFIG] Removed packet config for header 0x%02X: %s", header, e.config.Name)
	return true
}

// Clear removes every config and its statistics.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[byte]*entry)
	r.publishLocked()

	monitoring.Logf("[CONFIG] Cleared all packet configurations")
}

// QueueForHeader returns the queue configured for header. ok is false when
// the header is not registered; a registered header without a queue returns
// (nil, true).
func (r *Registry) QueueForHeader(header byte) (queue chan []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[header]
	if !ok {
		return nil, false
	}
	return e.config.Queue, true
}

// Config returns the config registered for header.
func (r *Registry) Config(header byte) (PacketConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[header]
	if !ok {
		return PacketConfig{}, false
	}
	return e.config, true
}

// Configs returns every registered config ordered by header.
func (r *Registry) Configs() []PacketConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PacketConfig, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header < out[j].Header })
	return out
}

// Stats returns a copy of the statistics of every registered header. Later
// dispatches do not affect the returned map.
func (r *Registry) Stats() map[byte]PacketStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[byte]PacketStats, len(r.entries))
	for h, e := range r.entries {
		out[h] = e.stats.snapshot()
	}
	return out
}

// snapshot returns the table most recently published to the parser.
func (r *Registry) snapshot() *table {
	return r.published.Load()
}

// publishLocked copies the working map into a new immutable table and swaps
// it in. Callers must hold r.mu.
func (r *Registry) publishLocked() {
	entries := make(map[byte]*entry, len(r.entries))
	for h, e := range r.entries {
		entries[h] = e
	}
	r.published.Store(&table{entries: entries})
}
