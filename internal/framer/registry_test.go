package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddDefaultsName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(PacketConfig{Header: 0xAA, Size: 15}))

	cfg, ok := r.Config(0xAA)
	require.True(t, ok)
	assert.Equal(t, "Packet_AA", cfg.Name)
	assert.Equal(t, 15, cfg.Size)

	stats := r.Stats()
	require.Contains(t, stats, byte(0xAA))
	assert.Zero(t, stats[0xAA].Count)
	assert.True(t, stats[0xAA].LastReceived.IsZero())
}

func TestRegistry_RejectsInvalidSize(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Add(PacketConfig{Header: 0x01, Size: 0}), ErrInvalidSize)
	assert.ErrorIs(t, r.Add(PacketConfig{Header: 0x01, Size: -3}), ErrInvalidSize)
	assert.Empty(t, r.Configs())
	_, ok := r.snapshot().lookup(0x01)
	assert.False(t, ok)
}

func TestRegistry_RemoveAndClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(PacketConfig{Header: 0xA0, Size: 10, Queue: make(chan []byte, 1)}))
	require.NoError(t, r.Add(PacketConfig{Header: 0xB0, Size: 15, Queue: make(chan []byte, 1)}))

	assert.True(t, r.Remove(0xB0))
	assert.False(t, r.Remove(0xB0))
	assert.NotContains(t, r.Stats(), byte(0xB0))
	_, ok := r.snapshot().lookup(0xB0)
	assert.False(t, ok, "removed header still published")

	r.Clear()
	assert.Empty(t, r.Configs())
	assert.Empty(t, r.Stats())
	assert.Empty(t, r.snapshot().entries)
}

func TestRegistry_QueueForHeader(t *testing.T) {
	r := NewRegistry()
	q := make(chan []byte, 1)
	require.NoError(t, r.Add(PacketConfig{Header: 0xCC, Size: 8, Queue: q}))
	require.NoError(t, r.Add(PacketConfig{Header: 0xCD, Size: 8}))

	got, ok := r.QueueForHeader(0xCC)
	assert.True(t, ok)
	assert.Equal(t, q, got)

	got, ok = r.QueueForHeader(0xCD)
	assert.True(t, ok)
	assert.Nil(t, got)

	got, ok = r.QueueForHeader(0xFF)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRegistry_PublishedTableIsImmutable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(PacketConfig{Header: 0x10, Size: 2}))
	before := r.snapshot()

	require.NoError(t, r.Add(PacketConfig{Header: 0x10, Size: 4}))
	require.NoError(t, r.Add(PacketConfig{Header: 0x20, Size: 3}))

	e, ok := before.lookup(0x10)
	require.True(t, ok)
	assert.Equal(t, 2, e.config.Size, "old snapshot observed a later mutation")
	_, ok = before.lookup(0x20)
	assert.False(t, ok)

	e, ok = r.snapshot().lookup(0x10)
	require.True(t, ok)
	assert.Equal(t, 4, e.config.Size)
}

func TestRegistry_ReAddResetsStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(PacketConfig{Header: 0x10, Size: 1}))
	f := NewFramer(r, nil)
	f.Feed([]byte{0x10, 0x10})
	assert.EqualValues(t, 2, r.Stats()[0x10].Count)

	require.NoError(t, r.Add(PacketConfig{Header: 0x10, Size: 1}))
	assert.Zero(t, r.Stats()[0x10].Count)
}

func TestRegistry_ConfigsSortedByHeader(t *testing.T) {
	r := NewRegistry()
	for _, h := range []byte{0xC0, 0x01, 0xA0} {
		require.NoError(t, r.Add(PacketConfig{Header: h, Size: 1}))
	}
	var got []byte
	for _, c := range r.Configs() {
		got = append(got, c.Header)
	}
	assert.Equal(t, []byte{0x01, 0xA0, 0xC0}, got)
}
