package framer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialframe/internal/serialport"
	"github.com/banshee-data/serialframe/internal/timeutil"
)

const eventWait = 2 * time.Second

func newTestReader(t *testing.T, opener serialport.Opener) *Reader {
	t.Helper()
	opts := serialport.DefaultPortOptions()
	opts.ReadTimeout = 2 * time.Millisecond
	r := NewReader(Options{
		Path:        "/dev/ttyTEST0",
		Port:        opts,
		Opener:      opener,
		Clock:       timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		StopTimeout: time.Second,
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// nextEvent returns the next event of one of the given kinds, skipping others.
func nextEvent(t *testing.T, c <-chan Event, kinds ...EventKind) Event {
	t.Helper()
	timeout := time.After(eventWait)
	for {
		select {
		case ev, ok := <-c:
			require.True(t, ok, "event channel closed")
			for _, k := range kinds {
				if ev.Kind == k {
					return ev
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", kinds)
		}
	}
}

func waitConnected(t *testing.T, c <-chan Event) {
	t.Helper()
	ev := nextEvent(t, c, EventStatus)
	require.True(t, ev.Connected)
}

func TestReader_FramesChunkedStream(t *testing.T) {
	port := serialport.NewTestablePort()
	port.MaxReadChunk = 3
	r := newTestReader(t, serialport.NewMockOpener(port))

	arcs := make(chan []byte, 8)
	ticks := make(chan []byte, 8)
	require.NoError(t, r.AddPacketConfig(PacketConfig{Header: 0xA0, Size: 5, Queue: arcs}))
	require.NoError(t, r.AddPacketConfig(PacketConfig{Header: 0x01, Size: 1, Queue: ticks}))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)
	assert.Equal(t, StateReading, r.State())
	assert.True(t, r.IsOpen())

	port.AddReadData([]byte{0xFF, 0xA0, 0x01, 0x02, 0x03, 0x04, 0x01, 0xA0, 0x09})
	port.AddReadData([]byte{0x08, 0x07, 0x06})

	var got [][]byte
	for len(got) < 3 {
		ev := nextEvent(t, events, EventPacket)
		got = append(got, ev.Packet)
	}
	assert.Equal(t, [][]byte{
		{0xA0, 0x01, 0x02, 0x03, 0x04},
		{0x01},
		{0xA0, 0x09, 0x08, 0x07, 0x06},
	}, got)

	assert.Len(t, arcs, 2)
	assert.Len(t, ticks, 1)
	assert.EqualValues(t, 1, r.Desyncs())
	assert.EqualValues(t, 12, r.Received())
	assert.EqualValues(t, 2, r.PacketStats()[0xA0].Count)

	r.Stop()
	assert.Equal(t, StateStopped, r.State())
	assert.False(t, r.IsOpen())
	assert.True(t, port.IsClosed())

	ev := nextEvent(t, events, EventStatus)
	assert.False(t, ev.Connected)
}

func TestReader_PassesPortOptionsToOpener(t *testing.T) {
	port := serialport.NewTestablePort()
	opener := serialport.NewMockOpener(port)
	r := newTestReader(t, opener)

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	call := opener.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyTEST0", call.Path)
	assert.Equal(t, 115200, call.Options.BaudRate)
	assert.Equal(t, "E", call.Options.Parity)
	assert.Equal(t, 2*time.Millisecond, call.Options.ReadTimeout)
}

func TestReader_OpenFailure(t *testing.T) {
	opener := serialport.NewMockOpener(nil)
	opener.Error = errors.New("no such file or directory")
	r := newTestReader(t, opener)

	_, events := r.Subscribe()
	r.Start(context.Background())

	ev := nextEvent(t, events, EventError, EventStatus)
	require.Equal(t, EventError, ev.Kind)
	var terr *TransportError
	require.ErrorAs(t, ev.Err, &terr)
	assert.Equal(t, "open", terr.Op)
	assert.Equal(t, "/dev/ttyTEST0", terr.Path)

	ev = nextEvent(t, events, EventStatus)
	assert.False(t, ev.Connected)

	assert.Eventually(t, func() bool { return !r.Running() }, eventWait, time.Millisecond)
	assert.Equal(t, StateStopped, r.State())
	assert.ErrorIs(t, r.Send([]byte{0x01}), ErrNotConnected)
}

func TestReader_ReadErrorIsFatal(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	readErr := errors.New("device disconnected")
	port.SetReadError(readErr)

	ev := nextEvent(t, events, EventError)
	assert.ErrorIs(t, ev.Err, readErr)
	var terr *TransportError
	require.ErrorAs(t, ev.Err, &terr)
	assert.Equal(t, "read", terr.Op)

	ev = nextEvent(t, events, EventStatus)
	assert.False(t, ev.Connected)
	assert.Eventually(t, func() bool { return !r.Running() }, eventWait, time.Millisecond)
	assert.True(t, port.IsClosed())
}

func TestReader_Send(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	assert.ErrorIs(t, r.Send([]byte{0xDD}), ErrNotConnected)

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	require.NoError(t, r.Send([]byte{0xDD, 0x01, 0x02}))
	assert.Equal(t, []byte{0xDD, 0x01, 0x02}, port.GetWrittenData())
}

func TestReader_SendFailureStopsLoop(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	port.SetWriteError(errors.New("write timeout"))
	err := r.Send([]byte{0xDD})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)

	ev := nextEvent(t, events, EventError)
	assert.Equal(t, err, ev.Err)
	ev = nextEvent(t, events, EventStatus)
	assert.False(t, ev.Connected)
	assert.Eventually(t, func() bool { return r.State() == StateStopped }, eventWait, time.Millisecond)
}

func TestReader_StartStopIdempotent(t *testing.T) {
	port := serialport.NewTestablePort()
	opener := serialport.NewMockOpener(port)
	r := newTestReader(t, opener)

	r.Stop() // never started
	assert.Equal(t, StateIdle, r.State())

	_, events := r.Subscribe()
	r.Start(context.Background())
	r.Start(context.Background())
	waitConnected(t, events)
	assert.Len(t, opener.OpenCalls, 1)

	r.Stop()
	r.Stop()
	assert.Equal(t, StateStopped, r.State())
	assert.False(t, nextEvent(t, events, EventStatus).Connected)

	// restart with a fresh buffer
	port.Reopen()
	require.NoError(t, r.AddPacketConfig(PacketConfig{Header: 0xA0, Size: 3}))
	r.Start(context.Background())
	waitConnected(t, events)
	assert.Len(t, opener.OpenCalls, 2)

	port.AddReadData([]byte{0xA0, 0x01, 0x02})
	ev := nextEvent(t, events, EventPacket)
	assert.Equal(t, []byte{0xA0, 0x01, 0x02}, ev.Packet)
}

func TestReader_ContextCancelStops(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	ctx, cancel := context.WithCancel(context.Background())
	_, events := r.Subscribe()
	r.Start(ctx)
	waitConnected(t, events)

	cancel()
	ev := nextEvent(t, events, EventStatus)
	assert.False(t, ev.Connected)
	assert.Eventually(t, func() bool { return !r.Running() }, eventWait, time.Millisecond)
}

func TestReader_ConfigChangesWhileRunning(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	port.AddReadData([]byte{0xB0, 0x01})
	assert.Equal(t, byte(0xB0), nextEvent(t, events, EventDesync).Dropped)
	assert.Equal(t, byte(0x01), nextEvent(t, events, EventDesync).Dropped)

	q := make(chan []byte, 1)
	require.NoError(t, r.AddPacketConfig(PacketConfig{Header: 0xB0, Size: 2, Queue: q, Name: "Short"}))
	port.AddReadData([]byte{0xB0, 0x02})

	ev := nextEvent(t, events, EventPacket)
	assert.Equal(t, []byte{0xB0, 0x02}, ev.Packet)
	assert.Equal(t, "Short", ev.Config.Name)
	got, ok := r.QueueForHeader(0xB0)
	require.True(t, ok)
	assert.Len(t, got, 1)

	r.ClearPacketConfigs()
	port.AddReadData([]byte{0xB0})
	assert.Equal(t, byte(0xB0), nextEvent(t, events, EventDesync).Dropped)
	assert.Empty(t, r.PacketStats())
}

// blockingPort never returns from Read until released.
type blockingPort struct {
	release chan struct{}
	once    sync.Once
}

func (p *blockingPort) Read([]byte) (int, error) {
	<-p.release
	return 0, nil
}
func (p *blockingPort) Write(b []byte) (int, error)        { return len(b), nil }
func (p *blockingPort) Close() error                       { return nil }
func (p *blockingPort) SetReadTimeout(time.Duration) error { return nil }
func (p *blockingPort) unblock()                           { p.once.Do(func() { close(p.release) }) }

func TestReader_SlowCallbackDoesNotStallReads(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	require.NoError(t, r.AddPacketConfig(PacketConfig{
		Header: 0xB0,
		Size:   2,
		Callback: func([]byte) error {
			entered <- struct{}{}
			<-release
			return nil
		},
	}))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	port.AddReadData([]byte{0xB0, 0x01})
	select {
	case <-entered:
	case <-time.After(eventWait):
		t.Fatal("callback was not called")
	}

	port.AddReadData([]byte{0xB0, 0x02, 0xEE, 0xB0, 0x03})
	require.Eventually(t, func() bool { return r.Received() == 7 }, eventWait, time.Millisecond,
		"read loop must keep reading while a callback blocks")
	assert.EqualValues(t, 1, r.Desyncs())

	close(release)

	var got [][]byte
	for len(got) < 3 {
		got = append(got, nextEvent(t, events, EventPacket).Packet)
	}
	assert.Equal(t, [][]byte{{0xB0, 0x01}, {0xB0, 0x02}, {0xB0, 0x03}}, got)
	assert.EqualValues(t, 3, r.PacketStats()[0xB0].Count)
}

func TestReader_StopDeliversExtractedPackets(t *testing.T) {
	port := serialport.NewTestablePort()
	r := newTestReader(t, serialport.NewMockOpener(port))

	q := make(chan []byte, 8)
	require.NoError(t, r.AddPacketConfig(PacketConfig{Header: 0x01, Size: 1, Queue: q}))

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	port.AddReadData([]byte{0x01, 0x01, 0x01})
	require.Eventually(t, func() bool { return r.Received() == 3 }, eventWait, time.Millisecond)

	r.Stop()
	assert.Len(t, q, 3)
	assert.EqualValues(t, 3, r.PacketStats()[0x01].Count)
}

func TestReader_StopIsBounded(t *testing.T) {
	port := &blockingPort{release: make(chan struct{})}
	r := NewReader(Options{
		Path:        "/dev/ttyTEST1",
		Opener:      serialport.NewMockOpener(port),
		StopTimeout: 20 * time.Millisecond,
	})
	t.Cleanup(func() {
		port.unblock()
		_ = r.Close()
	})

	_, events := r.Subscribe()
	r.Start(context.Background())
	waitConnected(t, events)

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), eventWait)
	assert.True(t, r.Running(), "loop is still blocked in Read")

	port.unblock()
	assert.Eventually(t, func() bool { return !r.Running() }, eventWait, time.Millisecond)
}

func TestReader_CloseEndsSubscriptions(t *testing.T) {
	r := newTestReader(t, serialport.NewMockOpener(serialport.NewTestablePort()))
	_, events := r.Subscribe()
	require.NoError(t, r.Close())

	_, ok := <-events
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
