package serialport

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/serialframe/internal/timeutil"
)

// Headers and sizes emitted by the demo stream.
const (
	DemoArcHeader          byte = 0xA0
	DemoArcSize                 = 5
	DemoShortCircuitHeader byte = 0xB0
	DemoShortCircuitSize        = 6
	DemoTemperatureHeader  byte = 0xC0
	DemoTemperatureSize         = 4

	// DemoNoiseByte is injected between packets to exercise resync.
	DemoNoiseByte byte = 0xFF
)

// DemoPort is a Port that produces a synthetic stream of arc, short circuit
// and temperature packets so the daemon can run without hardware. Writes are
// captured and discarded.
type DemoPort struct {
	*TestablePort

	clock    timeutil.Clock
	interval time.Duration
	rng      *rand.Rand

	once sync.Once
	done chan struct{}
}

// NewDemoPort returns a DemoPort that emits one batch of packets every
// interval once Start is called.
func NewDemoPort(clock timeutil.Clock, interval time.Duration, seed int64) *DemoPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &DemoPort{
		TestablePort: NewTestablePort(),
		clock:        clock,
		interval:     interval,
		rng:          rand.New(rand.NewSource(seed)),
		done:         make(chan struct{}),
	}
}

// Start launches the generator goroutine. It runs until Close.
func (d *DemoPort) Start() {
	ticker := d.clock.NewTicker(d.interval)
	go func() {
		defer ticker.Stop()
		var tick uint64
		for {
			select {
			case <-d.done:
				return
			case <-ticker.C():
				d.AddReadData(d.Batch(tick))
				tick++
			}
		}
	}()
}

// Close stops the generator and closes the underlying port.
func (d *DemoPort) Close() error {
	d.once.Do(func() { close(d.done) })
	return d.TestablePort.Close()
}

// Batch builds the bytes emitted for one tick: an arc packet every tick, a
// temperature packet every other tick, a short circuit every fifth tick and a
// noise byte every seventh.
func (d *DemoPort) Batch(tick uint64) []byte {
	var out []byte

	arc := make([]byte, DemoArcSize)
	arc[0] = DemoArcHeader
	intensity := uint32(100 + d.rng.Intn(50))
	if tick%10 == 3 {
		intensity += uint32(500 + d.rng.Intn(500))
	}
	binary.LittleEndian.PutUint32(arc[1:], intensity)
	out = append(out, arc...)

	if tick%2 == 0 {
		temp := make([]byte, DemoTemperatureSize)
		temp[0] = DemoTemperatureHeader
		temp[1] = byte(tick/2) % 4
		binary.LittleEndian.PutUint16(temp[2:], uint16(200+d.rng.Intn(100)))
		out = append(out, temp...)
	}

	if tick%5 == 4 {
		sc := make([]byte, DemoShortCircuitSize)
		sc[0] = DemoShortCircuitHeader
		sc[1] = byte(d.rng.Intn(8))
		binary.LittleEndian.PutUint32(sc[2:], uint32(4000+d.rng.Intn(4000)))
		out = append(out, sc...)
	}

	if tick%7 == 6 {
		out = append(out, DemoNoiseByte)
	}

	return out
}
