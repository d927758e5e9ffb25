package realtime

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// LevelSource yields the current energy of one audio track on a 0-255
// scale. The second return is false once the underlying source is gone;
// callers are expected to stop sampling silently.
type LevelSource interface {
	Level() (uint8, bool)
}

const (
	// meterBufferSize bounds how much PCM a meter holds between samples.
	// One second at 24 kHz mono 16-bit.
	meterBufferSize = 48_000

	// meterSmoothing is the exponential smoothing factor applied between
	// consecutive level reads.
	meterSmoothing = 0.3
)

// Meter turns a stream of 16-bit mono PCM into a 0-255 energy scalar.
// Write is called from the track reader, Level from the sampling tick;
// both sides are safe to use concurrently. The ring buffer is
// non-blocking so a stalled sampler never backpressures the transport.
type Meter struct {
	mu       sync.Mutex
	buf      *ringbuffer.RingBuffer
	smoothed float64
	closed   bool
}

func NewMeter() *Meter {
	return &Meter{
		buf: ringbuffer.New(meterBufferSize),
	}
}

// Write feeds raw track bytes into the meter. Overflow drops the oldest
// audio, which is fine: the meter only ever needs the most recent window.
func (m *Meter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return len(p), nil
	}
	if free := m.buf.Free(); free < len(p) {
		discard := make([]byte, len(p)-free)
		_, _ = m.buf.Read(discard)
	}
	_, _ = m.buf.Write(p)
	return len(p), nil
}

// Level drains the buffered window and returns its energy on a 0-255
// scale, smoothed against the previous reading. An empty window repeats
// the smoothed value so brief gaps do not read as silence.
func (m *Meter) Level() (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false
	}

	n := m.buf.Length()
	if n > 0 {
		window := make([]byte, n)
		_, _ = m.buf.Read(window)
		m.smoothed = meterSmoothing*pcm16Energy(window) + (1-meterSmoothing)*m.smoothed
	}
	return uint8(math.Round(m.smoothed)), true
}

// Close marks the source as gone. Subsequent Level calls report that.
func (m *Meter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// pcm16Energy computes the RMS of a 16-bit little-endian mono window,
// scaled to 0-255.
func pcm16Energy(window []byte) float64 {
	samples := len(window) / 2
	if samples == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(window[i*2:]))
		v := float64(s) / 32768.0
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(samples))
	level := rms * 255 * 2 // voice RMS rarely exceeds 0.5; scale so it spans the byte range
	if level > 255 {
		level = 255
	}
	return level
}
