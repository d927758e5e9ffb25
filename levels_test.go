package realtime

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sine16(amplitude float64, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/48)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v*32767)))
	}
	return buf
}

func TestMeterSilenceReadsZero(t *testing.T) {
	m := NewMeter()
	m.Write(make([]byte, 960))

	level, ok := m.Level()
	assert.True(t, ok)
	assert.Zero(t, level)
}

func TestMeterLoudSignalCrossesThreshold(t *testing.T) {
	m := NewMeter()

	// Feed a sustained loud tone; smoothing needs a few reads to converge.
	var level uint8
	for i := 0; i < 10; i++ {
		m.Write(sine16(0.5, 480))
		var ok bool
		level, ok = m.Level()
		assert.True(t, ok)
	}
	assert.Greater(t, level, uint8(speakingThreshold))
}

func TestMeterEmptyWindowRepeatsLastLevel(t *testing.T) {
	m := NewMeter()
	for i := 0; i < 10; i++ {
		m.Write(sine16(0.5, 480))
		m.Level()
	}
	before, _ := m.Level()

	after, ok := m.Level() // no writes in between
	assert.True(t, ok)
	assert.Equal(t, before, after)
}

func TestMeterOverflowDropsOldest(t *testing.T) {
	m := NewMeter()

	// Overfill with silence, then loud audio; the level must reflect the
	// newest window, not the discarded one.
	m.Write(make([]byte, meterBufferSize))
	m.Write(sine16(0.5, meterBufferSize/2))

	var level uint8
	for i := 0; i < 10; i++ {
		m.Write(sine16(0.5, 480))
		level, _ = m.Level()
	}
	assert.Greater(t, level, uint8(0))
}

func TestMeterClosedReportsGone(t *testing.T) {
	m := NewMeter()
	m.Write(sine16(0.5, 480))
	m.Close()

	_, ok := m.Level()
	assert.False(t, ok)
}

func TestPCM16Energy(t *testing.T) {
	assert.Zero(t, pcm16Energy(nil))
	assert.Zero(t, pcm16Energy(make([]byte, 100)))

	full := make([]byte, 200)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint16(full[i*2:], uint16(int16(32767)))
	}
	assert.Equal(t, float64(255), pcm16Energy(full))
}
