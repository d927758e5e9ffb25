package realtime

import (
	"encoding/binary"

	"github.com/faiface/beep"
)

// pcmStreamer adapts a 16-bit mono PCM byte slice to beep's streamer
// interface so it can be run through beep's resampler.
type pcmStreamer struct {
	data []int16
	pos  int
}

func newPCMStreamer(b []byte) *pcmStreamer {
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return &pcmStreamer{data: samples}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, false
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val
		s.pos++
	}
	return len(samples), true
}

func (s *pcmStreamer) Err() error { return nil }

// ResamplePCM converts 16-bit mono PCM between sample rates. Capture
// devices rarely run at the negotiated session rate, so the send path
// resamples before the audio leaves the engine.
func ResamplePCM(pcmData []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return pcmData, nil
	}

	resampler := beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), newPCMStreamer(pcmData))

	out := make([]byte, 0, len(pcmData)*toRate/fromRate+2)
	frame := make([][2]float64, 512)
	for {
		n, ok := resampler.Stream(frame)
		for _, s := range frame[:n] {
			mono := (s[0] + s[1]) / 2
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(mono*32767)))
		}
		if !ok {
			return out, nil
		}
	}
}
