package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/gordonklaus/portaudio"

	realtime "github.com/phonevoice/realtime-go"
)

const micFrames = 1024 // mic pull size

// micSource reads 16-bit mono PCM from the default portaudio input
// device. It satisfies realtime.CaptureSource.
type micSource struct {
	stream *portaudio.Stream
	frames []int16
	buf    []byte
	rate   int
}

func openMic(_ context.Context) (realtime.CaptureSource, error) {
	return newMicSource(24_000)
}

func newMicSource(sampleRate int) (*micSource, error) {
	m := &micSource{
		frames: make([]int16, micFrames),
		rate:   sampleRate,
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), micFrames, m.frames)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	m.stream = stream
	return m, nil
}

func (m *micSource) SampleRate() int { return m.rate }

func (m *micSource) Read(p []byte) (int, error) {
	for len(m.buf) == 0 {
		if err := m.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				time.Sleep(time.Millisecond)
				continue
			}
			return 0, err
		}
		chunk := make([]byte, len(m.frames)*2)
		for i, s := range m.frames {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(s))
		}
		m.buf = chunk
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *micSource) Close() error {
	if err := m.stream.Stop(); err != nil {
		m.stream.Close()
		return err
	}
	return m.stream.Close()
}
