package realtime

import (
	"fmt"
	"io"
	"time"
)

// FixedChunkReader regroups an arbitrary byte stream into fixed-size
// chunks. The media send path uses it to cut captured PCM into
// frame-duration slices before handing them to the track.
type FixedChunkReader struct {
	r         io.Reader
	buf       []byte
	chunkSize int
	eof       bool
}

func NewFixedChunkReader(r io.Reader, chunkSize int) *FixedChunkReader {
	return &FixedChunkReader{
		r:         r,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize*2),
	}
}

func chunkSizeFor(sampleRate int, frame time.Duration, bytesPerSample int, channels int) int {
	frames := int(float64(sampleRate) * frame.Seconds())
	return frames * bytesPerSample * channels
}

// NewFixedAudioChunkReader sizes the chunk from the audio parameters.
func NewFixedAudioChunkReader(
	r io.Reader,
	sampleRate int,
	frame time.Duration,
	bytesPerSample int,
	channels int,
) *FixedChunkReader {
	return NewFixedChunkReader(r, chunkSizeFor(sampleRate, frame, bytesPerSample, channels))
}

// Read emits one full chunk, or the remaining tail once the source is
// exhausted. The destination must hold at least one chunk.
func (f *FixedChunkReader) Read(p []byte) (int, error) {
	if len(p) < f.chunkSize {
		return 0, fmt.Errorf("short buffer: need %d bytes, got %d", f.chunkSize, len(p))
	}

	for len(f.buf) < f.chunkSize && !f.eof {
		start := len(f.buf)
		f.buf = append(f.buf, make([]byte, f.chunkSize)...)
		n, err := f.r.Read(f.buf[start:])
		f.buf = f.buf[:start+n]
		if err == io.EOF {
			f.eof = true
			break
		}
		if err != nil {
			return 0, err
		}
	}

	if len(f.buf) == 0 {
		return 0, io.EOF
	}

	n := min(f.chunkSize, len(f.buf))
	copy(p, f.buf[:n])
	f.buf = f.buf[n:]
	return n, nil
}
