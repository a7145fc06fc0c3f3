package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter appends frames to a 16-bit mono WAV stream. It lets an
// operator keep the audio of a meeting next to its minutes.
type WAVWriter struct {
	mu  sync.Mutex
	enc *wav.Encoder
	buf *audio.IntBuffer
}

func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{
		enc: wav.NewEncoder(w, SampleRate, 16, Channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
			SourceBitDepth: 16,
		},
	}
}

func (w *WAVWriter) WriteFrame(frame Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cap(w.buf.Data) < len(frame.PCM) {
		w.buf.Data = make([]int, len(frame.PCM))
	}
	w.buf.Data = w.buf.Data[:len(frame.PCM)]
	for i, s := range frame.PCM {
		w.buf.Data[i] = int(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

// Close finalises the WAV header. The underlying writer is left open.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
