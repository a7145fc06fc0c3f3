// Package audio acquires input audio and turns it into fixed-size linear
// PCM frames for the streaming transcription connection.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate       = 16000
	Channels         = 1
	DefaultBlockSize = 4096
)

// Frame is one fixed-size block of 16-bit mono samples.
type Frame struct {
	Sequence int
	PCM      []int16
}

// Bytes returns the frame as little-endian linear16, the wire format the
// transcription provider expects.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.PCM)*2)
	for i, s := range f.PCM {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodePCM16 converts float samples to signed 16-bit: clamp to [-1, 1],
// scale by 32767, round to nearest.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = sampleToPCM16(s)
	}
	return out
}

func sampleToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// Framer cuts a continuous float stream into fixed-size frames.
type Framer struct {
	blockSize int
	pending   []float32
	seq       int
}

func NewFramer(blockSize int) *Framer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Framer{blockSize: blockSize, pending: make([]float32, 0, blockSize)}
}

// Push appends samples and returns every complete frame now available.
func (f *Framer) Push(samples []float32) []Frame {
	var frames []Frame
	for len(samples) > 0 {
		room := f.blockSize - len(f.pending)
		n := min(room, len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.blockSize {
			frames = append(frames, f.emit())
		}
	}
	return frames
}

// Flush zero-pads any partial block into a final full-size frame. It
// returns false when nothing was pending.
func (f *Framer) Flush() (Frame, bool) {
	if len(f.pending) == 0 {
		return Frame{}, false
	}
	for len(f.pending) < f.blockSize {
		f.pending = append(f.pending, 0)
	}
	return f.emit(), true
}

func (f *Framer) emit() Frame {
	frame := Frame{Sequence: f.seq, PCM: EncodePCM16(f.pending)}
	f.seq++
	f.pending = f.pending[:0]
	return frame
}
