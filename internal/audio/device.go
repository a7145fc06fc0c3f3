package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/mattn/go-shellwords"
)

// Source yields float samples in [-1, 1] at 16 kHz mono. Read returns
// io.EOF once the input is exhausted.
type Source interface {
	Read(buf []float32) (int, error)
	Close() error
}

// Device opens an exclusive Source for one recording session.
type Device interface {
	Open(ctx context.Context) (Source, error)
}

// NewDevice builds the input device selected by cfg.Mode.
func NewDevice(cfg config.AudioConfig) (Device, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecDevice(cfg.Command)
	case "wav":
		return &WAVDevice{Path: cfg.FilePath, Realtime: cfg.Realtime}, nil
	case "mock":
		return &MockDevice{Endless: true, Realtime: cfg.Realtime}, nil
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}

// ExecDevice reads raw little-endian float32 samples from the stdout of a
// capture command such as arecord or ffmpeg.
type ExecDevice struct {
	cmd []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) Open(ctx context.Context) (Source, error) {
	cmd := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fault.Wrap(fault.ErrDevice, "open capture pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.ErrDevice, "start capture command", err)
	}
	return &execSource{cmd: cmd, r: bufio.NewReaderSize(stdout, 64*1024), stderr: &stderr}, nil
}

type execSource struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	stderr *bytes.Buffer
	raw    []byte

	waitOnce sync.Once
	waitErr  error
}

func (s *execSource) Read(buf []float32) (int, error) {
	need := len(buf) * 4
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	n, err := io.ReadFull(s.r, raw)
	samples := n / 4
	for i := 0; i < samples; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		if samples > 0 {
			return samples, nil
		}
		return 0, s.exitStatus()
	default:
		return samples, err
	}
}

// exitStatus reaps the command once stdout is exhausted. stderr is only
// read after Wait, and only reported when the command failed.
func (s *execSource) exitStatus() error {
	err := s.wait()
	if err == nil {
		return io.EOF
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
	}
	return fault.Wrap(fault.ErrDevice, "capture command failed", err)
}

func (s *execSource) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

func (s *execSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	return nil
}

// WAVDevice replays a 16 kHz mono WAV file as if it were live input.
type WAVDevice struct {
	Path     string
	Realtime bool
}

func (d *WAVDevice) Open(ctx context.Context) (Source, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fault.Wrap(fault.ErrDevice, "open wav input", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fault.New(fault.ErrDevice, "input is not a valid wav file")
	}
	dec.ReadInfo()
	if int(dec.SampleRate) != SampleRate || int(dec.NumChans) != Channels {
		f.Close()
		return nil, fault.New(fault.ErrDevice,
			fmt.Sprintf("wav input must be %d Hz mono, got %d Hz with %d channels", SampleRate, dec.SampleRate, dec.NumChans))
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fault.Wrap(fault.ErrDevice, "seek wav data", err)
	}
	return &wavSource{
		ctx:      ctx,
		file:     f,
		dec:      dec,
		scale:    float32(int64(1) << (dec.BitDepth - 1)),
		realtime: d.Realtime,
	}, nil
}

type wavSource struct {
	ctx      context.Context
	file     *os.File
	dec      *wav.Decoder
	buf      *audio.IntBuffer
	scale    float32
	realtime bool
}

func (s *wavSource) Read(out []float32) (int, error) {
	if s.buf == nil || len(s.buf.Data) != len(out) {
		s.buf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
			Data:   make([]int, len(out)),
		}
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		out[i] = float32(s.buf.Data[i]) / s.scale
	}
	if s.realtime {
		if err := pace(s.ctx, n); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *wavSource) Close() error {
	return s.file.Close()
}

// MockDevice produces a fixed sample sequence, or silence forever when
// Endless is set. Fail makes Open return a device error.
type MockDevice struct {
	Samples  []float32
	Endless  bool
	Realtime bool
	Fail     bool

	mu     sync.Mutex
	opened int
	closed int
}

func (d *MockDevice) Open(ctx context.Context) (Source, error) {
	if d.Fail {
		return nil, fault.New(fault.ErrDevice, "permission denied")
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &mockSource{ctx: ctx, dev: d, samples: d.Samples}, nil
}

// Released reports whether every opened source has been closed.
func (d *MockDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened == d.closed
}

type mockSource struct {
	ctx     context.Context
	dev     *MockDevice
	samples []float32
	once    sync.Once
}

func (s *mockSource) Read(buf []float32) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if len(s.samples) == 0 {
		if !s.dev.Endless {
			return 0, io.EOF
		}
		clear(buf)
		if s.dev.Realtime {
			if err := pace(s.ctx, len(buf)); err != nil {
				return 0, err
			}
		}
		return len(buf), nil
	}
	n := copy(buf, s.samples)
	s.samples = s.samples[n:]
	return n, nil
}

func (s *mockSource) Close() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.closed++
		s.dev.mu.Unlock()
	})
	return nil
}

// pace sleeps for the wall-clock duration of n samples.
func pace(ctx context.Context, n int) error {
	d := time.Duration(n) * time.Second / SampleRate
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
