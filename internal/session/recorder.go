// Package session runs one recording at a time: it holds the audio device,
// streams frames to the transcription provider and folds the returned
// deltas into the meeting transcript.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loqalabs/minutes-core/internal/audio"
	"github.com/loqalabs/minutes-core/internal/bus"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/stt"
	"github.com/loqalabs/minutes-core/internal/token"
	"github.com/loqalabs/minutes-core/internal/transcript"
)

// ErrBusy is returned by Start while a recording is already running.
var ErrBusy = errors.New("recording already in progress")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Credentials hands out the secret used to open the stream.
type Credentials interface {
	EnsureValid(ctx context.Context) (token.Credential, error)
}

type Options struct {
	Credentials Credentials
	Device      audio.Device
	Client      *stt.Client
	// Bus, when set, receives every transcript delta.
	Bus       *bus.Client
	BlockSize int
	// Tap, when set, receives the captured audio of each session as WAV.
	Tap io.WriteSeeker
}

// Status is a snapshot of the recorder.
type Status struct {
	SessionID  string
	State      State
	Connecting bool
	Recording  bool
	Err        error
	Transcript string
}

// Recorder owns the transcript across sessions; Clear empties it.
type Recorder struct {
	opts      Options
	logger    *slog.Logger
	assembler *transcript.Assembler

	mu      sync.Mutex
	state   State
	cur     *run
	lastID  string
	lastErr error
}

// run is the resources of one recording session.
type run struct {
	id      string
	cancel  context.CancelFunc
	capture *audio.Capture
	stream  *stt.Stream
	tap     *audio.WAVWriter

	halt      chan struct{}
	frameDone chan struct{}
	deltaDone chan struct{}
	done      chan struct{}

	stopping   atomic.Bool
	once       sync.Once
	err        error
	transcript string
}

func New(opts Options, logger *slog.Logger) *Recorder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = audio.DefaultBlockSize
	}
	return &Recorder{
		opts:      opts,
		logger:    logger.With(slog.String("component", "recorder")),
		assembler: transcript.New(),
	}
}

// Start acquires a credential, opens the audio device and connects the
// stream, in that order. Every failure leaves nothing held: the device is
// released when the connection cannot be opened.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cur != nil || r.state != StateIdle {
		r.mu.Unlock()
		return ErrBusy
	}
	id := uuid.NewString()
	r.state = StateConnecting
	r.lastID = id
	r.lastErr = nil
	r.mu.Unlock()

	logger := r.logger.With(slog.String("session_id", id))
	fail := func(err error) error {
		r.mu.Lock()
		r.state = StateIdle
		r.lastErr = err
		r.mu.Unlock()
		logger.Error("recording failed to start", slogError(err))
		return err
	}

	cred, err := r.opts.Credentials.EnsureValid(ctx)
	if err != nil {
		return fail(err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	capture := audio.NewCapture(r.opts.Device, r.opts.BlockSize, logger)
	if err := capture.Start(sessCtx); err != nil {
		cancel()
		_ = capture.Stop()
		if !errors.Is(err, fault.ErrDevice) {
			err = fault.Wrap(fault.ErrDevice, "open audio device", err)
		}
		return fail(err)
	}

	stream, err := r.opts.Client.Connect(ctx, cred.Secret)
	if err != nil {
		if stopErr := capture.Stop(); stopErr != nil {
			logger.Warn("failed to release audio device", slogError(stopErr))
		}
		cancel()
		return fail(err)
	}

	cur := &run{
		id:        id,
		cancel:    cancel,
		capture:   capture,
		stream:    stream,
		halt:      make(chan struct{}),
		frameDone: make(chan struct{}),
		deltaDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if r.opts.Tap != nil {
		cur.tap = audio.NewWAVWriter(r.opts.Tap)
	}

	r.mu.Lock()
	r.cur = cur
	r.state = StateRecording
	r.mu.Unlock()

	go r.forwardFrames(cur, logger)
	go r.collectDeltas(cur, stt.NewPublisher(r.opts.Bus, id, logger), logger)
	logger.Info("recording started")
	return nil
}

// Stop ends the current recording and returns the finished transcript.
// It stops forwarding frames, closes the stream and releases the device,
// attempting every step even when an earlier one fails. Calling Stop when
// nothing is recording returns the transcript and no error.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	cur := r.cur
	r.mu.Unlock()
	if cur == nil {
		return r.assembler.Finish(), nil
	}
	err := r.stop(cur)
	return cur.transcript, err
}

// Done is closed when the current recording has ended, whether by Stop,
// by exhausted input or by a failure.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.cur.done
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		SessionID:  r.lastID,
		State:      r.state,
		Connecting: r.state == StateConnecting,
		Recording:  r.state == StateRecording,
		Err:        r.lastErr,
		Transcript: r.assembler.Text(),
	}
}

// Clear empties the transcript.
func (r *Recorder) Clear() {
	r.assembler.Clear()
}

func (r *Recorder) forwardFrames(cur *run, logger *slog.Logger) {
	defer close(cur.frameDone)
	frames := cur.capture.Frames()
	for {
		select {
		case <-cur.halt:
			return
		case frame, ok := <-frames:
			if !ok {
				if err := cur.capture.Err(); err != nil {
					go r.end(cur, fault.Wrap(fault.ErrDevice, "audio capture failed", err))
				} else {
					go r.end(cur, nil)
				}
				return
			}
			if err := cur.stream.Send(frame); err != nil {
				logger.Debug("frame not sent", slogError(err))
				continue
			}
			if cur.tap != nil {
				if err := cur.tap.WriteFrame(frame); err != nil {
					logger.Warn("failed to write audio tap", slogError(err))
				}
			}
		}
	}
}

func (r *Recorder) collectDeltas(cur *run, publisher *stt.Publisher, logger *slog.Logger) {
	defer close(cur.deltaDone)
	for delta := range cur.stream.Deltas() {
		r.assembler.Apply(delta)
		publisher.Publish(delta)
	}
	if err := cur.stream.Err(); err != nil {
		go r.end(cur, err)
		return
	}
	if !cur.stopping.Load() {
		logger.Info("provider closed the stream")
		go r.end(cur, nil)
	}
}

// end finishes a run that stopped on its own. A cause is kept as the last
// error; the transcript captured so far is preserved.
func (r *Recorder) end(cur *run, cause error) {
	if cur.stopping.Load() {
		return
	}
	if cause != nil {
		r.mu.Lock()
		r.lastErr = cause
		r.mu.Unlock()
		r.logger.Warn("recording aborted", slog.String("session_id", cur.id), slogError(cause))
	}
	_ = r.stop(cur)
}

func (r *Recorder) stop(cur *run) error {
	cur.once.Do(func() {
		cur.stopping.Store(true)
		r.mu.Lock()
		r.state = StateStopping
		r.mu.Unlock()

		var errs []error
		close(cur.halt)
		<-cur.frameDone

		if err := cur.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		<-cur.deltaDone

		if err := cur.capture.Stop(); err != nil {
			errs = append(errs, fault.Wrap(fault.ErrDevice, "release audio device", err))
		}
		cur.cancel()

		if cur.tap != nil {
			if err := cur.tap.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		cur.transcript = r.assembler.Finish()
		cur.err = errors.Join(errs...)

		r.mu.Lock()
		if r.cur == cur {
			r.cur = nil
		}
		r.state = StateIdle
		r.mu.Unlock()
		close(cur.done)
		r.logger.Info("recording stopped", slog.String("session_id", cur.id), slog.Int("chars", len(cur.transcript)))
	})
	return cur.err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
