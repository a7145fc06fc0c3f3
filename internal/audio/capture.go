package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Capture holds one device for the lifetime of a recording session and
// emits fixed-size frames until the input ends or Stop is called.
type Capture struct {
	device    Device
	blockSize int
	logger    *slog.Logger

	frames chan Frame
	cancel context.CancelFunc
	source Source
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
	err      error
}

func NewCapture(device Device, blockSize int, logger *slog.Logger) *Capture {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Capture{
		device:    device,
		blockSize: blockSize,
		logger:    logger.With(slog.String("component", "audio-capture")),
		frames:    make(chan Frame),
		done:      make(chan struct{}),
	}
}

// Start opens the device and begins producing frames. A failure to open
// the device is returned as a fault.ErrDevice and leaves nothing held.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("capture already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	source, err := c.device.Open(ctx)
	if err != nil {
		cancel()
		close(c.done)
		close(c.frames)
		c.started = true
		return err
	}
	c.source = source
	c.cancel = cancel
	c.started = true

	go c.run(ctx)
	return nil
}

// Frames is closed when capture ends for any reason. The channel is
// unbuffered, so once Stop returns no further frame can be received.
func (c *Capture) Frames() <-chan Frame {
	return c.frames
}

// Err reports why capture ended on its own, if it did so with an error.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.frames)

	framer := NewFramer(c.blockSize)
	buf := make([]float32, c.blockSize)
	for {
		n, err := c.source.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				if !c.emit(ctx, frame) {
					return
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.logger.Warn("audio capture ended with error", slog.String("error", err.Error()))
				return
			}
			if frame, ok := framer.Flush(); ok {
				c.emit(ctx, frame)
			}
			c.logger.Info("audio input exhausted")
			return
		}
	}
}

func (c *Capture) emit(ctx context.Context, frame Frame) bool {
	select {
	case c.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop halts frame production and releases the device. It is idempotent
// and safe to call when Start failed or was never called.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		cancel := c.cancel
		source := c.source
		c.mu.Unlock()

		if !started {
			return
		}
		if cancel != nil {
			cancel()
		}
		<-c.done
		if source != nil {
			c.stopErr = source.Close()
		}
	})
	return c.stopErr
}
