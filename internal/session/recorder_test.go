package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/minutes-core/internal/audio"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/stt"
	"github.com/loqalabs/minutes-core/internal/stt/stttest"
	"github.com/loqalabs/minutes-core/internal/token"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, int) (token.Credential, error) {
	return token.Credential{}, errors.New("upstream said no")
}

func newRecorder(p *stttest.Provider, dev audio.Device, creds Credentials) *Recorder {
	if creds == nil {
		creds = token.NewBroker(nil, token.WithStaticKey("dev-key"))
	}
	url := "ws://127.0.0.1:1/v1/listen"
	if p != nil {
		url = p.URL()
	}
	client := stt.NewClient(stt.Options{ListenURL: url, Model: "nova-2-general", Language: "en-AU", CloseGrace: 2 * time.Second}, newLogger())
	return New(Options{Credentials: creds, Device: dev, Client: client}, newLogger())
}

func waitDone(t *testing.T, r *Recorder) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not end")
	}
}

func TestRecordAndStop(t *testing.T) {
	p := &stttest.Provider{
		Greeting: []string{
			stttest.Result("Good eve", false),
			stttest.Result("Good evening everyone.", true),
			stttest.Result("Apologies from", false),
		},
		Farewell: []string{stttest.Result("Meeting closed.", true)},
	}
	p.Start()
	t.Cleanup(p.Close)

	dev := &audio.MockDevice{Endless: true, Realtime: true}
	r := newRecorder(p, dev, nil)
	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, StateRecording, r.Status().State)
	require.True(t, r.Status().Recording)
	require.ErrorIs(t, r.Start(context.Background()), ErrBusy)

	require.Eventually(t, func() bool {
		return r.Status().Transcript == "Good evening everyone. Apologies from"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(p.Frames()) > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"token", "dev-key"}, p.Protocols())

	text, err := r.Stop()
	require.NoError(t, err)
	require.Equal(t, "Good evening everyone. Meeting closed.", text)
	require.True(t, dev.Released())

	st := r.Status()
	require.Equal(t, StateIdle, st.State)
	require.NoError(t, st.Err)
	require.NotEmpty(t, st.SessionID)

	sent := len(p.Frames())
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, sent, len(p.Frames()))

	again, err := r.Stop()
	require.NoError(t, err)
	require.Equal(t, text, again)
}

func TestCredentialFailureHoldsNothing(t *testing.T) {
	p := &stttest.Provider{}
	p.Start()
	t.Cleanup(p.Close)

	dev := &audio.MockDevice{Endless: true}
	r := newRecorder(p, dev, token.NewBroker(failingIssuer{}))
	err := r.Start(context.Background())
	require.ErrorIs(t, err, fault.ErrAuth)
	require.Zero(t, p.Connections())
	require.True(t, dev.Released())
	require.Equal(t, StateIdle, r.Status().State)
	require.ErrorIs(t, r.Status().Err, fault.ErrAuth)
}

func TestDeviceFailure(t *testing.T) {
	p := &stttest.Provider{}
	p.Start()
	t.Cleanup(p.Close)

	r := newRecorder(p, &audio.MockDevice{Fail: true}, nil)
	require.ErrorIs(t, r.Start(context.Background()), fault.ErrDevice)
	require.Zero(t, p.Connections())
	require.Equal(t, StateIdle, r.Status().State)
}

func TestConnectionFailureReleasesDevice(t *testing.T) {
	p := &stttest.Provider{Reject: http.StatusUnauthorized}
	p.Start()
	t.Cleanup(p.Close)

	dev := &audio.MockDevice{Endless: true, Realtime: true}
	r := newRecorder(p, dev, nil)
	require.ErrorIs(t, r.Start(context.Background()), fault.ErrConnection)
	require.True(t, dev.Released())
	require.Equal(t, StateIdle, r.Status().State)

	_, err := r.Stop()
	require.NoError(t, err)
}

func TestDroppedStreamAbortsAndKeepsTranscript(t *testing.T) {
	p := &stttest.Provider{Greeting: []string{stttest.Result("Hello.", true)}, Drop: true}
	p.Start()
	t.Cleanup(p.Close)

	dev := &audio.MockDevice{Endless: true, Realtime: true}
	r := newRecorder(p, dev, nil)
	require.NoError(t, r.Start(context.Background()))
	waitDone(t, r)

	st := r.Status()
	require.Equal(t, StateIdle, st.State)
	require.ErrorIs(t, st.Err, fault.ErrConnection)
	require.True(t, dev.Released())

	text, err := r.Stop()
	require.NoError(t, err)
	require.Equal(t, "Hello.", text)
}

func TestExhaustedInputEndsSession(t *testing.T) {
	p := &stttest.Provider{Farewell: []string{stttest.Result("That is all.", true)}}
	p.Start()
	t.Cleanup(p.Close)

	samples := make([]float32, 3*audio.DefaultBlockSize+10)
	for i := range samples {
		samples[i] = 0.5
	}
	dev := &audio.MockDevice{Samples: samples}

	path := filepath.Join(t.TempDir(), "meeting.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	r := newRecorder(p, dev, nil)
	r.opts.Tap = f
	require.NoError(t, r.Start(context.Background()))
	waitDone(t, r)

	require.Len(t, p.Frames(), 4)
	require.True(t, dev.Released())
	require.NoError(t, r.Status().Err)

	text, err := r.Stop()
	require.NoError(t, err)
	require.Equal(t, "That is all.", text)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 4*audio.DefaultBlockSize)
	require.Equal(t, 16384, buf.Data[0])
}

// stickyDevice releases its source but reports a failure doing so.
type stickyDevice struct {
	audio.MockDevice
}

func (d *stickyDevice) Open(ctx context.Context) (audio.Source, error) {
	src, err := d.MockDevice.Open(ctx)
	if err != nil {
		return nil, err
	}
	return stickySource{src}, nil
}

type stickySource struct {
	audio.Source
}

func (s stickySource) Close() error {
	_ = s.Source.Close()
	return errors.New("device busy")
}

func TestStopFinishesTeardownWhenDeviceReleaseFails(t *testing.T) {
	p := &stttest.Provider{
		Greeting: []string{stttest.Result("Motion carried.", true)},
		Farewell: []string{stttest.Result("Meeting closed.", true)},
	}
	p.Start()
	t.Cleanup(p.Close)

	path := filepath.Join(t.TempDir(), "meeting.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	dev := &stickyDevice{MockDevice: audio.MockDevice{Endless: true, Realtime: true}}
	r := newRecorder(p, dev, nil)
	r.opts.Tap = f
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool {
		return r.Status().Transcript == "Motion carried." && len(p.Frames()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	text, err := r.Stop()
	require.ErrorIs(t, err, fault.ErrDevice)
	require.ErrorContains(t, err, "device busy")

	// The farewell only arrives after a graceful stream close.
	require.Equal(t, "Motion carried. Meeting closed.", text)
	require.True(t, dev.Released())

	st := r.Status()
	require.Equal(t, StateIdle, st.State)
	require.Equal(t, text, st.Transcript)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.NotEmpty(t, buf.Data)
	require.Zero(t, len(buf.Data)%audio.DefaultBlockSize)
}

func TestClear(t *testing.T) {
	p := &stttest.Provider{Greeting: []string{stttest.Result("Minutes of last meeting read.", true)}}
	p.Start()
	t.Cleanup(p.Close)

	r := newRecorder(p, &audio.MockDevice{Endless: true, Realtime: true}, nil)
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return r.Status().Transcript != "" }, 2*time.Second, 10*time.Millisecond)
	_, err := r.Stop()
	require.NoError(t, err)

	r.Clear()
	require.Empty(t, r.Status().Transcript)
	text, err := r.Stop()
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "recording", StateRecording.String())
	require.Equal(t, "stopping", StateStopping.String())
}
