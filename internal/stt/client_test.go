package stt

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/loqalabs/minutes-core/internal/audio"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/stt/stttest"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		ListenURL:  url,
		Model:      "nova-2-general",
		Language:   "en-AU",
		CloseGrace: 2 * time.Second,
	}, newLogger())
}

func collect(t *testing.T, ch <-chan Delta, n int) []Delta {
	t.Helper()
	var out []Delta
	for len(out) < n {
		select {
		case d, ok := <-ch:
			if !ok {
				t.Fatalf("deltas closed after %d of %d", len(out), n)
			}
			out = append(out, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d deltas", len(out), n)
		}
	}
	return out
}

func confidence(v float64) *float64 { return &v }

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  Delta
		ok    bool
		isErr bool
	}{
		{name: "final", in: stttest.Result("John welcomed all.", true), want: Delta{Text: "John welcomed all.", Final: true, Confidence: confidence(0.98)}, ok: true},
		{name: "interim", in: stttest.Result("John wel", false), want: Delta{Text: "John wel", Confidence: confidence(0.98)}, ok: true},
		{name: "no confidence", in: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Seconded."}]}}`, want: Delta{Text: "Seconded.", Final: true}, ok: true},
		{name: "zero confidence", in: `{"type":"Results","channel":{"alternatives":[{"transcript":"mm","confidence":0}]}}`, want: Delta{Text: "mm", Confidence: confidence(0)}, ok: true},
		{name: "empty transcript", in: stttest.Result("", true)},
		{name: "no alternatives", in: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "metadata", in: `{"type":"Metadata","request_id":"abc"}`},
		{name: "malformed", in: `{"type":`, isErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := ParseMessage([]byte(tc.in))
			if tc.isErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestListenURLCarriesStreamParameters(t *testing.T) {
	c := newTestClient("wss://api.deepgram.com/v1/listen")
	raw, err := c.ListenURL()
	require.NoError(t, err)
	for _, part := range []string{
		"model=nova-2-general", "language=en-AU", "punctuate=true", "interim_results=true",
		"encoding=linear16", "sample_rate=16000", "channels=1",
	} {
		require.Contains(t, raw, part)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	p := &stttest.Provider{
		Greeting: []string{
			`{"type":"Metadata"}`,
			stttest.Result("Good eve", false),
			`not json`,
			stttest.Result("Good evening everyone.", true),
		},
		Farewell: []string{stttest.Result("Meeting closed.", true)},
	}
	p.Start()
	t.Cleanup(p.Close)

	c := newTestClient(p.URL())
	stream, err := c.Connect(context.Background(), "secret-123")
	require.NoError(t, err)
	require.Equal(t, StateStreaming, stream.State())
	require.Equal(t, []string{"token", "secret-123"}, p.Protocols())
	require.Equal(t, "linear16", p.Query()["encoding"])

	got := collect(t, stream.Deltas(), 2)
	require.Equal(t, Delta{Text: "Good eve", Confidence: confidence(0.98)}, got[0])
	require.Equal(t, Delta{Text: "Good evening everyone.", Final: true, Confidence: confidence(0.98)}, got[1])

	frame := audio.Frame{PCM: []int16{1, -1, 32767}}
	require.NoError(t, stream.Send(frame))
	require.Eventually(t, func() bool { return len(p.Frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, frame.Bytes(), p.Frames()[0])

	require.NoError(t, stream.Close())
	require.Equal(t, StateClosed, stream.State())
	require.NoError(t, stream.Err())

	var rest []Delta
	for d := range stream.Deltas() {
		rest = append(rest, d)
	}
	require.Equal(t, []Delta{{Text: "Meeting closed.", Final: true, Confidence: confidence(0.98)}}, rest)

	err = stream.Send(frame)
	require.ErrorIs(t, err, fault.ErrConnection)
	require.NoError(t, stream.Close())
}

func TestConnectRejected(t *testing.T) {
	p := &stttest.Provider{Reject: http.StatusUnauthorized}
	p.Start()
	t.Cleanup(p.Close)

	_, err := newTestClient(p.URL()).Connect(context.Background(), "bad")
	require.ErrorIs(t, err, fault.ErrConnection)
}

func TestConnectWithoutSecret(t *testing.T) {
	_, err := newTestClient("ws://127.0.0.1:1/v1/listen").Connect(context.Background(), "")
	require.ErrorIs(t, err, fault.ErrConnection)
}

func TestDroppedStreamReportsConnectionError(t *testing.T) {
	p := &stttest.Provider{Greeting: []string{stttest.Result("Hello.", true)}, Drop: true}
	p.Start()
	t.Cleanup(p.Close)

	stream, err := newTestClient(p.URL()).Connect(context.Background(), "k")
	require.NoError(t, err)

	var got []Delta
	for d := range stream.Deltas() {
		got = append(got, d)
	}
	require.Len(t, got, 1)
	require.Equal(t, StateClosed, stream.State())
	require.ErrorIs(t, stream.Err(), fault.ErrConnection)
	require.ErrorIs(t, stream.Send(audio.Frame{PCM: []int16{0}}), fault.ErrConnection)
	require.NoError(t, stream.Close())
}

func TestCloseGivesUpOnSilentProvider(t *testing.T) {
	p := &stttest.Provider{Silent: true}
	p.Start()
	t.Cleanup(p.Close)

	c := NewClient(Options{ListenURL: p.URL(), Model: "m", Language: "en-AU", CloseGrace: 100 * time.Millisecond}, newLogger())
	stream, err := c.Connect(context.Background(), "k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	_, ok := <-stream.Deltas()
	require.False(t, ok)
}
