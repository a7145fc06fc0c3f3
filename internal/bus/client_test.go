package bus

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/natsserver"
	"github.com/loqalabs/minutes-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNilClientIsDisabledBus(t *testing.T) {
	var c *Client
	require.True(t, c.Healthy())
	require.NoError(t, c.PublishJSON(protocol.SubjectMinutesReady, protocol.MinutesReady{}))
	require.Nil(t, c.Conn())
	c.Close()
}

func TestPublishJSONRoundTrip(t *testing.T) {
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(cfg, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.True(t, client.Healthy())

	received := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, received)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	want := protocol.Transcript{SessionID: "s-1", Text: "John welcomed all.", Timestamp: time.Now().UTC()}
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal, want))

	select {
	case msg := <-received:
		var got protocol.Transcript
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, want.Text, got.Text)
		require.Equal(t, want.SessionID, got.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
