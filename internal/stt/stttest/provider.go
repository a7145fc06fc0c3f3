// Package stttest provides an in-process stand-in for the streaming
// transcription provider.
package stttest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Provider accepts websocket connections the way the real listen endpoint
// does. Greeting is sent right after the upgrade, Farewell after the client
// asks to close the stream.
type Provider struct {
	Greeting []string
	Farewell []string
	// Reject makes the handshake fail with this status.
	Reject int
	// Drop closes the connection without a close frame after the greeting.
	Drop bool
	// Silent ignores the close request so the client has to time out.
	Silent bool

	server *httptest.Server

	mu        sync.Mutex
	protocols []string
	query     map[string]string
	frames    [][]byte
	conns     int
}

func (p *Provider) Start() {
	upgrader := websocket.Upgrader{Subprotocols: []string{"token"}}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Reject != 0 {
			http.Error(w, "rejected", p.Reject)
			return
		}
		p.mu.Lock()
		p.protocols = websocket.Subprotocols(r)
		p.query = map[string]string{}
		for k, v := range r.URL.Query() {
			p.query[k] = v[0]
		}
		p.conns++
		p.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range p.Greeting {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if p.Drop {
			return
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				p.mu.Lock()
				p.frames = append(p.frames, bytes.Clone(data))
				p.mu.Unlock()
			case websocket.TextMessage:
				if !strings.Contains(string(data), "CloseStream") || p.Silent {
					continue
				}
				for _, msg := range p.Farewell {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

// URL is the websocket listen URL of the provider.
func (p *Provider) URL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http") + "/v1/listen"
}

func (p *Provider) Close() {
	p.server.Close()
}

// Protocols returns the subprotocols offered by the last client.
func (p *Provider) Protocols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.protocols...)
}

// Query returns the query parameters of the last connection.
func (p *Provider) Query() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// Frames returns the binary messages received so far.
func (p *Provider) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

// Connections returns how many handshakes were accepted.
func (p *Provider) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns
}

// Result renders a results message in the provider's wire shape.
func Result(text string, final bool) string {
	msg := map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.98}},
		},
	}
	data, _ := json.Marshal(msg)
	return string(data)
}
