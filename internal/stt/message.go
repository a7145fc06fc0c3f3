package stt

import (
	"encoding/json"
	"fmt"
)

// Delta is one transcript update from the provider. Interim deltas are
// superseded by the next delta; final deltas are stable. Confidence is
// nil when the provider did not report one.
type Delta struct {
	Text       string
	Final      bool
	Confidence *float64
}

type listenResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel *struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ParseMessage decodes a provider results message. It reports false for
// messages that carry no transcript text (metadata, keepalive, silence).
// Only the first alternative is used.
func ParseMessage(data []byte) (Delta, bool, error) {
	var msg listenResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return Delta{}, false, fmt.Errorf("decode listen message: %w", err)
	}
	if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
		return Delta{}, false, nil
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Delta{}, false, nil
	}
	return Delta{Text: alt.Transcript, Final: msg.IsFinal, Confidence: alt.Confidence}, true, nil
}
