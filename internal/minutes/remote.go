package minutes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/protocol"
)

// RemoteFormatter formats through a minutes daemon's HTTP endpoint so the
// model key never leaves the server.
type RemoteFormatter struct {
	URL    string
	Client *http.Client
}

func NewRemoteFormatter(url string, timeout time.Duration) *RemoteFormatter {
	return &RemoteFormatter{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (r *RemoteFormatter) Format(ctx context.Context, transcript string, meta Metadata) (FormattedMinutes, error) {
	if r.URL == "" {
		return FormattedMinutes{}, fault.New(fault.ErrConfig, "no formatter url configured")
	}
	body, err := json.Marshal(protocol.MinutesRequest{
		Transcript:  strings.TrimSpace(transcript),
		MeetingInfo: meta.Protocol(),
	})
	if err != nil {
		return FormattedMinutes{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return FormattedMinutes{}, fault.Wrap(fault.ErrConfig, "build formatter request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return FormattedMinutes{}, fault.Wrap(fault.ErrProvider, "formatter request failed", err)
	}
	defer resp.Body.Close()

	var out protocol.FormatMinutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return FormattedMinutes{}, fault.Wrap(fault.ErrProvider,
			fmt.Sprintf("decode formatter response (status %d)", resp.StatusCode), err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Failed to format minutes"
		}
		if resp.StatusCode == http.StatusBadRequest {
			return FormattedMinutes{}, fault.Validation(msg)
		}
		return FormattedMinutes{}, fault.Wrap(fault.ErrProvider, msg, fmt.Errorf("status %d", resp.StatusCode))
	}
	if out.FormattedMinutes == nil {
		return FormattedMinutes{}, fault.Wrap(fault.ErrProvider, "No formatted minutes received from service", errors.New("empty body"))
	}
	return FromProtocol(*out.FormattedMinutes), nil
}
