package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/protocol"
)

// ProviderIssuer creates temporary keys through the Deepgram management
// API. It runs server side and needs the long-lived project key.
type ProviderIssuer struct {
	APIBase   string
	APIKey    string
	ProjectID string
	Client    *http.Client
	Clock     func() time.Time
}

type createKeyRequest struct {
	Comment             string   `json:"comment"`
	Scopes              []string `json:"scopes"`
	Tags                []string `json:"tags"`
	TimeToLiveInSeconds int      `json:"time_to_live_in_seconds"`
}

type createKeyResponse struct {
	Key            string `json:"key"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

// Configured reports a missing project key or project ID.
func (p *ProviderIssuer) Configured() error {
	if p.APIKey == "" || p.ProjectID == "" {
		return fault.New(fault.ErrConfig, "missing Deepgram configuration")
	}
	return nil
}

func (p *ProviderIssuer) Issue(ctx context.Context, durationSeconds int) (Credential, error) {
	if err := p.Configured(); err != nil {
		return Credential{}, err
	}
	durationSeconds = ClampDuration(durationSeconds)

	body, err := json.Marshal(createKeyRequest{
		Comment:             "Temporary token for meeting minutes transcription",
		Scopes:              []string{"usage:write"},
		Tags:                []string{"temporary", "minutes", "frontend"},
		TimeToLiveInSeconds: durationSeconds,
	})
	if err != nil {
		return Credential{}, err
	}

	url := fmt.Sprintf("%s/v1/projects/%s/keys", strings.TrimRight(p.APIBase, "/"), p.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Authorization", "Token "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return Credential{}, fault.Wrap(fault.ErrProvider, "deepgram key request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Credential{}, fault.Wrap(fault.ErrProvider,
			fmt.Sprintf("deepgram returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}

	var out createKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fault.Wrap(fault.ErrProvider, "decode deepgram key response", err)
	}

	now := time.Now
	if p.Clock != nil {
		now = p.Clock
	}
	expires := now().Add(time.Duration(durationSeconds) * time.Second)
	if out.ExpirationDate != "" {
		if ts, err := time.Parse(time.RFC3339, out.ExpirationDate); err == nil {
			expires = ts
		}
	}
	return Credential{Secret: out.Key, ExpiresAt: expires}, nil
}

// ServerIssuer obtains credentials from this service's own token endpoint.
// It is what a recording client uses when it holds no provider secret.
type ServerIssuer struct {
	Endpoint string
	Client   *http.Client
}

func (s *ServerIssuer) Issue(ctx context.Context, durationSeconds int) (Credential, error) {
	if s.Endpoint == "" {
		return Credential{}, fault.New(fault.ErrConfig, "token endpoint not configured")
	}
	body, err := json.Marshal(protocol.TokenRequest{Duration: durationSeconds})
	if err != nil {
		return Credential{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return Credential{}, fault.Wrap(fault.ErrProvider, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	var out protocol.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fault.Wrap(fault.ErrProvider, "decode token response", err)
	}
	if !out.Success || out.APIKey == "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)
		}
		return Credential{}, fault.New(fault.ErrProvider, msg)
	}
	cred := Credential{Secret: out.APIKey}
	if out.ExpiresAt != nil {
		cred.ExpiresAt = *out.ExpiresAt
	}
	return cred, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}
