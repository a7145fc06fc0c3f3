package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/minutes"
	"github.com/loqalabs/minutes-core/internal/protocol"
	"github.com/loqalabs/minutes-core/internal/token"
)

// configChecker is implemented by issuers that can report missing
// settings without calling out.
type configChecker interface {
	Configured() error
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, s.tokenLimiter) {
		return
	}
	if c, ok := s.issuer.(configChecker); ok {
		if err := c.Configured(); err != nil {
			s.logger.Error("token issuer not configured", slogError(err))
			writeError(w, http.StatusInternalServerError, msgConfigError)
			return
		}
	}

	var req protocol.TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	duration := req.Duration
	if duration == 0 {
		duration = s.defaultDuration
	}
	duration = token.ClampDuration(duration)

	cred, err := s.issuer.Issue(r.Context(), duration)
	if err != nil {
		s.logger.Error("token issuance failed", slogError(err), slog.Int("duration", duration))
		if errors.Is(err, fault.ErrConfig) {
			writeError(w, http.StatusInternalServerError, msgConfigError)
			return
		}
		writeError(w, http.StatusServiceUnavailable, msgTokenFailed)
		return
	}

	resp := protocol.TokenResponse{Success: true, APIKey: cred.Secret}
	if !cred.ExpiresAt.IsZero() {
		expires := cred.ExpiresAt.UTC()
		resp.ExpiresAt = &expires
	}
	s.logger.Info("token issued", slog.Int("duration", duration))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, s.formatLimiter) {
		return
	}
	if err := s.formatter.Configured(); err != nil {
		s.logger.Error("formatter not configured", slogError(err))
		writeError(w, http.StatusInternalServerError, msgConfigError)
		return
	}

	var req protocol.MinutesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	meta, err := minutes.MetadataFromProtocol(req.MeetingInfo)
	if err == nil {
		err = s.limits.ValidateInput(req.Transcript, meta)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fault.Message(err))
		return
	}

	out, err := s.formatter.Format(r.Context(), req.Transcript, meta)
	if err != nil {
		status, msg := formatFailure(err)
		s.logger.Error("minutes formatting failed", slogError(err), slog.Int("status", status))
		writeError(w, status, msg)
		return
	}

	m := s.limits.Sanitize(out).Protocol()
	writeJSON(w, http.StatusOK, protocol.FormatMinutesResponse{Success: true, FormattedMinutes: &m})
}

// formatFailure maps an error from a formatter that already accepted the
// input. Malformed model output is an upstream failure here, not the
// caller's fault.
func formatFailure(err error) (int, string) {
	switch {
	case errors.Is(err, fault.ErrConfig):
		return http.StatusInternalServerError, msgConfigError
	case errors.Is(err, fault.ErrValidation):
		return http.StatusServiceUnavailable, fault.Message(err)
	case errors.Is(err, fault.ErrProvider), errors.Is(err, fault.ErrConnection), errors.Is(err, fault.ErrAuth):
		return http.StatusServiceUnavailable, fault.PublicMessage(err)
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
