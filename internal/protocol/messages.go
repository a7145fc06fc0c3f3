package protocol

import "time"

// Transcript is a transcript delta broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// MeetingInfo is the wire form of the meeting metadata.
type MeetingInfo struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Chairperson string `json:"chairperson"`
	Present     string `json:"present"`
	Apologies   string `json:"apologies"`
	MinutesBy   string `json:"minutesBy"`
}

// MinutesRequest asks the minutes service to format a transcript.
type MinutesRequest struct {
	SessionID   string      `json:"session_id"`
	Transcript  string      `json:"transcript"`
	MeetingInfo MeetingInfo `json:"meetingInfo"`
	TraceID     string      `json:"trace_id,omitempty"`
}

// Minutes is the wire form of formatted minutes.
type Minutes struct {
	HTMLContent string       `json:"htmlContent"`
	Summary     string       `json:"summary"`
	ActionItems []ActionItem `json:"actionItems,omitempty"`
	Decisions   []string     `json:"decisions,omitempty"`
	NextMeeting string       `json:"nextMeeting,omitempty"`
}

type ActionItem struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
}

// MinutesReady is published once minutes have been produced for a session.
type MinutesReady struct {
	SessionID string    `json:"session_id"`
	Minutes   Minutes   `json:"minutes"`
	Source    string    `json:"source"`
	Warning   string    `json:"warning,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatMinutesResponse is the body of the minutes-formatting endpoint.
type FormatMinutesResponse struct {
	Success          bool     `json:"success"`
	FormattedMinutes *Minutes `json:"formattedMinutes,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// TokenRequest is the body of the credential issuance endpoint.
type TokenRequest struct {
	Duration int `json:"duration,omitempty"`
}

// TokenResponse is returned by the credential issuance endpoint.
type TokenResponse struct {
	Success   bool       `json:"success"`
	APIKey    string     `json:"apiKey,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectMinutesRequest    = "minutes.request"
	SubjectMinutesReady      = "minutes.ready"
)
