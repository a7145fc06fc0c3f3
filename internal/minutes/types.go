// Package minutes turns a meeting transcript into numbered agenda-item
// minutes, either through a language model or a deterministic fallback.
package minutes

import (
	"fmt"
	"strings"

	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/protocol"
)

// MeetingType classifies the meeting being minuted.
type MeetingType string

const (
	TypeMeeting     MeetingType = "Meeting"
	TypePractice    MeetingType = "Practice"
	TypeCommittee   MeetingType = "Committee"
	TypePerformance MeetingType = "Performance"
	TypeSpecial     MeetingType = "Special"
)

var meetingTypes = []MeetingType{TypeMeeting, TypePractice, TypeCommittee, TypePerformance, TypeSpecial}

// ParseMeetingType accepts a meeting type case-insensitively. An empty
// string means TypeMeeting.
func ParseMeetingType(s string) (MeetingType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeMeeting, nil
	}
	for _, t := range meetingTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fault.Validation(fmt.Sprintf("Unknown meeting type %q", s))
}

// Metadata describes the meeting a transcript belongs to.
type Metadata struct {
	Date        string
	Type        MeetingType
	Chairperson string
	Present     string
	Apologies   string
	MinutesBy   string
}

func MetadataFromProtocol(info protocol.MeetingInfo) (Metadata, error) {
	mt, err := ParseMeetingType(info.Type)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Date:        info.Date,
		Type:        mt,
		Chairperson: info.Chairperson,
		Present:     info.Present,
		Apologies:   info.Apologies,
		MinutesBy:   info.MinutesBy,
	}, nil
}

func (m Metadata) Protocol() protocol.MeetingInfo {
	return protocol.MeetingInfo{
		Date:        m.Date,
		Type:        string(m.Type),
		Chairperson: m.Chairperson,
		Present:     m.Present,
		Apologies:   m.Apologies,
		MinutesBy:   m.MinutesBy,
	}
}

// ActionItem is a task recorded in the minutes.
type ActionItem struct {
	Description string
	Assignee    string
}

// FormattedMinutes is the output of both formatting paths. HTMLContent is
// a sequence of agenda-item fragments.
type FormattedMinutes struct {
	HTMLContent string
	Summary     string
	ActionItems []ActionItem
	Decisions   []string
	NextMeeting string
}

func (f FormattedMinutes) Protocol() protocol.Minutes {
	out := protocol.Minutes{
		HTMLContent: f.HTMLContent,
		Summary:     f.Summary,
		Decisions:   f.Decisions,
		NextMeeting: f.NextMeeting,
	}
	for _, a := range f.ActionItems {
		out.ActionItems = append(out.ActionItems, protocol.ActionItem{Description: a.Description, Assignee: a.Assignee})
	}
	return out
}

func FromProtocol(m protocol.Minutes) FormattedMinutes {
	out := FormattedMinutes{
		HTMLContent: m.HTMLContent,
		Summary:     m.Summary,
		Decisions:   m.Decisions,
		NextMeeting: m.NextMeeting,
	}
	for _, a := range m.ActionItems {
		out.ActionItems = append(out.ActionItems, ActionItem{Description: a.Description, Assignee: a.Assignee})
	}
	return out
}

// Source records which path produced a Result.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Result is the sanitized outcome of Pipeline.Produce. Warning is set when
// the fallback path was taken.
type Result struct {
	Minutes FormattedMinutes
	Source  Source
	Warning string
}
