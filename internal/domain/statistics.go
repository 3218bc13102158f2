package domain

import "github.com/google/uuid"

// CallStatistics aggregates a user's calls, as caller or receiver
type CallStatistics struct {
	TotalCalls     int `json:"total_calls"`
	TotalDuration  int `json:"total_duration"` // seconds, terminal calls only
	VideoCalls     int `json:"video_calls"`
	AudioCalls     int `json:"audio_calls"`
	CompletedCalls int `json:"completed_calls"`
	MissedCalls    int `json:"missed_calls"`   // timed out while the user was receiver
	RejectedCalls  int `json:"rejected_calls"` // rejected by the user as receiver
}

// Add folds one call into the statistics of userID
func (s *CallStatistics) Add(c *CallSession, userID uuid.UUID) {
	if !c.IsParty(userID) {
		return
	}
	s.TotalCalls++
	if c.IsTerminal() {
		s.TotalDuration += c.Duration
	}
	switch c.Kind {
	case CallKindVideo:
		s.VideoCalls++
	case CallKindAudio:
		s.AudioCalls++
	}
	switch c.Status {
	case CallStatusEnded:
		s.CompletedCalls++
	case CallStatusMissed:
		if c.ReceiverID == userID {
			s.MissedCalls++
		}
	case CallStatusRejected:
		if c.ReceiverID == userID {
			s.RejectedCalls++
		}
	}
}

// CallFilter narrows a history listing. Zero values match everything.
type CallFilter struct {
	Kind   CallKind
	Status CallStatus
}

// Matches reports whether c passes the filter
func (f CallFilter) Matches(c *CallSession) bool {
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// Availability is a user's reachability for new calls
type Availability struct {
	UserID    uuid.UUID `json:"user_id"`
	Available bool      `json:"available"`
	OptedOut  bool      `json:"opted_out"`
	InCall    bool      `json:"in_call"`
	Online    bool      `json:"online"`
}
