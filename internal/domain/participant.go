package domain

import (
	"time"

	"github.com/google/uuid"

	"tutorcall-backend/pkg/quality"
)

// ParticipantRole is a party's role in a call
type ParticipantRole string

const (
	RoleCaller   ParticipantRole = "caller"
	RoleReceiver ParticipantRole = "receiver"
)

func (r ParticipantRole) index() int {
	if r == RoleReceiver {
		return 1
	}
	return 0
}

// ParticipantStatus is a party's connection status within a call
type ParticipantStatus string

const (
	ParticipantInvited      ParticipantStatus = "invited"
	ParticipantActive       ParticipantStatus = "active"
	ParticipantLeft         ParticipantStatus = "left"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// Participant is one party's per-call state. It carries the call id for
// lookup only; the session owns it.
type Participant struct {
	CallID        uuid.UUID         `json:"call_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Role          ParticipantRole   `json:"role"`
	Status        ParticipantStatus `json:"status"`
	JoinedAt      *time.Time        `json:"joined_at,omitempty"`
	LeftAt        *time.Time        `json:"left_at,omitempty"`
	IsMuted       bool              `json:"is_muted"`
	VideoEnabled  bool              `json:"video_enabled"`
	ScreenSharing bool              `json:"screen_sharing"`
	Quality       *quality.Sample   `json:"connection_quality,omitempty"`
}

func newParticipant(callID, userID uuid.UUID, role ParticipantRole) Participant {
	return Participant{
		CallID:       callID,
		UserID:       userID,
		Role:         role,
		Status:       ParticipantInvited,
		VideoEnabled: true,
	}
}

// Join marks the participant active. The first join time is kept.
func (p *Participant) Join(now time.Time) {
	p.Status = ParticipantActive
	if p.JoinedAt == nil {
		p.JoinedAt = &now
	}
}

// Leave marks the participant as having left
func (p *Participant) Leave(now time.Time) {
	p.depart(ParticipantLeft, now)
}

// Disconnect marks the participant as dropped without an explicit leave
func (p *Participant) Disconnect(now time.Time) {
	p.depart(ParticipantDisconnected, now)
}

// depart sets left_at once, and only for a participant that joined.
// A left_at earlier than joined_at is pinned to joined_at.
func (p *Participant) depart(status ParticipantStatus, now time.Time) {
	p.Status = status
	if p.JoinedAt == nil || p.LeftAt != nil {
		return
	}
	if now.Before(*p.JoinedAt) {
		now = *p.JoinedAt
	}
	p.LeftAt = &now
}

// SetMuted reports whether the flag changed
func (p *Participant) SetMuted(muted bool) bool {
	changed := p.IsMuted != muted
	p.IsMuted = muted
	return changed
}

// SetVideo reports whether the flag changed
func (p *Participant) SetVideo(enabled bool) bool {
	changed := p.VideoEnabled != enabled
	p.VideoEnabled = enabled
	return changed
}

// SetScreenSharing reports whether the flag changed
func (p *Participant) SetScreenSharing(enabled bool) bool {
	changed := p.ScreenSharing != enabled
	p.ScreenSharing = enabled
	return changed
}

// RecordQuality replaces the previous sample
func (p *Participant) RecordQuality(s *quality.Sample) {
	p.Quality = s.Clone()
}

// QualityScore scores the latest sample, 0 when none
func (p *Participant) QualityScore() float64 {
	return quality.ParticipantScore(p.Quality)
}

func (p Participant) clone() Participant {
	out := p
	out.JoinedAt = cloneTime(p.JoinedAt)
	out.LeftAt = cloneTime(p.LeftAt)
	out.Quality = p.Quality.Clone()
	return out
}
