package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes audio-only from video calls
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusOngoing  CallStatus = "ongoing"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
	CallStatusDeclined CallStatus = "declined"
	CallStatusFailed   CallStatus = "failed"
)

// Terminal reports whether no transition may leave this status
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusDeclined, CallStatusFailed:
		return true
	}
	return false
}

// CallSession is one in-flight call. It lives only in process memory and is
// removed from the store on any terminal transition.
type CallSession struct {
	CallID         uuid.UUID   `json:"call_id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	CallType       CallType    `json:"call_type"`
	InitiatorID    uuid.UUID   `json:"initiator_id"`
	InitiatorName  string      `json:"initiator_name"`
	Participants   []uuid.UUID `json:"participants"` // initiator + invitees, fixed at creation
	Status         CallStatus  `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
}

// HasParticipant reports whether userID was addressed by this call
func (c *CallSession) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Duration is endedAt - startedAt, or zero while the call is still live
func (c *CallSession) Duration() time.Duration {
	if c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}
