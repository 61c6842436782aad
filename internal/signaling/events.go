package signaling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"voxlink-backend/internal/domain"
)

// Inbound event names. Clients send envelopes of the form
// {"event": "call:initiate", "data": {...}}.
const (
	EventCallInitiate     = "call:initiate"
	EventCallAccept       = "call:accept"
	EventCallReject       = "call:reject"
	EventCallEnd          = "call:end"
	EventWebRTCOffer      = "webrtc:offer"
	EventWebRTCAnswer     = "webrtc:answer"
	EventWebRTCICE        = "webrtc:ice-candidate"
	EventCallToggleAudio  = "call:toggle-audio"
	EventCallToggleVideo  = "call:toggle-video"
	EventScreenShareStart = "screen:share-start"
	EventScreenShareStop  = "screen:share-stop"
)

// Outbound event names.
const (
	EventCallInitiated      = "call:initiated"
	EventCallIncoming       = "call:incoming"
	EventCallAccepted       = "call:accepted"
	EventCallRejected       = "call:rejected"
	EventCallEnded          = "call:ended"
	EventCallMissed         = "call:missed"
	EventCallError          = "call:error"
	EventPeerAudioToggled   = "peer:audio-toggled"
	EventPeerVideoToggled   = "peer:video-toggled"
	EventScreenSharingStart = "screen:sharing-started"
	EventScreenSharingStop  = "screen:sharing-stopped"
)

// Signaling error codes carried by call:error events.
const (
	ErrCodeMaxParticipants = "MAX_PARTICIPANTS_EXCEEDED"
	ErrCodeCallNotFound    = "CALL_NOT_FOUND"
	ErrCodeCallNotRinging  = "CALL_NOT_RINGING"
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeCallSetupFailed = "CALL_SETUP_FAILED"
)

// Envelope is the wire frame for every inbound signaling event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound signaling event. Data is marshaled by the transport.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn is one live client connection as seen by the coordinator. The
// WebSocket layer implements it; tests substitute fakes. Send must not
// block: delivery is fire-and-forget.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	DisplayName() string
	Send(ev Event)
}

// Inbound payloads

type InitiatePayload struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	CallType       domain.CallType `json:"call_type"`
	InviteeIDs     []uuid.UUID     `json:"invitee_ids"`
}

type AcceptPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

type RejectPayload struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}

type EndPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// SDPPayload carries an offer or answer to a single named peer.
type SDPPayload struct {
	CallID uuid.UUID `json:"call_id"`
	To     uuid.UUID `json:"to"`
	SDP    string    `json:"sdp"`
}

// ICEPayload carries one ICE candidate to a single named peer.
type ICEPayload struct {
	CallID    uuid.UUID       `json:"call_id"`
	To        uuid.UUID       `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type TogglePayload struct {
	CallID  uuid.UUID `json:"call_id"`
	Enabled bool      `json:"enabled"`
}

type ScreenSharePayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// Outbound payloads

type InitiatedData struct {
	CallID       uuid.UUID   `json:"call_id"`
	Participants []uuid.UUID `json:"participants"`
}

type IncomingCallData struct {
	CallID         uuid.UUID          `json:"call_id"`
	ConversationID uuid.UUID          `json:"conversation_id"`
	CallType       domain.CallType    `json:"call_type"`
	InitiatorID    uuid.UUID          `json:"initiator_id"`
	InitiatorName  string             `json:"initiator_name"`
	ICEServers     []webrtc.ICEServer `json:"ice_servers"`
}

type AcceptedData struct {
	CallID     uuid.UUID          `json:"call_id"`
	UserID     uuid.UUID          `json:"user_id"`
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

type RejectedData struct {
	CallID uuid.UUID `json:"call_id"`
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason,omitempty"`
}

type EndedData struct {
	CallID   uuid.UUID `json:"call_id"`
	EndedBy  uuid.UUID `json:"ended_by"`
	Duration float64   `json:"duration_seconds"`
}

type MissedData struct {
	CallID uuid.UUID `json:"call_id"`
}

type ErrorData struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	CallID  uuid.UUID `json:"call_id,omitempty"`
}

// RelayData is a forwarded offer, answer or ICE candidate. The payload is
// passed through verbatim.
type RelayData struct {
	CallID    uuid.UUID       `json:"call_id"`
	From      uuid.UUID       `json:"from"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PeerStateData is an ephemeral peer UI notification (mute, camera,
// screen share). Nothing about it is persisted on the session.
type PeerStateData struct {
	CallID  uuid.UUID `json:"call_id"`
	UserID  uuid.UUID `json:"user_id"`
	Enabled bool      `json:"enabled,omitempty"`
}
