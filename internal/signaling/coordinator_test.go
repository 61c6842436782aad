package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeConn is a Conn that records everything sent to it
type fakeConn struct {
	id     string
	userID uuid.UUID
	name   string

	mu     sync.Mutex
	events []Event
}

func newFakeConn(userID uuid.UUID, name string) *fakeConn {
	return &fakeConn{
		id:     uuid.New().String(),
		userID: userID,
		name:   name,
	}
}

func (f *fakeConn) ID() string          { return f.id }
func (f *fakeConn) UserID() uuid.UUID   { return f.userID }
func (f *fakeConn) DisplayName() string { return f.name }

func (f *fakeConn) Send(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeConn) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(event string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == event {
			return f.events[i], true
		}
	}
	return Event{}, false
}

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c := NewCoordinator(cfg, nil, nil)
	t.Cleanup(c.Close)
	return c
}

// dispatch marshals payload and feeds it through the event loop
func dispatch(t *testing.T, c *Coordinator, conn Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	c.HandleEvent(conn, Envelope{Event: event, Data: data})
}

// barrier waits until every previously enqueued event has been processed
func barrier(c *Coordinator) {
	c.Session(uuid.Nil)
}

// initiateCall runs a full initiate and returns the assigned call id
func initiateCall(t *testing.T, c *Coordinator, initiator *fakeConn, invitees ...uuid.UUID) uuid.UUID {
	t.Helper()
	dispatch(t, c, initiator, EventCallInitiate, InitiatePayload{
		ConversationID: uuid.New(),
		CallType:       domain.CallTypeVideo,
		InviteeIDs:     invitees,
	})
	barrier(c)

	ev, ok := initiator.last(EventCallInitiated)
	require.True(t, ok, "initiator should have received call:initiated")
	return ev.Data.(InitiatedData).CallID
}

// TestInitiateExceedsParticipantLimit covers all-or-nothing validation:
// 1 initiator + 5 invitees against a limit of 4 leaves no session behind.
func TestInitiateExceedsParticipantLimit(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxParticipants: 4, RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	c.Register(initiator)

	invitees := make([]uuid.UUID, 5)
	for i := range invitees {
		invitees[i] = uuid.New()
	}
	dispatch(t, c, initiator, EventCallInitiate, InitiatePayload{
		ConversationID: uuid.New(),
		CallType:       domain.CallTypeAudio,
		InviteeIDs:     invitees,
	})
	barrier(c)

	ev, ok := initiator.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMaxParticipants, ev.Data.(ErrorData).Code)
	assert.Equal(t, 0, initiator.count(EventCallInitiated))
	assert.Empty(t, c.sessions)
}

// TestInitiateLimitCountsInviteesAsSent: the limit is checked against the
// invite list before deduplication.
func TestInitiateLimitCountsInviteesAsSent(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxParticipants: 4, RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	c.Register(initiator)

	repeated := uuid.New()
	dispatch(t, c, initiator, EventCallInitiate, InitiatePayload{
		ConversationID: uuid.New(),
		CallType:       domain.CallTypeAudio,
		InviteeIDs:     []uuid.UUID{repeated, repeated, repeated, repeated},
	})
	barrier(c)

	ev, ok := initiator.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMaxParticipants, ev.Data.(ErrorData).Code)
	assert.Empty(t, c.sessions)
}

// TestInitiateNotifiesEveryDevice covers multi-device fan-out: an invitee
// with two connections rings on both.
func TestInitiateNotifiesEveryDevice(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bobID := uuid.New()
	bobPhone := newFakeConn(bobID, "bob")
	bobLaptop := newFakeConn(bobID, "bob")
	c.Register(initiator)
	c.Register(bobPhone)
	c.Register(bobLaptop)

	callID := initiateCall(t, c, initiator, bobID)

	require.Equal(t, 1, bobPhone.count(EventCallIncoming))
	require.Equal(t, 1, bobLaptop.count(EventCallIncoming))

	incoming, _ := bobPhone.last(EventCallIncoming)
	data := incoming.Data.(IncomingCallData)
	assert.Equal(t, callID, data.CallID)
	assert.Equal(t, initiator.UserID(), data.InitiatorID)
	assert.Equal(t, "alice", data.InitiatorName)
	assert.Equal(t, domain.CallTypeVideo, data.CallType)
}

// TestAcceptCancelsRingTimer covers the success path: accept within the
// timeout cancels the timer, moves the call to ongoing, and call:accepted
// reaches every room member including the initiator.
func TestAcceptCancelsRingTimer(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: 40 * time.Millisecond})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)

	sess := c.Session(callID)
	require.NotNil(t, sess)
	assert.Equal(t, domain.CallStatusOngoing, sess.Status)

	require.Equal(t, 1, initiator.count(EventCallAccepted))
	require.Equal(t, 1, bob.count(EventCallAccepted))

	// let the original ring deadline pass; the cancelled timer must not
	// produce a missed transition
	time.Sleep(80 * time.Millisecond)
	barrier(c)
	assert.Equal(t, 0, initiator.count(EventCallMissed))
	assert.Equal(t, 0, bob.count(EventCallMissed))
	assert.Equal(t, domain.CallStatusOngoing, c.Session(callID).Status)
}

// TestRingTimeoutMissed covers scenario 3: no action for the full window
// transitions the call to missed and removes the session.
func TestRingTimeoutMissed(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: 20 * time.Millisecond})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	require.Eventually(t, func() bool {
		return initiator.count(EventCallMissed) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, c.Session(callID))
	assert.False(t, c.rooms.Exists(callID))
}

// TestExpiredTimerLosesRaceToAccept covers the in-flight expiry race: an
// expiry event that was already queued when accept ran must never produce
// a missed notification after call:accepted went out.
func TestExpiredTimerLosesRaceToAccept(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	// simulate a timer that fired just before the accept was processed
	c.enqueue(evRingExpired{callID: callID})
	barrier(c)

	assert.Equal(t, 1, initiator.count(EventCallAccepted))
	assert.Equal(t, 0, initiator.count(EventCallMissed))
	assert.Equal(t, 0, bob.count(EventCallMissed))
	assert.Equal(t, domain.CallStatusOngoing, c.Session(callID).Status)
}

// TestRejectDeclinesCall checks the declined-on-first-reject transition and
// that a reject for an unknown call stays a silent no-op.
func TestRejectDeclinesCall(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	dispatch(t, c, bob, EventCallReject, RejectPayload{CallID: callID, Reason: "busy"})
	barrier(c)

	require.Equal(t, 1, initiator.count(EventCallRejected))
	rejected, _ := initiator.last(EventCallRejected)
	assert.Equal(t, "busy", rejected.Data.(RejectedData).Reason)
	assert.Nil(t, c.Session(callID))

	// reject racing the finished cleanup: no error, no extra broadcasts
	dispatch(t, c, bob, EventCallReject, RejectPayload{CallID: callID})
	barrier(c)
	assert.Equal(t, 1, initiator.count(EventCallRejected))
	assert.Equal(t, 0, bob.count(EventCallError))
}

// TestRejectAfterAcceptKeepsCallOngoing: once any invitee accepts, a late
// decline from another invitee must not tear down the established call.
func TestRejectAfterAcceptKeepsCallOngoing(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	carol := newFakeConn(uuid.New(), "carol")
	c.Register(initiator)
	c.Register(bob)
	c.Register(carol)

	callID := initiateCall(t, c, initiator, bob.UserID(), carol.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	dispatch(t, c, carol, EventCallReject, RejectPayload{CallID: callID, Reason: "busy"})
	barrier(c)

	sess := c.Session(callID)
	require.NotNil(t, sess, "call must survive a reject that lost the race to accept")
	assert.Equal(t, domain.CallStatusOngoing, sess.Status)
	assert.Equal(t, 0, initiator.count(EventCallRejected))
	assert.Equal(t, 0, bob.count(EventCallRejected))
	assert.Equal(t, 0, carol.count(EventCallError))
}

// TestEndReachesParticipantsOutsideRoom covers scenario 4: a participant
// who never joined the room still hears call:ended through personalized
// registry delivery, with a sane duration.
func TestEndReachesParticipantsOutsideRoom(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	carol := newFakeConn(uuid.New(), "carol")
	c.Register(initiator)
	c.Register(bob)
	c.Register(carol)

	callID := initiateCall(t, c, initiator, bob.UserID(), carol.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	dispatch(t, c, bob, EventCallEnd, EndPayload{CallID: callID})
	barrier(c)

	// carol never accepted, so she is not a room member, yet must learn
	// that the call is over
	require.GreaterOrEqual(t, carol.count(EventCallEnded), 1)
	require.GreaterOrEqual(t, initiator.count(EventCallEnded), 1)
	// the ending user is excluded from the personalized loop; anything bob
	// sees can only be the room safety-net broadcast
	assert.LessOrEqual(t, bob.count(EventCallEnded), 1)

	ended, _ := carol.last(EventCallEnded)
	data := ended.Data.(EndedData)
	assert.Equal(t, bob.UserID(), data.EndedBy)
	assert.GreaterOrEqual(t, data.Duration, 0.0)

	assert.Nil(t, c.Session(callID))
	assert.False(t, c.rooms.Exists(callID))
}

// TestCleanupIdempotent lets a stale ring expiry chase a completed End:
// no duplicate broadcasts, no error.
func TestCleanupIdempotent(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	dispatch(t, c, initiator, EventCallEnd, EndPayload{CallID: callID})
	c.enqueue(evRingExpired{callID: callID})
	dispatch(t, c, initiator, EventCallEnd, EndPayload{CallID: callID})
	barrier(c)

	assert.Equal(t, 0, bob.count(EventCallMissed))
	assert.LessOrEqual(t, bob.count(EventCallEnded), 2) // personalized + room safety net, once
	assert.Equal(t, 0, initiator.count(EventCallError))
	assert.Empty(t, c.sessions)
}

// TestRelayEchoFreedom checks that offers, answers and candidates go to the
// named peer's connections only and never echo back to the sender.
func TestRelayEchoFreedom(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bobID := uuid.New()
	bobPhone := newFakeConn(bobID, "bob")
	bobLaptop := newFakeConn(bobID, "bob")
	c.Register(initiator)
	c.Register(bobPhone)
	c.Register(bobLaptop)

	callID := initiateCall(t, c, initiator, bobID)

	dispatch(t, c, initiator, EventWebRTCOffer, SDPPayload{
		CallID: callID,
		To:     bobID,
		SDP:    "v=0 fake offer",
	})
	barrier(c)

	assert.Equal(t, 0, initiator.count(EventWebRTCOffer))
	require.Equal(t, 1, bobPhone.count(EventWebRTCOffer))
	require.Equal(t, 1, bobLaptop.count(EventWebRTCOffer))

	offer, _ := bobPhone.last(EventWebRTCOffer)
	relay := offer.Data.(RelayData)
	assert.Equal(t, initiator.UserID(), relay.From)
	assert.Equal(t, "v=0 fake offer", relay.SDP)

	// answer from one of bob's devices must not bounce back to it
	dispatch(t, c, bobPhone, EventWebRTCAnswer, SDPPayload{
		CallID: callID,
		To:     initiator.UserID(),
		SDP:    "v=0 fake answer",
	})
	barrier(c)
	assert.Equal(t, 1, initiator.count(EventWebRTCAnswer))
	assert.Equal(t, 0, bobPhone.count(EventWebRTCAnswer))

	dispatch(t, c, initiator, EventWebRTCICE, ICEPayload{
		CallID:    callID,
		To:        bobID,
		Candidate: json.RawMessage(`{"candidate":"candidate:0 1 UDP 1 192.0.2.1 5000 typ host"}`),
	})
	barrier(c)
	assert.Equal(t, 0, initiator.count(EventWebRTCICE))
	assert.Equal(t, 1, bobPhone.count(EventWebRTCICE))
	assert.Equal(t, 1, bobLaptop.count(EventWebRTCICE))
}

// TestICEAfterCleanupIsSilentlyDropped covers scenario 5: candidates for a
// cleaned-up call neither error nor crash.
func TestICEAfterCleanupIsSilentlyDropped(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	dispatch(t, c, bob, EventCallReject, RejectPayload{CallID: callID})
	barrier(c)
	require.Nil(t, c.Session(callID))

	dispatch(t, c, initiator, EventWebRTCICE, ICEPayload{
		CallID:    callID,
		To:        bob.UserID(),
		Candidate: json.RawMessage(`{"candidate":"candidate:0 1 UDP 1 192.0.2.1 5000 typ host"}`),
	})
	barrier(c)

	assert.Equal(t, 0, initiator.count(EventCallError))
	assert.Equal(t, 0, bob.count(EventWebRTCICE))
}

// TestOfferForUnknownCallErrorsToSenderOnly: offers are not best-effort,
// unlike ICE candidates.
func TestOfferForUnknownCallErrorsToSenderOnly(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	alice := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(alice)
	c.Register(bob)

	dispatch(t, c, alice, EventWebRTCOffer, SDPPayload{
		CallID: uuid.New(),
		To:     bob.UserID(),
		SDP:    "v=0",
	})
	barrier(c)

	ev, ok := alice.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotFound, ev.Data.(ErrorData).Code)
	assert.Equal(t, 0, bob.count(EventWebRTCOffer))
	assert.Equal(t, 0, bob.count(EventCallError))
}

// TestRelayRefusesNonParticipants: relays stay inside the call's participant
// list. An outsider who learned a live call id can neither inject into the
// call nor be named as a target, and is told nothing beyond CALL_NOT_FOUND.
func TestRelayRefusesNonParticipants(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	alice := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	dave := newFakeConn(uuid.New(), "dave")
	c.Register(alice)
	c.Register(bob)
	c.Register(dave)

	callID := initiateCall(t, c, alice, bob.UserID())

	// outsider injecting an offer into a live call
	dispatch(t, c, dave, EventWebRTCOffer, SDPPayload{
		CallID: callID,
		To:     bob.UserID(),
		SDP:    "v=0",
	})
	barrier(c)
	assert.Equal(t, 0, bob.count(EventWebRTCOffer))
	ev, ok := dave.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotFound, ev.Data.(ErrorData).Code)

	// participant naming an outsider as the target
	dispatch(t, c, alice, EventWebRTCOffer, SDPPayload{
		CallID: callID,
		To:     dave.UserID(),
		SDP:    "v=0",
	})
	barrier(c)
	assert.Equal(t, 0, dave.count(EventWebRTCOffer))
	ev, ok = alice.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotFound, ev.Data.(ErrorData).Code)

	// outsider candidates are dropped with the same silence as stale ones
	dispatch(t, c, dave, EventWebRTCICE, ICEPayload{
		CallID:    callID,
		To:        bob.UserID(),
		Candidate: json.RawMessage(`{"candidate":"candidate:0 1 UDP 1 192.0.2.1 5000 typ host"}`),
	})
	barrier(c)
	assert.Equal(t, 0, bob.count(EventWebRTCICE))
	assert.Equal(t, 1, dave.count(EventCallError))
}

// TestAcceptedBroadcastOnlyReachesRoomMembers exercises the room-vs-registry
// distinction: both of an invitee's devices ring, but only the device that
// accepted (plus the initiator) hears call:accepted.
func TestAcceptedBroadcastOnlyReachesRoomMembers(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bobID := uuid.New()
	bobPhone := newFakeConn(bobID, "bob")
	bobLaptop := newFakeConn(bobID, "bob")
	c.Register(initiator)
	c.Register(bobPhone)
	c.Register(bobLaptop)

	callID := initiateCall(t, c, initiator, bobID)
	require.Equal(t, 1, bobPhone.count(EventCallIncoming))
	require.Equal(t, 1, bobLaptop.count(EventCallIncoming))

	dispatch(t, c, bobPhone, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)

	assert.Equal(t, 1, initiator.count(EventCallAccepted))
	assert.Equal(t, 1, bobPhone.count(EventCallAccepted))
	assert.Equal(t, 0, bobLaptop.count(EventCallAccepted))
}

// TestAcceptUnknownCallErrors: accept requires prior state and reports back
// to the caller only.
func TestAcceptUnknownCallErrors(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	bob := newFakeConn(uuid.New(), "bob")
	c.Register(bob)

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: uuid.New()})
	barrier(c)

	ev, ok := bob.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotFound, ev.Data.(ErrorData).Code)
}

// TestAcceptTwiceRejectsSecond: terminal and non-ringing states admit no
// further accepts.
func TestAcceptTwiceRejectsSecond(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)

	require.Equal(t, 1, bob.count(EventCallAccepted))
	ev, ok := bob.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotRinging, ev.Data.(ErrorData).Code)
}

// TestToggleBroadcastsToOthersOnly: mute notifications are ephemeral and
// never echo to the sender; unknown calls are silent no-ops.
func TestToggleBroadcastsToOthersOnly(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})

	dispatch(t, c, bob, EventCallToggleAudio, TogglePayload{CallID: callID, Enabled: false})
	barrier(c)

	require.Equal(t, 1, initiator.count(EventPeerAudioToggled))
	assert.Equal(t, 0, bob.count(EventPeerAudioToggled))

	toggled, _ := initiator.last(EventPeerAudioToggled)
	data := toggled.Data.(PeerStateData)
	assert.Equal(t, bob.UserID(), data.UserID)
	assert.False(t, data.Enabled)

	dispatch(t, c, bob, EventCallToggleVideo, TogglePayload{CallID: uuid.New(), Enabled: true})
	barrier(c)
	assert.Equal(t, 0, bob.count(EventCallError))
}

// TestScreenShareNotifications: start/stop reach the rest of the room.
func TestScreenShareNotifications(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})

	dispatch(t, c, initiator, EventScreenShareStart, ScreenSharePayload{CallID: callID})
	dispatch(t, c, initiator, EventScreenShareStop, ScreenSharePayload{CallID: callID})
	barrier(c)

	assert.Equal(t, 1, bob.count(EventScreenSharingStart))
	assert.Equal(t, 1, bob.count(EventScreenSharingStop))
	assert.Equal(t, 0, initiator.count(EventScreenSharingStart))
	assert.Equal(t, 0, initiator.count(EventScreenSharingStop))
}

// TestDisconnectReapsOrphanedSession: the initiator's only connection drops
// mid-ring, the room empties, and the session must be reaped through full
// cleanup with the invitee told directly.
func TestDisconnectReapsOrphanedSession(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())

	c.Unregister(initiator)
	barrier(c)

	assert.Nil(t, c.Session(callID))
	assert.False(t, c.rooms.Exists(callID))
	assert.GreaterOrEqual(t, bob.count(EventCallEnded), 1)
}

// TestDisconnectOfOneDeviceKeepsCall: losing one connection of a user does
// not end a call that still has room members.
func TestDisconnectOfOneDeviceKeepsCall(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)

	c.Unregister(bob)
	barrier(c)

	sess := c.Session(callID)
	require.NotNil(t, sess)
	assert.Equal(t, domain.CallStatusOngoing, sess.Status)
	assert.Equal(t, 1, c.rooms.MemberCount(callID))
}

// TestStatusTransitionsStayOnSpecifiedEdges drives one call through
// initiate/accept/end and watches every observed status.
func TestStatusTransitionsStayOnSpecifiedEdges(t *testing.T) {
	c := newTestCoordinator(t, Config{RingTimeout: time.Minute})

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	require.Equal(t, domain.CallStatusRinging, c.Session(callID).Status)

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)
	require.Equal(t, domain.CallStatusOngoing, c.Session(callID).Status)

	dispatch(t, c, bob, EventCallEnd, EndPayload{CallID: callID})
	barrier(c)
	// terminal: the session is gone, nothing can transition it again
	require.Nil(t, c.Session(callID))

	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)
	ev, ok := bob.last(EventCallError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCallNotFound, ev.Data.(ErrorData).Code)
}

// TestCloseEndsInFlightCalls: shutdown drains through the normal cleanup
// path and notifies room members.
func TestCloseEndsInFlightCalls(t *testing.T) {
	c := NewCoordinator(Config{RingTimeout: time.Minute}, nil, nil)

	initiator := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")
	c.Register(initiator)
	c.Register(bob)

	callID := initiateCall(t, c, initiator, bob.UserID())
	dispatch(t, c, bob, EventCallAccept, AcceptPayload{CallID: callID})
	barrier(c)

	c.Close()

	assert.GreaterOrEqual(t, initiator.count(EventCallEnded), 1)
	assert.Empty(t, c.sessions)
}
