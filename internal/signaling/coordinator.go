package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"voxlink-backend/internal/domain"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
)

// PushNotifier delivers out-of-band notifications to devices that have no
// open connection. Implementations must be safe for concurrent use; the
// coordinator invokes them from short-lived goroutines, never from its
// event loop.
type PushNotifier interface {
	CallIncoming(ctx context.Context, sess *domain.CallSession, calleeIDs []uuid.UUID)
	CallMissed(ctx context.Context, sess *domain.CallSession, calleeIDs []uuid.UUID)
}

// Config carries the tunables of the coordinator
type Config struct {
	// MaxParticipants bounds initiator + invitees per call
	MaxParticipants int
	// RingTimeout is how long a call may stay ringing before it is
	// auto-transitioned to missed
	RingTimeout time.Duration
	// ICEServers is the STUN/TURN list handed to clients
	ICEServers []webrtc.ICEServer
}

// DefaultConfig returns the reference tunables
func DefaultConfig() Config {
	return Config{
		MaxParticipants: 8,
		RingTimeout:     30 * time.Second,
	}
}

// callState pairs a session with its ring timer while one is armed
type callState struct {
	session   *domain.CallSession
	ringTimer *time.Timer
}

// Coordinator is the call state machine and message router. It exclusively
// owns the session store, the room service and the connection registry.
//
// All mutation happens on a single event loop goroutine: inbound signaling,
// connection register/unregister and ring-timer expiry are all delivered as
// events on one channel and processed to completion one at a time. The ring
// timer never touches state directly; its AfterFunc only enqueues an expiry
// event, and the expiry handler re-reads the current session status.
type Coordinator struct {
	cfg      Config
	registry *Registry
	rooms    *RoomService
	sessions map[uuid.UUID]*callState

	metrics *metrics.Metrics
	push    PushNotifier

	events chan coordEvent
	done   chan struct{}
	closed chan struct{}
}

type coordEvent interface{ coordEvent() }

type evRegister struct{ conn Conn }
type evUnregister struct{ conn Conn }
type evSignal struct {
	conn Conn
	env  Envelope
}
type evRingExpired struct{ callID uuid.UUID }
type evSnapshot struct {
	callID uuid.UUID
	reply  chan *domain.CallSession
}
type evShutdown struct{}

func (evRegister) coordEvent()    {}
func (evUnregister) coordEvent()  {}
func (evSignal) coordEvent()      {}
func (evRingExpired) coordEvent() {}
func (evSnapshot) coordEvent()    {}
func (evShutdown) coordEvent()    {}

// NewCoordinator creates a coordinator and starts its event loop. Both m
// and push may be nil (no metrics / no push delivery).
func NewCoordinator(cfg Config, m *metrics.Metrics, push PushNotifier) *Coordinator {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = DefaultConfig().MaxParticipants
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultConfig().RingTimeout
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: NewRegistry(),
		rooms:    NewRoomService(),
		sessions: make(map[uuid.UUID]*callState),
		metrics:  m,
		push:     push,
		events:   make(chan coordEvent, 256),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}

	go c.run()

	return c
}

// ICEServers returns the configured STUN/TURN list
func (c *Coordinator) ICEServers() []webrtc.ICEServer {
	return c.cfg.ICEServers
}

// Register adds a connection to the registry
func (c *Coordinator) Register(conn Conn) {
	c.enqueue(evRegister{conn: conn})
}

// Unregister removes a connection from the registry and every room it
// joined. A room emptied by the removal has its orphaned session reaped
// through the normal cleanup path.
func (c *Coordinator) Unregister(conn Conn) {
	c.enqueue(evUnregister{conn: conn})
}

// HandleEvent feeds one inbound signaling envelope from conn into the
// event loop. It never blocks on processing and reports no error: every
// failure is resolved inside the loop as either a call:error event to the
// sender or a logged no-op.
func (c *Coordinator) HandleEvent(conn Conn, env Envelope) {
	c.enqueue(evSignal{conn: conn, env: env})
}

// Session returns a copy of the in-flight session for callID, or nil if no
// such call exists (never created, or already cleaned up).
func (c *Coordinator) Session(callID uuid.UUID) *domain.CallSession {
	reply := make(chan *domain.CallSession, 1)
	c.enqueue(evSnapshot{callID: callID, reply: reply})
	select {
	case sess := <-reply:
		return sess
	case <-c.closed:
		return nil
	}
}

// Close stops the event loop after ending every in-flight call through the
// normal cleanup path. Safe to call once.
func (c *Coordinator) Close() {
	close(c.done)
	<-c.closed
}

func (c *Coordinator) enqueue(ev coordEvent) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *Coordinator) run() {
	defer close(c.closed)

	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev coordEvent) {
	switch ev := ev.(type) {
	case evRegister:
		c.registry.Add(ev.conn)
	case evUnregister:
		c.handleDisconnect(ev.conn)
	case evSignal:
		c.handleSignal(ev.conn, ev.env)
	case evRingExpired:
		c.handleRingExpired(ev.callID)
	case evSnapshot:
		if st, ok := c.sessions[ev.callID]; ok {
			snap := *st.session
			ev.reply <- &snap
		} else {
			ev.reply <- nil
		}
	}
}

func (c *Coordinator) handleSignal(conn Conn, env Envelope) {
	if c.metrics != nil {
		c.metrics.RecordEvent(env.Event, "in")
	}

	switch env.Event {
	case EventCallInitiate:
		c.handleInitiate(conn, env.Data)
	case EventCallAccept:
		c.handleAccept(conn, env.Data)
	case EventCallReject:
		c.handleReject(conn, env.Data)
	case EventCallEnd:
		c.handleEnd(conn, env.Data)
	case EventWebRTCOffer:
		c.handleSDPRelay(conn, env.Data, EventWebRTCOffer)
	case EventWebRTCAnswer:
		c.handleSDPRelay(conn, env.Data, EventWebRTCAnswer)
	case EventWebRTCICE:
		c.handleICERelay(conn, env.Data)
	case EventCallToggleAudio:
		c.handleToggle(conn, env.Data, EventPeerAudioToggled)
	case EventCallToggleVideo:
		c.handleToggle(conn, env.Data, EventPeerVideoToggled)
	case EventScreenShareStart:
		c.handleScreenShare(conn, env.Data, EventScreenSharingStart)
	case EventScreenShareStop:
		c.handleScreenShare(conn, env.Data, EventScreenSharingStop)
	default:
		logger.Debug("Unknown signaling event ignored",
			zap.String("event", env.Event),
			zap.String("user_id", conn.UserID().String()))
	}
}

// handleInitiate creates a session, notifies every device of every invitee
// and arms the ring timer. Initiation is all-or-nothing: any failure leaves
// no session behind.
func (c *Coordinator) handleInitiate(conn Conn, data json.RawMessage) {
	var p InitiatePayload
	if err := json.Unmarshal(data, &p); err != nil || !p.CallType.Valid() {
		c.sendError(conn, uuid.Nil, ErrCodeInvalidPayload, "malformed call:initiate payload")
		return
	}

	initiatorID := conn.UserID()

	// The limit applies to the invite list as sent, before deduplication:
	// a request naming too many invitees is rejected even if some repeat.
	if 1+len(p.InviteeIDs) > c.cfg.MaxParticipants {
		c.sendError(conn, uuid.Nil, ErrCodeMaxParticipants, "participant limit exceeded")
		return
	}

	// participants = initiator + invitees, deduplicated, fixed for the
	// lifetime of the call
	participants := []uuid.UUID{initiatorID}
	seen := map[uuid.UUID]bool{initiatorID: true}
	for _, id := range p.InviteeIDs {
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	callID := uuid.New()
	now := time.Now()
	sess := &domain.CallSession{
		CallID:         callID,
		ConversationID: p.ConversationID,
		CallType:       p.CallType,
		InitiatorID:    initiatorID,
		InitiatorName:  conn.DisplayName(),
		Participants:   participants,
		Status:         domain.CallStatusRinging,
		StartedAt:      now,
	}

	if err := c.rooms.Create(callID, participants); err != nil {
		logger.Error("Room creation failed",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		c.sendError(conn, callID, ErrCodeCallSetupFailed, "failed to set up call")
		return
	}

	st := &callState{session: sess}
	c.sessions[callID] = st

	if err := c.rooms.Join(callID, conn); err != nil {
		// no partial state: undo everything before reporting
		delete(c.sessions, callID)
		c.rooms.Delete(callID)
		c.sendError(conn, callID, ErrCodeCallSetupFailed, "failed to set up call")
		return
	}

	st.ringTimer = time.AfterFunc(c.cfg.RingTimeout, func() {
		c.enqueue(evRingExpired{callID: callID})
	})

	if c.metrics != nil {
		c.metrics.CallStarted(string(sess.CallType))
	}

	c.send(conn, Event{Event: EventCallInitiated, Data: InitiatedData{
		CallID:       callID,
		Participants: participants,
	}})

	incoming := Event{Event: EventCallIncoming, Data: IncomingCallData{
		CallID:         callID,
		ConversationID: sess.ConversationID,
		CallType:       sess.CallType,
		InitiatorID:    initiatorID,
		InitiatorName:  sess.InitiatorName,
		ICEServers:     c.cfg.ICEServers,
	}}

	var offline []uuid.UUID
	for _, inviteeID := range participants[1:] {
		if c.registry.SendToUser(inviteeID, nil, incoming) == 0 {
			offline = append(offline, inviteeID)
		}
	}

	if c.push != nil && len(offline) > 0 {
		sessCopy := *sess
		go c.push.CallIncoming(context.Background(), &sessCopy, offline)
	}

	logger.Info("Call initiated",
		zap.String("call_id", callID.String()),
		zap.String("initiator_id", initiatorID.String()),
		zap.String("call_type", string(sess.CallType)),
		zap.Int("invitees", len(participants)-1))
}

func (c *Coordinator) handleAccept(conn Conn, data json.RawMessage) {
	var p AcceptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(conn, uuid.Nil, ErrCodeInvalidPayload, "malformed call:accept payload")
		return
	}

	st, ok := c.sessions[p.CallID]
	if !ok {
		c.sendError(conn, p.CallID, ErrCodeCallNotFound, "no such call")
		return
	}
	if st.session.Status != domain.CallStatusRinging {
		c.sendError(conn, p.CallID, ErrCodeCallNotRinging, "call is not ringing")
		return
	}
	if err := c.rooms.Join(p.CallID, conn); err != nil {
		c.sendError(conn, p.CallID, ErrCodeCallNotFound, "not a participant of this call")
		return
	}

	// Cancel before any broadcast so an in-flight expiry can never race a
	// missed notification past the acceptance.
	c.stopRingTimer(st)
	st.session.Status = domain.CallStatusOngoing

	c.broadcast(p.CallID, nil, Event{Event: EventCallAccepted, Data: AcceptedData{
		CallID:     p.CallID,
		UserID:     conn.UserID(),
		ICEServers: c.cfg.ICEServers,
	}})

	logger.Info("Call accepted",
		zap.String("call_id", p.CallID.String()),
		zap.String("user_id", conn.UserID().String()))
}

// handleReject is an idempotent no-op for unknown calls: a reject racing a
// cleanup is expected. Only a ringing call can be declined; a reject that
// arrives after an accept must not tear down the ongoing call.
func (c *Coordinator) handleReject(conn Conn, data json.RawMessage) {
	var p RejectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	st, ok := c.sessions[p.CallID]
	if !ok || st.session.Status != domain.CallStatusRinging {
		return
	}

	c.stopRingTimer(st)
	now := time.Now()
	st.session.Status = domain.CallStatusDeclined
	st.session.EndedAt = &now

	c.broadcast(p.CallID, nil, Event{Event: EventCallRejected, Data: RejectedData{
		CallID: p.CallID,
		UserID: conn.UserID(),
		Reason: p.Reason,
	}})

	logger.Info("Call rejected",
		zap.String("call_id", p.CallID.String()),
		zap.String("user_id", conn.UserID().String()))

	c.cleanup(p.CallID)
}

func (c *Coordinator) handleEnd(conn Conn, data json.RawMessage) {
	var p EndPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	st, ok := c.sessions[p.CallID]
	if !ok {
		// ending an already-ended call is expected under races
		logger.Debug("End for unknown call ignored",
			zap.String("call_id", p.CallID.String()),
			zap.String("user_id", conn.UserID().String()))
		return
	}

	c.stopRingTimer(st)
	now := time.Now()
	st.session.Status = domain.CallStatusEnded
	st.session.EndedAt = &now

	ended := Event{Event: EventCallEnded, Data: EndedData{
		CallID:   p.CallID,
		EndedBy:  conn.UserID(),
		Duration: st.session.Duration().Seconds(),
	}}

	// Personalized delivery through the registry reaches participants who
	// never joined the room (still ringing on another device). The ending
	// user already knows locally and is skipped here, but stays covered by
	// the room broadcast below.
	for _, participantID := range st.session.Participants {
		if participantID == conn.UserID() {
			continue
		}
		c.registry.SendToUser(participantID, nil, ended)
	}
	c.broadcast(p.CallID, nil, ended)

	logger.Info("Call ended",
		zap.String("call_id", p.CallID.String()),
		zap.String("ended_by", conn.UserID().String()),
		zap.Duration("duration", st.session.Duration()))

	c.cleanup(p.CallID)
}

// handleSDPRelay forwards an offer or answer verbatim to every connection
// of the named peer, never back to the sender, never broadcast. No session
// state changes. Both ends must be participants of the call; to anyone
// else the call does not exist.
func (c *Coordinator) handleSDPRelay(conn Conn, data json.RawMessage, event string) {
	var p SDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(conn, uuid.Nil, ErrCodeInvalidPayload, "malformed "+event+" payload")
		return
	}

	st, ok := c.sessions[p.CallID]
	if !ok || !st.session.HasParticipant(conn.UserID()) || !st.session.HasParticipant(p.To) {
		c.sendError(conn, p.CallID, ErrCodeCallNotFound, "no such call")
		return
	}

	c.registry.SendToUser(p.To, conn, Event{Event: event, Data: RelayData{
		CallID:    p.CallID,
		From:      conn.UserID(),
		SDP:       p.SDP,
		Timestamp: time.Now(),
	}})
}

// handleICERelay drops candidates for unknown calls silently: candidates
// legitimately trail a call that already ended. Candidates from or to a
// non-participant are dropped the same way.
func (c *Coordinator) handleICERelay(conn Conn, data json.RawMessage) {
	var p ICEPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	st, ok := c.sessions[p.CallID]
	if !ok || !st.session.HasParticipant(conn.UserID()) || !st.session.HasParticipant(p.To) {
		return
	}

	c.registry.SendToUser(p.To, conn, Event{Event: EventWebRTCICE, Data: RelayData{
		CallID:    p.CallID,
		From:      conn.UserID(),
		Candidate: p.Candidate,
		Timestamp: time.Now(),
	}})
}

// handleToggle broadcasts an ephemeral mute/camera notification to the rest
// of the room. Silent no-op without a session.
func (c *Coordinator) handleToggle(conn Conn, data json.RawMessage, event string) {
	var p TogglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if _, ok := c.sessions[p.CallID]; !ok {
		return
	}

	c.broadcast(p.CallID, conn, Event{Event: event, Data: PeerStateData{
		CallID:  p.CallID,
		UserID:  conn.UserID(),
		Enabled: p.Enabled,
	}})
}

func (c *Coordinator) handleScreenShare(conn Conn, data json.RawMessage, event string) {
	var p ScreenSharePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if _, ok := c.sessions[p.CallID]; !ok {
		return
	}

	c.broadcast(p.CallID, conn, Event{Event: event, Data: PeerStateData{
		CallID: p.CallID,
		UserID: conn.UserID(),
	}})
}

// handleRingExpired fires at most once per call. The status guard makes it
// a no-op when the timer lost the race against accept/reject/end.
func (c *Coordinator) handleRingExpired(callID uuid.UUID) {
	st, ok := c.sessions[callID]
	if !ok || st.session.Status != domain.CallStatusRinging {
		return
	}

	now := time.Now()
	st.session.Status = domain.CallStatusMissed
	st.session.EndedAt = &now

	c.broadcast(callID, nil, Event{Event: EventCallMissed, Data: MissedData{
		CallID: callID,
	}})

	if c.push != nil && len(st.session.Participants) > 1 {
		sessCopy := *st.session
		invitees := st.session.Participants[1:]
		go c.push.CallMissed(context.Background(), &sessCopy, invitees)
	}

	logger.Info("Call missed on ring timeout",
		zap.String("call_id", callID.String()))

	c.cleanup(callID)
}

// handleDisconnect prunes the connection out of the registry and every
// room. A call whose room is emptied by the disconnect has nobody left to
// signal on it, so its session is reaped with full cleanup; participants
// who never joined the room are told directly.
func (c *Coordinator) handleDisconnect(conn Conn) {
	c.registry.Remove(conn)

	for _, callID := range c.rooms.LeaveAll(conn) {
		st, ok := c.sessions[callID]
		if !ok {
			continue
		}

		now := time.Now()
		st.session.Status = domain.CallStatusEnded
		st.session.EndedAt = &now

		ended := Event{Event: EventCallEnded, Data: EndedData{
			CallID:   callID,
			EndedBy:  conn.UserID(),
			Duration: st.session.Duration().Seconds(),
		}}
		for _, participantID := range st.session.Participants {
			if participantID == conn.UserID() {
				continue
			}
			c.registry.SendToUser(participantID, nil, ended)
		}

		logger.Info("Orphaned call reaped after disconnect",
			zap.String("call_id", callID.String()),
			zap.String("user_id", conn.UserID().String()))

		c.cleanup(callID)
	}
}

// cleanup removes every trace of the call. Each step checks existence
// before acting, so invoking it twice is harmless.
func (c *Coordinator) cleanup(callID uuid.UUID) {
	st, ok := c.sessions[callID]
	if ok {
		c.stopRingTimer(st)
		delete(c.sessions, callID)
		if c.metrics != nil {
			c.metrics.CallFinished(string(st.session.CallType), st.session.Duration())
		}
	}
	c.rooms.Delete(callID)
}

func (c *Coordinator) stopRingTimer(st *callState) {
	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}
}

func (c *Coordinator) shutdown() {
	for callID, st := range c.sessions {
		c.stopRingTimer(st)
		now := time.Now()
		st.session.Status = domain.CallStatusEnded
		st.session.EndedAt = &now

		c.broadcast(callID, nil, Event{Event: EventCallEnded, Data: EndedData{
			CallID:   callID,
			EndedBy:  st.session.InitiatorID,
			Duration: st.session.Duration().Seconds(),
		}})
		c.cleanup(callID)
	}
}

// Outbound delivery counting happens at the transport, where frames
// actually hit the wire.
func (c *Coordinator) send(conn Conn, ev Event) {
	conn.Send(ev)
}

func (c *Coordinator) broadcast(callID uuid.UUID, exclude Conn, ev Event) {
	c.rooms.Broadcast(callID, exclude, ev)
}

func (c *Coordinator) sendError(conn Conn, callID uuid.UUID, code, message string) {
	c.send(conn, Event{Event: EventCallError, Data: ErrorData{
		Code:    code,
		Message: message,
		CallID:  callID,
	}})
	if c.metrics != nil {
		c.metrics.RecordSignalingError(code)
	}
	logger.Debug("Signaling error emitted",
		zap.String("code", code),
		zap.String("user_id", conn.UserID().String()),
		zap.String("call_id", callID.String()))
}
