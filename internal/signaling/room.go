package signaling

import (
	"fmt"

	"github.com/google/uuid"
)

// room is the fan-out group for one call: the connections that actively
// engaged (initiator immediately, invitees on accept). Membership is always
// a subset of the online connections of the call's participants.
type room struct {
	callID       uuid.UUID
	participants map[uuid.UUID]bool
	members      map[string]Conn
}

// RoomService owns the callID -> room map. Like the Registry it is only
// touched from the coordinator's event loop.
type RoomService struct {
	rooms map[uuid.UUID]*room
}

// NewRoomService creates an empty room service
func NewRoomService() *RoomService {
	return &RoomService{
		rooms: make(map[uuid.UUID]*room),
	}
}

// Create records a room for the call with its intended participants. The
// participants are fixed for the room's lifetime; connections join later as
// they engage.
func (s *RoomService) Create(callID uuid.UUID, participantIDs []uuid.UUID) error {
	if _, exists := s.rooms[callID]; exists {
		return fmt.Errorf("room %s already exists", callID)
	}
	participants := make(map[uuid.UUID]bool, len(participantIDs))
	for _, id := range participantIDs {
		participants[id] = true
	}
	s.rooms[callID] = &room{
		callID:       callID,
		participants: participants,
		members:      make(map[string]Conn),
	}
	return nil
}

// Delete dissolves the room, forcing every remaining member out. Safe to
// call for an already-deleted room.
func (s *RoomService) Delete(callID uuid.UUID) {
	delete(s.rooms, callID)
}

// Join adds a connection to the room's fan-out group. Connections of users
// outside the intended participant set are refused.
func (s *RoomService) Join(callID uuid.UUID, conn Conn) error {
	rm, ok := s.rooms[callID]
	if !ok {
		return fmt.Errorf("room %s not found", callID)
	}
	if !rm.participants[conn.UserID()] {
		return fmt.Errorf("user %s is not a participant of call %s", conn.UserID(), callID)
	}
	rm.members[conn.ID()] = conn
	return nil
}

// Leave removes a connection from the room. Returns true when the room is
// left with no members at all.
func (s *RoomService) Leave(callID uuid.UUID, conn Conn) (empty bool) {
	rm, ok := s.rooms[callID]
	if !ok {
		return false
	}
	delete(rm.members, conn.ID())
	return len(rm.members) == 0
}

// LeaveAll removes the connection from every room it is a member of and
// returns the ids of rooms that became empty as a result.
func (s *RoomService) LeaveAll(conn Conn) []uuid.UUID {
	var emptied []uuid.UUID
	for callID, rm := range s.rooms {
		if _, ok := rm.members[conn.ID()]; !ok {
			continue
		}
		delete(rm.members, conn.ID())
		if len(rm.members) == 0 {
			emptied = append(emptied, callID)
		}
	}
	return emptied
}

// Broadcast delivers an event to every member of the room, skipping exclude
// when non-nil.
func (s *RoomService) Broadcast(callID uuid.UUID, exclude Conn, ev Event) int {
	rm, ok := s.rooms[callID]
	if !ok {
		return 0
	}
	sent := 0
	for _, c := range rm.members {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		c.Send(ev)
		sent++
	}
	return sent
}

// MemberCount returns the number of connections currently in the room
func (s *RoomService) MemberCount(callID uuid.UUID) int {
	rm, ok := s.rooms[callID]
	if !ok {
		return 0
	}
	return len(rm.members)
}

// Exists reports whether the room is still live
func (s *RoomService) Exists(callID uuid.UUID) bool {
	_, ok := s.rooms[callID]
	return ok
}
