package signaling

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCreateRejectsDuplicate(t *testing.T) {
	s := NewRoomService()
	callID := uuid.New()

	require.NoError(t, s.Create(callID, []uuid.UUID{uuid.New()}))
	assert.Error(t, s.Create(callID, []uuid.UUID{uuid.New()}))
	assert.True(t, s.Exists(callID))
}

func TestRoomJoinRefusesOutsiders(t *testing.T) {
	s := NewRoomService()
	callID := uuid.New()
	alice := newFakeConn(uuid.New(), "alice")

	require.NoError(t, s.Create(callID, []uuid.UUID{alice.UserID()}))
	require.NoError(t, s.Join(callID, alice))

	intruder := newFakeConn(uuid.New(), "mallory")
	assert.Error(t, s.Join(callID, intruder))
	assert.Equal(t, 1, s.MemberCount(callID))
}

func TestRoomJoinUnknownRoom(t *testing.T) {
	s := NewRoomService()

	err := s.Join(uuid.New(), newFakeConn(uuid.New(), "alice"))
	assert.Error(t, err)
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	s := NewRoomService()
	callID := uuid.New()
	alice := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")

	require.NoError(t, s.Create(callID, []uuid.UUID{alice.UserID(), bob.UserID()}))
	require.NoError(t, s.Join(callID, alice))
	require.NoError(t, s.Join(callID, bob))

	sent := s.Broadcast(callID, alice, Event{Event: EventPeerAudioToggled})
	require.Equal(t, 1, sent)
	assert.Equal(t, 0, alice.count(EventPeerAudioToggled))
	assert.Equal(t, 1, bob.count(EventPeerAudioToggled))
}

func TestRoomLeaveReportsEmpty(t *testing.T) {
	s := NewRoomService()
	callID := uuid.New()
	alice := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")

	require.NoError(t, s.Create(callID, []uuid.UUID{alice.UserID(), bob.UserID()}))
	require.NoError(t, s.Join(callID, alice))
	require.NoError(t, s.Join(callID, bob))

	assert.False(t, s.Leave(callID, alice))
	assert.True(t, s.Leave(callID, bob))
}

func TestRoomLeaveAllReturnsEmptiedRooms(t *testing.T) {
	s := NewRoomService()
	alice := newFakeConn(uuid.New(), "alice")
	bob := newFakeConn(uuid.New(), "bob")

	shared := uuid.New()
	solo := uuid.New()
	require.NoError(t, s.Create(shared, []uuid.UUID{alice.UserID(), bob.UserID()}))
	require.NoError(t, s.Create(solo, []uuid.UUID{alice.UserID()}))
	require.NoError(t, s.Join(shared, alice))
	require.NoError(t, s.Join(shared, bob))
	require.NoError(t, s.Join(solo, alice))

	emptied := s.LeaveAll(alice)
	require.Len(t, emptied, 1)
	assert.Equal(t, solo, emptied[0])
	assert.Equal(t, 1, s.MemberCount(shared))
}

func TestRoomDeleteIsIdempotent(t *testing.T) {
	s := NewRoomService()
	callID := uuid.New()
	alice := newFakeConn(uuid.New(), "alice")

	require.NoError(t, s.Create(callID, []uuid.UUID{alice.UserID()}))
	require.NoError(t, s.Join(callID, alice))

	s.Delete(callID)
	s.Delete(callID)

	assert.False(t, s.Exists(callID))
	assert.Equal(t, 0, s.MemberCount(callID))
	assert.Equal(t, 0, s.Broadcast(callID, nil, Event{Event: EventCallEnded}))
}
