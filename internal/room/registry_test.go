package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	p := newPeer("A")

	conn := reg.Register(p)
	assert.Equal(t, "A", conn.ID)
	assert.False(t, conn.InRoom())
	assert.Equal(t, 1, reg.Count())

	_, ok := reg.RoomOf("A")
	assert.False(t, ok)

	reg.SetUsername("A", "alice")
	reg.SetRoom("A", "r1", true)

	roomID, ok := reg.RoomOf("A")
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)

	conn, peer, ok := reg.Lookup("A")
	require.True(t, ok)
	assert.Same(t, p, peer)
	assert.Equal(t, "alice", conn.Username)
	assert.True(t, conn.IsHost)

	roomID, ok = reg.Unregister("A")
	assert.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_UnknownConnectionIsNoop(t *testing.T) {
	reg := NewRegistry()

	reg.SetRoom("ghost", "r1", true)
	reg.ClearRoom("ghost", "r1")
	reg.SetUsername("ghost", "x")

	_, ok := reg.RoomOf("ghost")
	assert.False(t, ok)
	_, _, ok = reg.Lookup("ghost")
	assert.False(t, ok)
	_, ok = reg.Unregister("ghost")
	assert.False(t, ok)
}

func TestRegistry_ClearRoomOnlyForMatchingRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newPeer("A"))
	reg.SetRoom("A", "r2", false)

	reg.ClearRoom("A", "r1")

	roomID, ok := reg.RoomOf("A")
	require.True(t, ok)
	assert.Equal(t, "r2", roomID)
}

func TestRegistry_UnregisterOutsideRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newPeer("A"))

	roomID, ok := reg.Unregister("A")
	assert.False(t, ok)
	assert.Empty(t, roomID)
}
