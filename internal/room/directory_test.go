package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_EmptyRoomIsRemoved(t *testing.T) {
	f := newFixture()
	a, b := f.connect("A"), f.connect("B")
	f.join(t, "r", a, false)
	f.join(t, "r", b, false)
	assert.Equal(t, 1, f.directory.Count())

	f.disconnect(a)
	_, ok := f.directory.Get("r")
	assert.True(t, ok)

	f.disconnect(b)
	_, ok = f.directory.Get("r")
	assert.False(t, ok)
	assert.Equal(t, 0, f.directory.Count())
}

func TestDirectory_DisconnectedPeerAbsentFromLaterSnapshots(t *testing.T) {
	f := newFixture()
	a, b := f.connect("A"), f.connect("B")
	r, _ := f.join(t, "r", a, false)
	f.join(t, "r", b, false)

	f.disconnect(b)

	c := f.connect("C")
	f.join(t, "r", c, false)
	assert.Equal(t, []interface{}{"A"}, c.ofType(t, "all-users")[0]["users"])
	assert.Equal(t, 2, r.Info().Participants)
	assert.False(t, r.IsMember("B"))
}

func TestDirectory_JoinRetriesClosedRoom(t *testing.T) {
	f := newFixture()
	a := f.connect("A")
	stale, _ := f.join(t, "r", a, false)

	// Close the room but leave it mapped, as if a join grabbed it just
	// before the last member left.
	_, ok := stale.leave("A")
	require.True(t, ok)
	f.directory.mu.Lock()
	f.directory.rooms["r"] = stale
	f.directory.mu.Unlock()

	b := f.connect("B")
	fresh, res := f.join(t, "r", b, false)

	assert.NotSame(t, stale, fresh)
	assert.Equal(t, 1, res.Count)
	got, ok := f.directory.Get("r")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestDirectory_LeaveUnknown(t *testing.T) {
	f := newFixture()

	_, ok := f.directory.Leave("nope", "A")
	assert.False(t, ok)

	a := f.connect("A")
	f.join(t, "r", a, false)
	_, ok = f.directory.Leave("r", "B")
	assert.False(t, ok)
}

func TestDirectory_IDs(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"b", "a", "c"} {
		f.join(t, id, f.connect("conn-"+id), false)
	}
	assert.Equal(t, []string{"a", "b", "c"}, f.directory.IDs())
}
