package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/groupwatch/internal/config"
	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/room"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return true
}

func (c *fakeConn) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.Deliver(data)
	return nil
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) ofType(t *testing.T, msgType string) []map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]interface{}
	for _, f := range c.frames {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(f, &m))
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) errorCodes(t *testing.T) []string {
	t.Helper()
	var codes []string
	for _, m := range c.ofType(t, domain.MsgTypeError) {
		codes = append(codes, m["code"].(string))
	}
	return codes
}

type fakeSubscriber struct {
	events  chan *pubsub.Event
	pattern string
	err     error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	return f.events, f.err
}

func (f *fakeSubscriber) SubscribePattern(ctx context.Context, pattern string) (<-chan *pubsub.Event, error) {
	f.pattern = pattern
	return f.events, f.err
}

func (f *fakeSubscriber) Unsubscribe(ctx context.Context, channel string) error { return nil }

type fixture struct {
	svc       WatchService
	registry  *room.Registry
	directory *room.Directory
}

var testLimits = config.RoomConfig{
	MaxRoomIDLength:   16,
	MaxUsernameLength: 8,
	MaxMessageLength:  10,
}

func newFixture(sub pubsub.Subscriber) *fixture {
	reg := room.NewRegistry()
	dir := room.NewDirectory(reg)
	return &fixture{
		svc:       NewWatchService(reg, dir, sub, testLimits),
		registry:  reg,
		directory: dir,
	}
}

func (f *fixture) connect(t *testing.T, id string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	require.NoError(t, f.svc.HandleConnect(context.Background(), c))
	return c
}

func (f *fixture) join(t *testing.T, c *fakeConn, roomID string, host bool) {
	t.Helper()
	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, domain.JoinRoomMessage{
		Type:     domain.MsgTypeJoinRoom,
		RoomID:   roomID,
		Username: c.id,
		IsHost:   host,
	}))
}

func TestHandleConnect_SendsWelcome(t *testing.T) {
	f := newFixture(nil)
	c := f.connect(t, "A")

	welcome := c.ofType(t, domain.MsgTypeWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, "A", welcome[0]["connectionId"])
	assert.Equal(t, 1, f.registry.Count())
}

func TestHandleJoinRoom_Validation(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.JoinRoomMessage
	}{
		{name: "missing room id", msg: domain.JoinRoomMessage{}},
		{name: "blank room id", msg: domain.JoinRoomMessage{RoomID: "   "}},
		{name: "room id too long", msg: domain.JoinRoomMessage{RoomID: strings.Repeat("r", 17)}},
		{name: "username too long", msg: domain.JoinRoomMessage{RoomID: "r1", Username: "abcdefghi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			c := f.connect(t, "A")

			require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, tt.msg))

			assert.Equal(t, []string{domain.ErrCodeBadRequest}, c.errorCodes(t))
			assert.Equal(t, domain.MsgTypeJoinRoom, c.ofType(t, domain.MsgTypeError)[0]["requestType"])
			assert.Equal(t, 0, f.directory.Count())
			_, ok := f.registry.RoomOf("A")
			assert.False(t, ok)
		})
	}
}

func TestHandleJoinRoom_SwitchingRoomsLeavesFirst(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", false)
	b.reset()

	f.join(t, a, "r2", false)

	left := b.ofType(t, domain.MsgTypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0]["userId"])

	changed := b.ofType(t, domain.MsgTypeHostChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "B", changed[0]["hostId"])

	roomID, ok := f.registry.RoomOf("A")
	require.True(t, ok)
	assert.Equal(t, "r2", roomID)

	r1, ok := f.directory.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, r1.Info().Members)
}

func TestHandleJoinRoom_HostTaken(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", true)

	ack := b.ofType(t, domain.MsgTypeRoomJoined)
	require.Len(t, ack, 1)
	assert.Equal(t, false, ack[0]["isHost"])
	assert.Equal(t, "A", ack[0]["hostId"])
	assert.Equal(t, []string{domain.ErrCodeHostTaken}, b.errorCodes(t))
}

func TestHandlePlayback_Rejections(t *testing.T) {
	f := newFixture(nil)
	a, b, outsider := f.connect(t, "A"), f.connect(t, "B"), f.connect(t, "X")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", false)
	ctx := context.Background()

	require.NoError(t, f.svc.HandlePlayback(ctx, outsider, domain.PlaybackMessage{Type: domain.MsgTypePlay, CurrentTime: 1}))
	assert.Equal(t, []string{domain.ErrCodeNotInRoom}, outsider.errorCodes(t))

	a.reset()
	require.NoError(t, f.svc.HandlePlayback(ctx, b, domain.PlaybackMessage{Type: domain.MsgTypePause, CurrentTime: 1}))
	assert.Equal(t, []string{domain.ErrCodeForbidden}, b.errorCodes(t))
	assert.Equal(t, 0, a.count())

	require.NoError(t, f.svc.HandlePlayback(ctx, a, domain.PlaybackMessage{Type: domain.MsgTypeSeek, CurrentTime: -3}))
	assert.Equal(t, []string{domain.ErrCodeBadRequest}, a.errorCodes(t))
}

func TestHandlePlayback_RelaysAndSyncs(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", false)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleRequestSync(ctx, b))
	state := b.ofType(t, domain.MsgTypeSyncState)
	require.Len(t, state, 1)
	assert.Equal(t, false, state[0]["hasState"])
	assert.Equal(t, "A", state[0]["hostId"])

	require.NoError(t, f.svc.HandlePlayback(ctx, a, domain.PlaybackMessage{Type: domain.MsgTypePlay, CurrentTime: 42}))
	play := b.ofType(t, domain.MsgTypePlay)
	require.Len(t, play, 1)
	assert.Equal(t, float64(42), play[0]["currentTime"])
	assert.Empty(t, a.ofType(t, domain.MsgTypePlay))

	b.reset()
	require.NoError(t, f.svc.HandleRequestSync(ctx, b))
	state = b.ofType(t, domain.MsgTypeSyncState)
	require.Len(t, state, 1)
	assert.Equal(t, true, state[0]["hasState"])
	assert.Equal(t, true, state[0]["isPlaying"])
	assert.Equal(t, float64(42), state[0]["currentTime"])
	assert.NotEmpty(t, state[0]["updatedAt"])
}

func TestHandleRequestSync_NotInRoom(t *testing.T) {
	f := newFixture(nil)
	c := f.connect(t, "A")

	require.NoError(t, f.svc.HandleRequestSync(context.Background(), c))
	assert.Equal(t, []string{domain.ErrCodeNotInRoom}, c.errorCodes(t))
}

func TestHandleChatMessage(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", false)
	f.join(t, b, "r1", false)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleChatMessage(ctx, a, domain.ChatInMessage{Message: "hi"}))
	for _, c := range []*fakeConn{a, b} {
		msgs := c.ofType(t, domain.MsgTypeChatMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "A", msgs[0]["author"])
		assert.Equal(t, "hi", msgs[0]["message"])
		assert.NotEmpty(t, msgs[0]["timestamp"])
	}

	require.NoError(t, f.svc.HandleChatMessage(ctx, a, domain.ChatInMessage{}))
	require.NoError(t, f.svc.HandleChatMessage(ctx, a, domain.ChatInMessage{Message: " \t\n "}))
	require.NoError(t, f.svc.HandleChatMessage(ctx, a, domain.ChatInMessage{Message: "this is way too long"}))
	assert.Equal(t, []string{domain.ErrCodeBadRequest, domain.ErrCodeBadRequest, domain.ErrCodeBadRequest}, a.errorCodes(t))
	for _, m := range a.ofType(t, domain.MsgTypeError) {
		assert.Equal(t, domain.MsgTypeChatMessage, m["requestType"])
	}
	assert.Len(t, b.ofType(t, domain.MsgTypeChatMessage), 1)
}

func TestHandleSignal(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *fixture, sender *fakeConn)
		to       string
		wantCode string
	}{
		{
			name:     "missing target",
			setup:    func(t *testing.T, f *fixture, s *fakeConn) { f.join(t, s, "r1", false) },
			to:       "",
			wantCode: domain.ErrCodeBadRequest,
		},
		{
			name:     "sender in no room",
			setup:    func(t *testing.T, f *fixture, s *fakeConn) { f.join(t, f.connect(t, "B"), "r1", false) },
			to:       "B",
			wantCode: domain.ErrCodeNotInRoom,
		},
		{
			name:     "unknown target",
			setup:    func(t *testing.T, f *fixture, s *fakeConn) { f.join(t, s, "r1", false) },
			to:       "ghost",
			wantCode: domain.ErrCodeNotFound,
		},
		{
			name: "target in another room",
			setup: func(t *testing.T, f *fixture, s *fakeConn) {
				f.join(t, s, "r1", false)
				f.join(t, f.connect(t, "B"), "r2", false)
			},
			to:       "B",
			wantCode: domain.ErrCodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			sender := f.connect(t, "A")
			tt.setup(t, f, sender)

			require.NoError(t, f.svc.HandleSignal(context.Background(), sender, domain.SignalInMessage{
				To:     tt.to,
				Signal: json.RawMessage(`{"sdp":"x"}`),
			}))
			assert.Equal(t, []string{tt.wantCode}, sender.errorCodes(t))
		})
	}
}

func TestHandleSignal_Delivers(t *testing.T) {
	f := newFixture(nil)
	a, b, c := f.connect(t, "A"), f.connect(t, "B"), f.connect(t, "C")
	f.join(t, a, "r1", false)
	f.join(t, b, "r1", false)
	f.join(t, c, "r1", false)
	a.reset()
	c.reset()

	require.NoError(t, f.svc.HandleSignal(context.Background(), a, domain.SignalInMessage{
		To:     "B",
		Signal: json.RawMessage(`{"candidate":"c1"}`),
	}))

	got := b.ofType(t, domain.MsgTypeSignal)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0]["from"])
	assert.Equal(t, map[string]interface{}{"candidate": "c1"}, got[0]["signal"])
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 0, c.count(), "signals are never fanned out")
}

func TestHandleTransferHost(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", false)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleTransferHost(ctx, b, domain.TransferHostMessage{To: "A"}))
	assert.Equal(t, []string{domain.ErrCodeForbidden}, b.errorCodes(t))

	require.NoError(t, f.svc.HandleTransferHost(ctx, a, domain.TransferHostMessage{To: "ghost"}))
	require.NoError(t, f.svc.HandleTransferHost(ctx, a, domain.TransferHostMessage{}))
	assert.Equal(t, []string{domain.ErrCodeNotFound, domain.ErrCodeBadRequest}, a.errorCodes(t))

	require.NoError(t, f.svc.HandleTransferHost(ctx, a, domain.TransferHostMessage{To: "B"}))
	changed := b.ofType(t, domain.MsgTypeHostChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "B", changed[0]["hostId"])
}

func TestHandleLeaveAndDisconnect(t *testing.T) {
	f := newFixture(nil)
	a, b := f.connect(t, "A"), f.connect(t, "B")
	f.join(t, a, "r1", true)
	f.join(t, b, "r1", false)
	ctx := context.Background()
	b.reset()

	require.NoError(t, f.svc.HandleLeaveRoom(ctx, a))
	assert.Len(t, b.ofType(t, domain.MsgTypeUserLeft), 1)
	_, ok := f.registry.RoomOf("A")
	assert.False(t, ok)
	assert.Equal(t, 2, f.registry.Count())

	// Leaving twice is harmless.
	require.NoError(t, f.svc.HandleLeaveRoom(ctx, a))

	require.NoError(t, f.svc.HandleDisconnect(ctx, b))
	require.NoError(t, f.svc.HandleDisconnect(ctx, a))
	assert.Equal(t, 0, f.registry.Count())
	assert.Equal(t, 0, f.directory.Count())
}

func TestStart_DeliversSystemMessages(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan *pubsub.Event, 4)}
	f := newFixture(sub)
	a := f.connect(t, "A")
	f.join(t, a, "r1", false)

	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()
	assert.Equal(t, pubsub.PatternRoomCommands, sub.pattern)

	unknown, err := pubsub.NewEvent("reboot", "r1", struct{}{})
	require.NoError(t, err)
	sub.events <- unknown

	elsewhere, err := pubsub.NewEvent(pubsub.EventSystemMessage, "other", pubsub.SystemMessagePayload{Content: "nope"})
	require.NoError(t, err)
	sub.events <- elsewhere

	ev, err := pubsub.NewEvent(pubsub.EventSystemMessage, "r1", pubsub.SystemMessagePayload{Content: "Maintenance in 5 minutes"})
	require.NoError(t, err)
	sub.events <- ev

	require.Eventually(t, func() bool {
		return len(a.ofType(t, domain.MsgTypeSystemMessage)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Maintenance in 5 minutes", a.ofType(t, domain.MsgTypeSystemMessage)[0]["content"])
}

func TestStart_WithoutSubscriber(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.svc.Start(context.Background()))
	require.NoError(t, f.svc.Stop())
}

func TestStart_SubscribeFailure(t *testing.T) {
	f := newFixture(&fakeSubscriber{err: assert.AnError})
	assert.ErrorIs(t, f.svc.Start(context.Background()), assert.AnError)
}
