package room

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/metric"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

const defaultAuthor = "Guest"

type member struct {
	id       string
	username string
	seq      uint64
	peer     Peer
}

// JoinResult describes the outcome of a join.
type JoinResult struct {
	IsHost    bool
	HostTaken bool
	Rejoined  bool
	HostID    string
	Count     int
}

// LeaveResult describes the outcome of a leave.
type LeaveResult struct {
	Remaining int
	NewHostID string
	Closed    bool
}

// Info is a point-in-time view of a room.
type Info struct {
	ID           string                `json:"id"`
	Participants int                   `json:"participants"`
	HostID       string                `json:"hostId,omitempty"`
	Members      []string              `json:"members"`
	Playback     *domain.PlaybackState `json:"playback,omitempty"`
}

// Room is one watch session. Every method takes the room mutex, so state
// changes and the frames announcing them are totally ordered per room.
type Room struct {
	id       string
	registry *Registry
	sink     EventSink
	now      func() time.Time

	mu       sync.Mutex
	members  map[string]*member
	order    []*member
	hostID   string
	playback *domain.PlaybackState
	lastChat time.Time
	seq      uint64
	opened   bool
	closed   bool
}

func newRoom(id string, registry *Registry, sink EventSink, now func() time.Time) *Room {
	return &Room{
		id:       id,
		registry: registry,
		sink:     sink,
		now:      now,
		members:  make(map[string]*member),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

func (r *Room) join(p Peer, username string, claimHost bool) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, errRoomClosed
	}

	if m, ok := r.members[p.ID()]; ok {
		return r.rejoinLocked(m, username, claimHost), nil
	}

	prior := r.memberIDsLocked()

	r.seq++
	m := &member{id: p.ID(), username: username, seq: r.seq, peer: p}
	r.members[m.id] = m
	r.order = append(r.order, m)

	res := JoinResult{Count: len(r.order)}
	if claimHost {
		if r.hostID == "" {
			r.hostID = m.id
			res.IsHost = true
		} else {
			res.HostTaken = true
		}
	}
	res.HostID = r.hostID
	r.registry.SetRoom(m.id, r.id, res.IsHost)

	if !r.opened {
		r.opened = true
		r.emitLocked(pubsub.EventRoomOpened)
	}
	if res.IsHost {
		r.emitLocked(pubsub.EventHostChanged)
	}
	r.emitLocked(pubsub.EventParticipantsChanged)

	r.broadcastLocked(domain.ParticipantsMessage{Type: domain.MsgTypeParticipants, Count: res.Count}, "")
	r.sendLocked(m, domain.RoomJoinedMessage{
		Type:   domain.MsgTypeRoomJoined,
		RoomID: r.id,
		IsHost: res.IsHost,
		HostID: r.hostID,
	})
	r.sendLocked(m, domain.AllUsersMessage{Type: domain.MsgTypeAllUsers, Users: prior})
	r.broadcastLocked(domain.UserJoinedMessage{
		Type:     domain.MsgTypeUserJoined,
		UserID:   m.id,
		Username: username,
	}, m.id)
	if res.IsHost && len(prior) > 0 {
		r.broadcastLocked(domain.HostChangedMessage{Type: domain.MsgTypeHostChanged, HostID: m.id}, m.id)
	}

	return res, nil
}

// A repeated join re-sends the ack and snapshot without touching membership.
func (r *Room) rejoinLocked(m *member, username string, claimHost bool) JoinResult {
	if username != "" {
		m.username = username
	}

	res := JoinResult{Rejoined: true, Count: len(r.order)}
	if claimHost && r.hostID == "" {
		r.hostID = m.id
		r.registry.SetRoom(m.id, r.id, true)
		r.emitLocked(pubsub.EventHostChanged)
		r.broadcastLocked(domain.HostChangedMessage{Type: domain.MsgTypeHostChanged, HostID: m.id}, m.id)
	}
	res.IsHost = r.hostID == m.id
	res.HostTaken = claimHost && !res.IsHost
	res.HostID = r.hostID

	others := lo.Without(r.memberIDsLocked(), m.id)
	r.sendLocked(m, domain.ParticipantsMessage{Type: domain.MsgTypeParticipants, Count: res.Count})
	r.sendLocked(m, domain.RoomJoinedMessage{
		Type:   domain.MsgTypeRoomJoined,
		RoomID: r.id,
		IsHost: res.IsHost,
		HostID: r.hostID,
	})
	r.sendLocked(m, domain.AllUsersMessage{Type: domain.MsgTypeAllUsers, Users: others})
	return res
}

func (r *Room) leave(connID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		return LeaveResult{}, false
	}

	delete(r.members, connID)
	r.order = lo.Filter(r.order, func(m *member, _ int) bool { return m.id != connID })
	r.registry.ClearRoom(connID, r.id)

	res := LeaveResult{Remaining: len(r.order)}
	wasHost := r.hostID == connID
	if wasHost {
		r.hostID = ""
	}

	if res.Remaining == 0 {
		r.closed = true
		res.Closed = true
		r.emitLocked(pubsub.EventRoomClosed)
		return res, true
	}

	r.emitLocked(pubsub.EventParticipantsChanged)
	r.broadcastLocked(domain.ParticipantsMessage{Type: domain.MsgTypeParticipants, Count: res.Remaining}, "")
	r.broadcastLocked(domain.UserLeftMessage{Type: domain.MsgTypeUserLeft, UserID: connID}, "")

	if wasHost {
		// order is join order, so the first entry is the longest-present member.
		next := r.order[0]
		r.hostID = next.id
		res.NewHostID = next.id
		r.registry.SetRoom(next.id, r.id, true)
		r.emitLocked(pubsub.EventHostChanged)
		r.broadcastLocked(domain.HostChangedMessage{Type: domain.MsgTypeHostChanged, HostID: next.id}, "")
	}

	return res, true
}

// ApplyPlayback records a host playback action and relays it to every
// other member.
func (r *Room) ApplyPlayback(connID string, action domain.PlaybackAction, currentTime float64) error {
	if !action.Valid() || currentTime < 0 || math.IsNaN(currentTime) || math.IsInf(currentTime, 0) {
		return ErrInvalidPlayback
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		return ErrNotMember
	}
	if r.hostID != connID {
		return ErrNotHost
	}

	var base domain.PlaybackState
	if r.playback != nil {
		base = *r.playback
	}
	next := base.Apply(action, currentTime, r.now().UTC())
	r.playback = &next

	r.broadcastLocked(domain.PlaybackMessage{Type: string(action), CurrentTime: currentTime}, connID)
	return nil
}

// Snapshot returns the sync-state reply for a member.
func (r *Room) Snapshot(connID string) (domain.SyncStateMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		return domain.SyncStateMessage{}, ErrNotMember
	}

	msg := domain.SyncStateMessage{Type: domain.MsgTypeSyncState, HostID: r.hostID}
	if r.playback != nil {
		updatedAt := r.playback.UpdatedAt
		msg.HasState = true
		msg.IsPlaying = r.playback.IsPlaying
		msg.CurrentTime = r.playback.CurrentTime
		msg.UpdatedAt = &updatedAt
	}
	return msg, nil
}

// Chat stamps a message with server time and broadcasts it to every
// member, the sender included. Timestamps never go backwards within a room.
func (r *Room) Chat(connID, author, body string) (domain.ChatOutMessage, error) {
	if body == "" {
		return domain.ChatOutMessage{}, ErrEmptyMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return domain.ChatOutMessage{}, ErrNotMember
	}

	if author == "" {
		author = m.username
	}
	if author == "" {
		author = defaultAuthor
	}

	ts := r.now().UTC()
	if ts.Before(r.lastChat) {
		ts = r.lastChat
	}
	r.lastChat = ts

	msg := domain.ChatOutMessage{
		Type:      domain.MsgTypeChatMessage,
		Author:    author,
		Message:   body,
		Timestamp: ts,
	}
	r.broadcastLocked(msg, "")
	return msg, nil
}

// TransferHost moves the host role from the current host to another member.
func (r *Room) TransferHost(fromID, toID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[fromID]; !ok {
		return ErrNotMember
	}
	if r.hostID != fromID {
		return ErrNotHost
	}
	if _, ok := r.members[toID]; !ok {
		return ErrUnknownTarget
	}
	if toID == fromID {
		return nil
	}

	r.hostID = toID
	r.registry.SetRoom(fromID, r.id, false)
	r.registry.SetRoom(toID, r.id, true)
	r.emitLocked(pubsub.EventHostChanged)
	r.broadcastLocked(domain.HostChangedMessage{Type: domain.MsgTypeHostChanged, HostID: toID}, "")
	return nil
}

// Announce delivers an operator message to every member.
func (r *Room) Announce(content string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	return r.broadcastLocked(domain.SystemMessage{
		Type:      domain.MsgTypeSystemMessage,
		Content:   content,
		Timestamp: r.now().UTC(),
	}, "")
}

// IsMember reports whether connID is currently in the room.
func (r *Room) IsMember(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	return ok
}

// Info returns a snapshot of the room.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		ID:           r.id,
		Participants: len(r.order),
		HostID:       r.hostID,
		Members:      r.memberIDsLocked(),
	}
	if r.playback != nil {
		p := *r.playback
		info.Playback = &p
	}
	return info
}

func (r *Room) memberIDsLocked() []string {
	return lo.Map(r.order, func(m *member, _ int) string { return m.id })
}

func (r *Room) emitLocked(eventType string) {
	r.sink.Emit(domain.RoomEvent{
		Type:   eventType,
		RoomID: r.id,
		HostID: r.hostID,
		Count:  len(r.order),
		At:     r.now().UTC(),
	})
}

func (r *Room) sendLocked(m *member, msg interface{}) {
	if data, ok := encode(msg); ok {
		deliver(m.peer, data)
	}
}

// broadcastLocked fans out to every member except exclude and returns the
// number of accepted deliveries. A full recipient never blocks the others.
func (r *Room) broadcastLocked(msg interface{}, exclude string) int {
	data, ok := encode(msg)
	if !ok {
		return 0
	}

	delivered := 0
	for _, m := range r.order {
		if m.id == exclude {
			continue
		}
		if deliver(m.peer, data) {
			delivered++
		}
	}
	return delivered
}

func deliver(p Peer, data []byte) bool {
	if p.Deliver(data) {
		metric.FrameRelayed()
		return true
	}
	metric.FrameDropped()
	return false
}

func encode(msg interface{}) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Msg("failed to encode frame")
		return nil, false
	}
	return data, true
}
