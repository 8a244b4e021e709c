package room

import (
	"sync"
	"time"

	"github.com/weiawesome/groupwatch/internal/domain"
)

// Peer is the outbound side of a connection. Deliver must not block; it
// reports false when the frame was dropped.
type Peer interface {
	ID() string
	Deliver(data []byte) bool
}

type registration struct {
	conn domain.Connection
	peer Peer
}

// Registry tracks every live connection and the room it belongs to.
// Calls naming an unknown connection are no-ops.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registration
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*registration),
		now:   time.Now,
	}
}

// Register records a new connection. Registering an id twice replaces the peer
// and keeps any existing membership.
func (r *Registry) Register(p Peer) domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.conns[p.ID()]; ok {
		reg.peer = p
		return reg.conn
	}

	reg := &registration{
		conn: domain.Connection{ID: p.ID(), ConnectedAt: r.now()},
		peer: p,
	}
	r.conns[p.ID()] = reg
	return reg.conn
}

// Unregister forgets a connection and returns the room it was in, if any.
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	return reg.conn.RoomID, reg.conn.InRoom()
}

// SetRoom records membership of roomID with the given host flag.
func (r *Registry) SetRoom(connID, roomID string, isHost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.conns[connID]; ok {
		reg.conn.RoomID = roomID
		reg.conn.IsHost = isHost
	}
}

// ClearRoom removes membership, but only if the connection is still
// recorded in roomID.
func (r *Registry) ClearRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.conns[connID]; ok && reg.conn.RoomID == roomID {
		reg.conn.RoomID = ""
		reg.conn.IsHost = false
	}
}

// SetUsername updates the display name of a connection.
func (r *Registry) SetUsername(connID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.conns[connID]; ok {
		reg.conn.Username = username
	}
}

// RoomOf returns the room a connection is in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[connID]
	if !ok || !reg.conn.InRoom() {
		return "", false
	}
	return reg.conn.RoomID, true
}

// Lookup returns a snapshot of the connection record and its peer.
func (r *Registry) Lookup(connID string) (domain.Connection, Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[connID]
	if !ok {
		return domain.Connection{}, nil, false
	}
	return reg.conn, reg.peer, true
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
