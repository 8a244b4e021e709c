package room

import (
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/metric"
)

// EventSink receives room lifecycle events. Emit is called with the room
// lock held and must not block.
type EventSink interface {
	Emit(event domain.RoomEvent)
}

type nopSink struct{}

func (nopSink) Emit(domain.RoomEvent) {}

// Option configures a Directory.
type Option func(*Directory)

// WithEventSink routes lifecycle events to sink.
func WithEventSink(sink EventSink) Option {
	return func(d *Directory) {
		if sink != nil {
			d.sink = sink
		}
	}
}

// WithClock replaces the time source used for playback and chat stamps.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		d.now = now
	}
}

// Directory maps room ids to live rooms. A room exists exactly while it
// has at least one member.
type Directory struct {
	registry *Registry
	sink     EventSink
	now      func() time.Time

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewDirectory creates an empty directory bound to registry.
func NewDirectory(registry *Registry, opts ...Option) *Directory {
	d := &Directory{
		registry: registry,
		sink:     nopSink{},
		now:      time.Now,
		rooms:    make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Join adds p to roomID, creating the room on first use.
func (d *Directory) Join(roomID string, p Peer, username string, claimHost bool) (*Room, JoinResult) {
	for {
		r := d.getOrCreate(roomID)
		res, err := r.join(p, username, claimHost)
		if err == nil {
			return r, res
		}
		// Lost the race with the last member leaving; the closed room is
		// already out of the map (or about to be), so start over.
		d.remove(r)
	}
}

// Leave removes connID from roomID and deletes the room once empty.
func (d *Directory) Leave(roomID, connID string) (LeaveResult, bool) {
	r, ok := d.Get(roomID)
	if !ok {
		return LeaveResult{}, false
	}

	res, ok := r.leave(connID)
	if ok && res.Closed {
		d.remove(r)
	}
	return res, ok
}

// Get returns a live room.
func (d *Directory) Get(roomID string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	return r, ok
}

// Count returns the number of live rooms.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// IDs returns the ids of all live rooms, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (d *Directory) getOrCreate(roomID string) *Room {
	if r, ok := d.Get(roomID); ok {
		return r
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID, d.registry, d.sink, d.now)
	d.rooms[roomID] = r
	metric.SetRoomsActive(len(d.rooms))
	return r
}

// remove deletes r only if it is still the room mapped under its id.
func (d *Directory) remove(r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.rooms[r.id]; ok && cur == r {
		delete(d.rooms, r.id)
		metric.SetRoomsActive(len(d.rooms))
	}
}
