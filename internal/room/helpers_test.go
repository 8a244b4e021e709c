package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/groupwatch/internal/domain"
)

type fakePeer struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newPeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Deliver(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.frames = append(p.frames, data)
	return true
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.full = full
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

func (p *fakePeer) messages(t *testing.T) []map[string]interface{} {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(p.frames))
	for _, f := range p.frames {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) ofType(t *testing.T, msgType string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, m := range p.messages(t) {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range p.messages(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (s *recordingSink) Emit(e domain.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// steppingClock returns the queued instants in order, then repeats the last.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

type fixture struct {
	registry  *Registry
	directory *Directory
	sink      *recordingSink
}

func newFixture(opts ...Option) *fixture {
	reg := NewRegistry()
	sink := &recordingSink{}
	opts = append([]Option{WithEventSink(sink)}, opts...)
	return &fixture{
		registry:  reg,
		directory: NewDirectory(reg, opts...),
		sink:      sink,
	}
}

func (f *fixture) connect(id string) *fakePeer {
	p := newPeer(id)
	f.registry.Register(p)
	return p
}

func (f *fixture) join(t *testing.T, roomID string, p *fakePeer, claimHost bool) (*Room, JoinResult) {
	t.Helper()
	return f.directory.Join(roomID, p, "user-"+p.id, claimHost)
}

// disconnect follows the transport-close path: registry first, then room.
func (f *fixture) disconnect(p *fakePeer) {
	if roomID, ok := f.registry.Unregister(p.id); ok {
		f.directory.Leave(roomID, p.id)
	}
}
