// Package watchclient is a Go client for the groupwatch relay. It keeps
// a local view of the joined room (members, chat, playback) up to date
// from the frames the relay sends.
package watchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNotHost   = errors.New("watchclient: only the host can control playback")
	ErrNotInRoom = errors.New("watchclient: not in a room")
	ErrClosed    = errors.New("watchclient: connection closed")
)

const writeWait = 10 * time.Second

// ServerError is an error frame returned by the relay.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("watchclient: %s: %s", e.Code, e.Message)
}

// Movie is the media the room is watching. The relay never sees it.
type Movie struct {
	ID    string
	Title string
}

// User is a room member as known to this client.
type User struct {
	ID       string
	Username string
	IsHost   bool
}

// Message is a chat line or an operator announcement.
type Message struct {
	Author    string
	Text      string
	Timestamp time.Time
	System    bool
}

// PlaybackState is the room's last known playback position.
type PlaybackState struct {
	HasState    bool
	IsPlaying   bool
	CurrentTime float64
	UpdatedAt   time.Time
}

type options struct {
	username  string
	claimHost bool
	dialer    *websocket.Dialer
	header    http.Header
}

// Option configures Dial.
type Option func(*options)

// WithUsername sets the display name sent on join.
func WithUsername(name string) Option {
	return func(o *options) { o.username = name }
}

// WithHostClaim asks for the host role on every join.
func WithHostClaim() Option {
	return func(o *options) { o.claimHost = true }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHeader adds headers to the upgrade request, e.g. Origin.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// Client is one connection to the relay. It is safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	opts options

	writeMu sync.Mutex

	mu        sync.RWMutex
	id        string
	roomID    string
	movie     Movie
	hostID    string
	users     []User
	messages  []Message
	playback  PlaybackState
	confirmed PlaybackState
	joinAck   chan error
	syncs     []chan PlaybackState

	welcome chan struct{}
	done    chan struct{}
	err     error
}

// Dial connects to the relay's websocket endpoint and waits for the
// connection id.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := o.dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("watchclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		opts:    o,
		welcome: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	select {
	case <-c.welcome:
		return c, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}

// JoinRoom enters roomID, leaving any current room, and waits for the
// relay's acknowledgement. A declined host claim still joins as a viewer.
func (c *Client) JoinRoom(ctx context.Context, roomID string, movie Movie) error {
	ack := make(chan error, 1)

	c.mu.Lock()
	c.joinAck = ack
	c.mu.Unlock()

	err := c.send(map[string]interface{}{
		"type":     "join-room",
		"roomId":   roomID,
		"username": c.opts.username,
		"isHost":   c.opts.claimHost,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-ack:
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.movie = movie
		c.mu.Unlock()
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeaveRoom leaves the current room. It is a no-op outside a room.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	inRoom := c.roomID != ""
	c.resetRoomLocked("")
	c.mu.Unlock()

	if !inRoom {
		return nil
	}
	return c.send(map[string]string{"type": "leave-room"})
}

// SendPlaybackUpdate sends play or pause at currentTime. Only the host may
// call it. The local state changes at once; if the relay rejects the
// update it is rolled back and refreshed with a sync request.
func (c *Client) SendPlaybackUpdate(isPlaying bool, currentTime float64) error {
	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	if c.hostID != c.id {
		c.mu.Unlock()
		return ErrNotHost
	}
	c.playback = PlaybackState{
		HasState:    true,
		IsPlaying:   isPlaying,
		CurrentTime: currentTime,
		UpdatedAt:   time.Now(),
	}
	c.mu.Unlock()

	msgType := "pause"
	if isPlaying {
		msgType = "play"
	}
	return c.send(map[string]interface{}{"type": msgType, "currentTime": currentTime})
}

// RequestSync asks the relay for the authoritative playback state and
// waits for it. HasState is false when the host has not started playback.
func (c *Client) RequestSync(ctx context.Context) (PlaybackState, error) {
	reply := make(chan PlaybackState, 1)

	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return PlaybackState{}, ErrNotInRoom
	}
	c.syncs = append(c.syncs, reply)
	c.mu.Unlock()

	if err := c.send(map[string]string{"type": "request-sync"}); err != nil {
		return PlaybackState{}, err
	}

	select {
	case state := <-reply:
		return state, nil
	case <-c.done:
		return PlaybackState{}, c.closeErr()
	case <-ctx.Done():
		return PlaybackState{}, ctx.Err()
	}
}

// SendMessage posts a chat line to the current room.
func (c *Client) SendMessage(text string) error {
	c.mu.RLock()
	inRoom := c.roomID != ""
	c.mu.RUnlock()

	if !inRoom {
		return ErrNotInRoom
	}
	return c.send(map[string]string{
		"type":    "chat-message",
		"author":  c.opts.username,
		"message": text,
	})
}

// ID returns the connection id assigned by the relay.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// CurrentRoom returns the joined room id, or "" outside a room.
func (c *Client) CurrentRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// CurrentMovie returns the movie passed to the last successful JoinRoom.
func (c *Client) CurrentMovie() Movie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.movie
}

// IsHost reports whether this connection holds the host role.
func (c *Client) IsHost() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID != "" && c.hostID == c.id
}

// Users returns the room members in join order.
func (c *Client) Users() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]User, len(c.users))
	copy(out, c.users)
	return out
}

// Messages returns the chat received since the last join.
func (c *Client) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// PlaybackState returns the last playback state seen by this client.
func (c *Client) PlaybackState() PlaybackState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playback
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and waits for the read loop to exit.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	c.conn.Close()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (c *Client) send(msg interface{}) error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("watchclient: write: %w", err)
	}
	return nil
}

func (c *Client) closeErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		c.handle(data)
	}
}

type frame struct {
	Type         string     `json:"type"`
	ConnectionID string     `json:"connectionId"`
	RoomID       string     `json:"roomId"`
	IsHost       bool       `json:"isHost"`
	HostID       string     `json:"hostId"`
	Users        []string   `json:"users"`
	UserID       string     `json:"userId"`
	Username     string     `json:"username"`
	CurrentTime  float64    `json:"currentTime"`
	HasState     bool       `json:"hasState"`
	IsPlaying    bool       `json:"isPlaying"`
	UpdatedAt    *time.Time `json:"updatedAt"`
	Author       string     `json:"author"`
	Message      string     `json:"message"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	Code         string     `json:"code"`
	RequestType  string     `json:"requestType"`
}

func (c *Client) handle(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Type {
	case "welcome":
		if c.id == "" {
			c.id = f.ConnectionID
			close(c.welcome)
		}

	case "room-joined":
		c.resetRoomLocked(f.RoomID)
		c.hostID = f.HostID
		if f.IsHost {
			c.hostID = c.id
		}
		if c.joinAck != nil {
			c.joinAck <- nil
			c.joinAck = nil
		}

	case "all-users":
		users := make([]User, 0, len(f.Users)+1)
		for _, id := range f.Users {
			users = append(users, User{ID: id, IsHost: id == c.hostID})
		}
		c.users = append(users, User{ID: c.id, Username: c.opts.username, IsHost: c.id == c.hostID})

	case "user-joined":
		c.users = append(c.users, User{ID: f.UserID, Username: f.Username, IsHost: f.UserID == c.hostID})

	case "user-left":
		for i, u := range c.users {
			if u.ID == f.UserID {
				c.users = append(c.users[:i], c.users[i+1:]...)
				break
			}
		}

	case "host-changed":
		c.hostID = f.HostID
		for i := range c.users {
			c.users[i].IsHost = c.users[i].ID == f.HostID
		}

	case "play", "pause", "seek":
		state := c.playback
		switch f.Type {
		case "play":
			state.IsPlaying = true
		case "pause":
			state.IsPlaying = false
		}
		state.HasState = true
		state.CurrentTime = f.CurrentTime
		state.UpdatedAt = time.Now()
		c.playback = state
		c.confirmed = state

	case "sync-state":
		state := PlaybackState{
			HasState:    f.HasState,
			IsPlaying:   f.IsPlaying,
			CurrentTime: f.CurrentTime,
		}
		if f.UpdatedAt != nil {
			state.UpdatedAt = *f.UpdatedAt
		}
		if f.HostID != "" {
			c.hostID = f.HostID
		}
		c.playback = state
		c.confirmed = state
		for _, ch := range c.syncs {
			ch <- state
		}
		c.syncs = nil

	case "chat-message":
		c.messages = append(c.messages, Message{Author: f.Author, Text: f.Message, Timestamp: f.Timestamp})

	case "system-message":
		c.messages = append(c.messages, Message{Text: f.Content, Timestamp: f.Timestamp, System: true})

	case "error":
		switch f.RequestType {
		case "join-room":
			// A declined host claim follows room-joined.
			if c.joinAck != nil && f.Code != "HOST_TAKEN" {
				c.joinAck <- &ServerError{Code: f.Code, Message: f.Message}
				c.joinAck = nil
			}
		case "play", "pause", "seek":
			c.playback = c.confirmed
			if c.roomID != "" {
				go c.send(map[string]string{"type": "request-sync"})
			}
		}
	}
}

func (c *Client) resetRoomLocked(roomID string) {
	c.roomID = roomID
	c.hostID = ""
	c.users = nil
	c.messages = nil
	c.playback = PlaybackState{}
	c.confirmed = PlaybackState{}
	if roomID == "" {
		c.movie = Movie{}
	}
}
