package domain

import "time"

// Connection is the registry's record of one live websocket.
type Connection struct {
	ID          string
	Username    string
	RoomID      string
	IsHost      bool
	ConnectedAt time.Time
}

// InRoom reports whether the connection is currently a room member.
func (c Connection) InRoom() bool {
	return c.RoomID != ""
}
