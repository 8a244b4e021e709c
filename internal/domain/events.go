package domain

import "time"

// RoomEvent records a room lifecycle transition. Events of one room are
// emitted in the order the transitions happened.
type RoomEvent struct {
	Type   string
	RoomID string
	HostID string
	Count  int
	At     time.Time
}
