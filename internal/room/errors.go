package room

import "errors"

var (
	ErrNotMember       = errors.New("connection is not a member of the room")
	ErrNotHost         = errors.New("only the host may do this")
	ErrUnknownTarget   = errors.New("target is not a member of the room")
	ErrInvalidPlayback = errors.New("invalid playback update")
	ErrEmptyMessage    = errors.New("message body is empty")

	errRoomClosed = errors.New("room closed")
)
