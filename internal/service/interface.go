package service

import (
	"context"

	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/room"
)

// Conn is the transport-side view of a client connection.
type Conn interface {
	room.Peer
	SendMessage(message interface{}) error
}

// WatchService handles watch-party room operations.
type WatchService interface {
	// HandleConnect registers a new connection and greets it.
	HandleConnect(ctx context.Context, c Conn) error

	// HandleJoinRoom admits a connection to a room, leaving any other room first.
	HandleJoinRoom(ctx context.Context, c Conn, msg domain.JoinRoomMessage) error

	// HandleLeaveRoom removes a connection from its room.
	HandleLeaveRoom(ctx context.Context, c Conn) error

	// HandlePlayback applies a host play, pause or seek.
	HandlePlayback(ctx context.Context, c Conn, msg domain.PlaybackMessage) error

	// HandleRequestSync replies with the room's playback snapshot.
	HandleRequestSync(ctx context.Context, c Conn) error

	// HandleChatMessage broadcasts a chat line to the room.
	HandleChatMessage(ctx context.Context, c Conn, msg domain.ChatInMessage) error

	// HandleSignal forwards a signaling payload to one room member.
	HandleSignal(ctx context.Context, c Conn, msg domain.SignalInMessage) error

	// HandleTransferHost hands the host role to another member.
	HandleTransferHost(ctx context.Context, c Conn, msg domain.TransferHostMessage) error

	// HandleDisconnect cleans up after a closed connection.
	HandleDisconnect(ctx context.Context, c Conn) error

	// Start starts background goroutines (operator command subscriber).
	Start(ctx context.Context) error

	// Stop stops background goroutines.
	Stop() error
}
