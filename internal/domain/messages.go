package domain

import (
	"encoding/json"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom     = "join-room"
	MsgTypeLeaveRoom    = "leave-room"
	MsgTypePlay         = "play"
	MsgTypePause        = "pause"
	MsgTypeSeek         = "seek"
	MsgTypeRequestSync  = "request-sync"
	MsgTypeChatMessage  = "chat-message"
	MsgTypeSignal       = "signal"
	MsgTypeTransferHost = "transfer-host"
	MsgTypePing         = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeWelcome       = "welcome"
	MsgTypeParticipants  = "participants"
	MsgTypeRoomJoined    = "room-joined"
	MsgTypeAllUsers      = "all-users"
	MsgTypeUserJoined    = "user-joined"
	MsgTypeUserLeft      = "user-left"
	MsgTypeHostChanged   = "host-changed"
	MsgTypeSyncState     = "sync-state"
	MsgTypeSystemMessage = "system-message"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// BaseMessage is decoded first to route a frame by its type.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// JoinRoomMessage asks to enter a room, optionally claiming host.
type JoinRoomMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId" validate:"required"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// PlaybackMessage carries play, pause and seek in both directions.
// Outbound copies keep only type and currentTime.
type PlaybackMessage struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"currentTime" validate:"gte=0"`
}

// ChatInMessage is a chat line as sent by a client.
type ChatInMessage struct {
	Type    string `json:"type"`
	Author  string `json:"author,omitempty"`
	Message string `json:"message" validate:"required"`
}

// SignalInMessage is an opaque peer-to-peer payload addressed to one connection.
type SignalInMessage struct {
	Type   string          `json:"type"`
	To     string          `json:"to" validate:"required"`
	Signal json.RawMessage `json:"signal"`
}

// TransferHostMessage hands the host role to another member.
type TransferHostMessage struct {
	Type string `json:"type"`
	To   string `json:"to" validate:"required"`
}

// Server -> Client messages

// WelcomeMessage is the first frame on every connection.
type WelcomeMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// ParticipantsMessage is broadcast whenever the member count changes.
type ParticipantsMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// RoomJoinedMessage acknowledges a join to the joiner only.
type RoomJoinedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	IsHost bool   `json:"isHost"`
	HostID string `json:"hostId,omitempty"`
}

// AllUsersMessage lists the members present before the joiner, in join order.
type AllUsersMessage struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// UserJoinedMessage tells existing members about a newcomer.
type UserJoinedMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// UserLeftMessage tells remaining members a connection has gone.
type UserLeftMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// HostChangedMessage announces a new host after election or handoff.
type HostChangedMessage struct {
	Type   string `json:"type"`
	HostID string `json:"hostId"`
}

// SyncStateMessage answers request-sync. HasState is false until the
// host has sent its first playback event.
type SyncStateMessage struct {
	Type        string     `json:"type"`
	HasState    bool       `json:"hasState"`
	IsPlaying   bool       `json:"isPlaying"`
	CurrentTime float64    `json:"currentTime"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	HostID      string     `json:"hostId,omitempty"`
}

// ChatOutMessage is a chat line as relayed, with the server timestamp.
type ChatOutMessage struct {
	Type      string    `json:"type"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalOutMessage is a forwarded signal naming its sender.
type SignalOutMessage struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// SystemMessage is an operator announcement delivered to a room.
type SystemMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage is sent when an error occurs. RequestType names the inbound
// frame type that was rejected, when there is one.
type ErrorMessage struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
	ErrCodeHostTaken     = "HOST_TAKEN"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// ForRequest tags the error with the rejected frame type.
func (m *ErrorMessage) ForRequest(requestType string) *ErrorMessage {
	m.RequestType = requestType
	return m
}
