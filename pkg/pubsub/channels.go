package pubsub

import (
	"fmt"
	"strings"
)

// Channel names follow {prefix}:room:{roomID}:{suffix}.
const (
	// Room lifecycle, published by the relay.
	ChannelRoomEvents = "watch:room:%s:events"

	// Operator commands, consumed by the relay.
	ChannelRoomCommands = "watch:room:%s:commands"

	// PatternRoomCommands matches the command channel of every room.
	PatternRoomCommands = "watch:room:*:commands"
)

// Lifecycle event types.
const (
	EventRoomOpened          = "room_opened"
	EventRoomClosed          = "room_closed"
	EventHostChanged         = "host_changed"
	EventParticipantsChanged = "participants_changed"
)

// Command event types.
const (
	EventSystemMessage = "system_message"
)

// RoomEventsChannel returns the lifecycle channel of a room.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// RoomCommandsChannel returns the command channel of a room.
func RoomCommandsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomCommands, roomID)
}

// RoomIDFromChannel extracts the room id from a channel name. Room ids may
// themselves contain colons, so only the first two and the last segment
// are structural.
func RoomIDFromChannel(channel string) (string, error) {
	_, roomID, _, err := splitChannel(channel)
	return roomID, err
}

func splitChannel(channel string) (prefix, roomID, suffix string, err error) {
	first := strings.Index(channel, ":room:")
	last := strings.LastIndex(channel, ":")
	if first <= 0 || last <= first+len(":room:")-1 {
		return "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	prefix = channel[:first]
	roomID = channel[first+len(":room:") : last]
	suffix = channel[last+1:]
	if roomID == "" || suffix == "" {
		return "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return prefix, roomID, suffix, nil
}

// RoomEventPayload accompanies every lifecycle event.
type RoomEventPayload struct {
	HostID       string `json:"host_id,omitempty"`
	Participants int    `json:"participants"`
	InstanceID   string `json:"instance_id,omitempty"`
}

// SystemMessagePayload is the body of an operator announcement.
type SystemMessagePayload struct {
	Content string `json:"content"`
}
