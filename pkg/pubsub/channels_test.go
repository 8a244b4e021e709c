package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	tests := []struct {
		name      string
		channel   string
		wantTopic string
		wantKey   string
		wantErr   bool
	}{
		{name: "events", channel: RoomEventsChannel("R1"), wantTopic: "watch-events", wantKey: "R1"},
		{name: "commands", channel: RoomCommandsChannel("R1"), wantTopic: "watch-commands", wantKey: "R1"},
		{name: "room id with colon", channel: RoomEventsChannel("movie:42"), wantTopic: "watch-events", wantKey: "movie:42"},
		{name: "missing room segment", channel: "watch:events", wantErr: true},
		{name: "empty room id", channel: "watch:room::events", wantErr: true},
		{name: "missing suffix", channel: "watch:room:R1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, key, err := channelToTopicAndKey(tt.channel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTopic, topic)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic(PatternRoomCommands)
	require.NoError(t, err)
	assert.Equal(t, "watch-commands", topic)

	_, err = patternToTopic(RoomCommandsChannel("R1"))
	assert.Error(t, err)
}

func TestRoomIDFromChannel(t *testing.T) {
	id, err := RoomIDFromChannel(RoomCommandsChannel("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}
