package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicForMapsChannelNames(t *testing.T) {
	t.Parallel()

	mapper := NewTopicMapper("realtime")
	cases := []struct {
		channel string
		want    string
	}{
		{"chat.1", "realtime_chat_1"},
		{"orders", "realtime_orders"},
		{"private-admin", "realtime_private-admin"},
		{"presence-room 7", "realtime_presence-room_7"},
		{"métrica/año", "realtime_m_trica_a_o"},
		{"UPPER_case-9", "realtime_UPPER_case-9"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapper.TopicFor(tc.channel), "channel %q", tc.channel)
	}
}

func TestTopicForIsDeterministic(t *testing.T) {
	t.Parallel()

	mapper := NewTopicMapper("realtime")
	first := mapper.TopicFor("chat.1")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, mapper.TopicFor("chat.1"))
	}

	// A fresh mapper with the same prefix must agree: the mapping is a
	// pure function, the cache is only memoization.
	require.Equal(t, first, NewTopicMapper("realtime").TopicFor("chat.1"))
}

func TestTopicForOutputAlphabet(t *testing.T) {
	t.Parallel()

	mapper := NewTopicMapper("realtime")
	inputs := []string{"chat.1", "a b c", "emoji-🎉", "semi;colon", "slash/dot.", "", "___"}
	for _, channel := range inputs {
		topic := mapper.TopicFor(channel)
		for _, r := range topic {
			ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
			require.True(t, ok, "topic %q for channel %q contains %q", topic, channel, r)
		}
	}
}
