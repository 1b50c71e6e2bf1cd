package broker

import (
	"strings"
	"sync"
)

// TopicMapper translates channel names into broker topic names. The mapping
// is pure and deterministic: every character outside [A-Za-z0-9_-] becomes
// an underscore and the configured prefix is prepended with an underscore,
// so "chat.1" under prefix "realtime" maps to "realtime_chat_1". Distinct
// channel names can collide after sanitization; operators pick channel names
// with that in mind.
type TopicMapper struct {
	prefix string

	mu    sync.RWMutex
	cache map[string]string
}

// NewTopicMapper builds a mapper for the given namespace prefix.
func NewTopicMapper(prefix string) *TopicMapper {
	return &TopicMapper{
		prefix: prefix,
		cache:  map[string]string{},
	}
}

// TopicFor returns the topic name for a channel, memoizing the result.
func (m *TopicMapper) TopicFor(channel string) string {
	m.mu.RLock()
	topic, ok := m.cache[channel]
	m.mu.RUnlock()
	if ok {
		return topic
	}

	topic = m.prefix + "_" + sanitizeChannel(channel)
	m.mu.Lock()
	m.cache[channel] = topic
	m.mu.Unlock()
	return topic
}

func sanitizeChannel(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
