package domain

import (
	"log/slog"
	"strings"
	"sync"
)

// Visibility classifies who may subscribe to a channel.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityPresence Visibility = "presence"
)

// VisibilityFor derives the visibility class from the channel naming
// convention: "private-" and "presence-" prefixes mark restricted channels,
// everything else is public.
func VisibilityFor(name string) Visibility {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return VisibilityPresence
	case strings.HasPrefix(name, "private-"):
		return VisibilityPrivate
	default:
		return VisibilityPublic
	}
}

// Authorizer decides whether a connection may subscribe to a channel.
type Authorizer func(*Connection) bool

// Channel is a named subscriber registry. Channels are created lazily by the
// manager on first reference and cached for the process lifetime; the manager
// is the only caller of Subscribe and Unsubscribe.
type Channel struct {
	Name       string
	Visibility Visibility

	mu          sync.RWMutex
	subscribers map[string]*Connection
	authorizer  Authorizer
}

// NewChannel builds a channel with its visibility derived from the name.
func NewChannel(name string) *Channel {
	return NewChannelWithVisibility(name, VisibilityFor(name))
}

// NewChannelWithVisibility builds a channel with an explicit visibility,
// bypassing the naming convention.
func NewChannelWithVisibility(name string, visibility Visibility) *Channel {
	return &Channel{
		Name:        name,
		Visibility:  visibility,
		subscribers: map[string]*Connection{},
	}
}

// SetAuthorizer installs the subscription predicate.
func (ch *Channel) SetAuthorizer(authorizer Authorizer) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.authorizer = authorizer
}

// Authorize reports whether the connection may subscribe. A channel without
// an authorizer admits everyone.
func (ch *Channel) Authorize(conn *Connection) bool {
	ch.mu.RLock()
	authorizer := ch.authorizer
	ch.mu.RUnlock()
	if authorizer == nil {
		return true
	}
	return authorizer(conn)
}

// Subscribe admits a connection after authorization and records membership on
// both sides. Presence channels announce the new member to the existing
// subscribers.
func (ch *Channel) Subscribe(conn *Connection) error {
	if !ch.Authorize(conn) {
		return ErrUnauthorized
	}

	ch.mu.Lock()
	if _, ok := ch.subscribers[conn.ID]; ok {
		ch.mu.Unlock()
		return nil
	}
	ch.subscribers[conn.ID] = conn
	ch.mu.Unlock()

	conn.JoinChannel(ch.Name)

	if ch.Visibility == VisibilityPresence {
		ch.Broadcast(NewEventMessage(ch.Name, EventMemberAdded, memberData(conn)), conn)
	}
	return nil
}

// Unsubscribe removes membership on both sides. Presence channels announce
// the departure to the remaining subscribers. Safe to call for connections
// that never subscribed.
func (ch *Channel) Unsubscribe(conn *Connection) {
	ch.mu.Lock()
	_, ok := ch.subscribers[conn.ID]
	delete(ch.subscribers, conn.ID)
	ch.mu.Unlock()

	conn.LeaveChannel(ch.Name)

	if ok && ch.Visibility == VisibilityPresence {
		ch.Broadcast(NewEventMessage(ch.Name, EventMemberRemoved, memberData(conn)), conn)
	}
}

// HasSubscriber reports whether the connection id is subscribed.
func (ch *Channel) HasSubscriber(connID string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.subscribers[connID]
	return ok
}

// SubscriberCount returns the number of subscribed connections.
func (ch *Channel) SubscriberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subscribers)
}

// Subscribers returns a snapshot of the subscribed connections.
func (ch *Channel) Subscribers() []*Connection {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	conns := make([]*Connection, 0, len(ch.subscribers))
	for _, conn := range ch.subscribers {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast delivers the message to every subscriber except the optionally
// excluded one. A send failure on one connection is logged and does not stop
// delivery to the rest. Returns the number of successful deliveries.
func (ch *Channel) Broadcast(msg *Message, except *Connection) int {
	delivered := 0
	for _, conn := range ch.Subscribers() {
		if except != nil && conn.ID == except.ID {
			continue
		}
		if err := conn.Send(msg); err != nil {
			slog.Warn("channel broadcast delivery failed",
				slog.String("channel", ch.Name),
				slog.String("connectionId", conn.ID),
				slog.Any("error", err))
			continue
		}
		delivered++
	}
	return delivered
}

func memberData(conn *Connection) map[string]any {
	data := map[string]any{"connection_id": conn.ID}
	if userID, ok := conn.UserID(); ok {
		data[MetadataUserID] = userID
	}
	return data
}
