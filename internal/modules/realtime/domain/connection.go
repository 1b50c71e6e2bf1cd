package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetadataUserID is the metadata key that marks a connection as
// authenticated and drives user-directed sends.
const MetadataUserID = "user_id"

// MetadataChannels is the metadata key holding the channel grants a
// connection arrived with. Channel authorizers read it.
const MetadataChannels = "channels"

// Sender delivers a message to one connection. It is implemented by the
// transport that owns the connection's underlying socket or stream.
type Sender interface {
	Send(conn *Connection, msg *Message) error
}

// Closer tears down one connection at the transport level. Transports that
// hold network resources implement it alongside Sender.
type Closer interface {
	Close(conn *Connection, code int, reason string) error
}

// Connection represents one client session. The underlying socket or stream
// belongs exclusively to the transport that created the connection; everyone
// else talks to it through Send.
type Connection struct {
	ID string

	sender Sender

	mu           sync.RWMutex
	metadata     map[string]any
	channels     map[string]struct{}
	connectedAt  int64
	lastActivity int64
}

// NewConnection builds a session bound to the transport that owns it.
func NewConnection(sender Sender) *Connection {
	now := time.Now().Unix()
	return &Connection{
		ID:           uuid.NewString(),
		sender:       sender,
		metadata:     map[string]any{},
		channels:     map[string]struct{}{},
		connectedAt:  now,
		lastActivity: now,
	}
}

// Send delivers a message through the owning transport.
func (c *Connection) Send(msg *Message) error {
	return c.sender.Send(c, msg)
}

// Close asks the owning transport to tear the session down. Transports
// without teardown semantics make this a no-op.
func (c *Connection) Close(code int, reason string) error {
	if closer, ok := c.sender.(Closer); ok {
		return closer.Close(c, code, reason)
	}
	return nil
}

// SetMetadata stores a free-form attribute on the session.
func (c *Connection) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns one attribute and whether it was present.
func (c *Connection) Metadata(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.metadata[key]
	return value, ok
}

// UserID returns the authenticated user id, if any.
func (c *Connection) UserID() (string, bool) {
	value, ok := c.Metadata(MetadataUserID)
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IsAuthenticated reports whether the session carries a user id.
func (c *Connection) IsAuthenticated() bool {
	_, ok := c.UserID()
	return ok
}

// JoinChannel records channel membership on the session. Membership is kept
// consistent with the channel's subscriber set by Channel.Subscribe; nothing
// else should call this directly.
func (c *Connection) JoinChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = struct{}{}
}

// LeaveChannel removes channel membership from the session.
func (c *Connection) LeaveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// InChannel reports whether the session is subscribed to the channel.
func (c *Connection) InChannel(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[name]
	return ok
}

// Channels returns a snapshot of the session's channel memberships.
func (c *Connection) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// Touch refreshes the activity timestamp, typically on every inbound frame.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now().Unix()
}

// ConnectedAt returns the session start time in seconds since epoch.
func (c *Connection) ConnectedAt() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// LastActivity returns the last activity time in seconds since epoch.
func (c *Connection) LastActivity() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}
