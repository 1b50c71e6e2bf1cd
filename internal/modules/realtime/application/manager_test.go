package application

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	mu     sync.Mutex
	sent   []*domain.Message
	fail   bool
	closed int
	log    *callLog
}

func (s *captureSender) Send(conn *domain.Connection, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, msg)
	if s.log != nil {
		s.log.add("send")
	}
	return nil
}

func (s *captureSender) Close(conn *domain.Connection, code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *captureSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

type publishCall struct {
	channel string
	msg     *domain.Message
}

type recordingBroker struct {
	mu           sync.Mutex
	published    []publishCall
	handlers     map[string]port.MessageHandler
	publishErr   error
	subscribeErr error
	log          *callLog
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{handlers: map[string]port.MessageHandler{}}
}

func (b *recordingBroker) Publish(channel string, msg *domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, publishCall{channel: channel, msg: msg})
	if b.log != nil {
		b.log.add("publish")
	}
	return nil
}

func (b *recordingBroker) Subscribe(channel string, handler port.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[channel] = handler
	return nil
}

func (b *recordingBroker) handler(channel string) port.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[channel]
}

func (b *recordingBroker) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[channel]
	return ok
}

func (b *recordingBroker) Unsubscribe(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
	return nil
}

func (b *recordingBroker) SubscriberCount(channel string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[channel]; ok {
		return 1, nil
	}
	return 0, nil
}

func (b *recordingBroker) IsConnected() bool { return true }

func (b *recordingBroker) Disconnect() error { return nil }

func (b *recordingBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type stubTransport struct{}

func (stubTransport) Send(conn *domain.Connection, msg *domain.Message) error { return nil }

func (stubTransport) Broadcast(msg *domain.Message) int { return 0 }

func (stubTransport) BroadcastToChannel(channel string, msg *domain.Message) int { return 0 }

func (stubTransport) Close(conn *domain.Connection, code int, reason string) error { return nil }

func (stubTransport) ConnectionCount() int { return 0 }

func (stubTransport) HasConnection(id string) bool { return false }

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))

	alice := &captureSender{}
	bob := &captureSender{}
	connA := domain.NewConnection(alice)
	connB := domain.NewConnection(bob)
	m.Register(connA)
	m.Register(connB)
	if err := m.Subscribe(connA, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Subscribe(connB, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.Broadcast("chat.1", "message.created", map[string]any{"body": "hi"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for name, sender := range map[string]*captureSender{"alice": alice, "bob": bob} {
		if sender.sentCount() != 1 {
			t.Fatalf("%s received %d messages, want 1", name, sender.sentCount())
		}
		msg := sender.sent[0]
		if msg.Type != domain.TypeEvent || msg.Channel != "chat.1" || msg.Event != "message.created" {
			t.Fatalf("%s received unexpected message: %+v", name, msg)
		}
	}
}

func TestBroadcastPublishesThroughDefaultBroker(t *testing.T) {
	log := &callLog{}
	broker := newRecordingBroker()
	broker.log = log
	m := NewManager(
		WithLogger(discardLogger()),
		WithDefaultBroker("kafka"),
		WithBrokerFactory(func(name string) (port.Broker, error) { return broker, nil }),
	)

	sender := &captureSender{log: log}
	conn := domain.NewConnection(sender)
	m.Register(conn)
	if err := m.Subscribe(conn, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.Broadcast("chat.1", "message.created", "hello"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if sender.sentCount() != 1 {
		t.Fatalf("local delivery count = %d, want 1", sender.sentCount())
	}
	if broker.publishCount() != 1 {
		t.Fatalf("publish count = %d, want 1", broker.publishCount())
	}
	if got := broker.published[0].channel; got != "chat.1" {
		t.Fatalf("published channel = %q, want chat.1", got)
	}
	if len(log.calls) != 2 || log.calls[0] != "send" || log.calls[1] != "publish" {
		t.Fatalf("call order = %v, want local delivery before publish", log.calls)
	}
}

func TestBroadcastPropagatesPublishFailure(t *testing.T) {
	broker := newRecordingBroker()
	broker.publishErr = errors.New("broker down")
	m := NewManager(
		WithLogger(discardLogger()),
		WithDefaultBroker("kafka"),
		WithBrokerFactory(func(name string) (port.Broker, error) { return broker, nil }),
	)

	sender := &captureSender{}
	conn := domain.NewConnection(sender)
	m.Register(conn)
	if err := m.Subscribe(conn, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := m.Broadcast("chat.1", "message.created", nil)
	if err == nil {
		t.Fatal("expected publish failure to propagate")
	}
	if sender.sentCount() != 1 {
		t.Fatal("local delivery should happen even when the publish fails")
	}
}

func TestBroadcastLocalNeverPublishes(t *testing.T) {
	broker := newRecordingBroker()
	m := NewManager(
		WithLogger(discardLogger()),
		WithDefaultBroker("kafka"),
		WithBrokerFactory(func(name string) (port.Broker, error) { return broker, nil }),
	)

	sender := &captureSender{}
	conn := domain.NewConnection(sender)
	m.Register(conn)
	if err := m.Subscribe(conn, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.BroadcastLocal("chat.1", "message.created", "hello"); err != nil {
		t.Fatalf("broadcast local: %v", err)
	}

	if sender.sentCount() != 1 {
		t.Fatalf("local delivery count = %d, want 1", sender.sentCount())
	}
	if broker.publishCount() != 0 {
		t.Fatalf("broadcast local published %d messages, want 0", broker.publishCount())
	}
}

func TestSendUnknownConnection(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	err := m.Send("missing", "ping", nil)
	if !errors.Is(err, port.ErrConnectionNotFound) {
		t.Fatalf("err = %v, want ErrConnectionNotFound", err)
	}
}

func TestSendToUserTargetsEveryConnection(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))

	phone := &captureSender{}
	laptop := &captureSender{}
	other := &captureSender{}
	for userID, sender := range map[string][]*captureSender{
		"u1": {phone, laptop},
		"u2": {other},
	} {
		for _, s := range sender {
			conn := domain.NewConnection(s)
			conn.SetMetadata(domain.MetadataUserID, userID)
			m.Register(conn)
		}
	}

	if err := m.SendToUser("u1", "account.updated", nil); err != nil {
		t.Fatalf("send to user: %v", err)
	}

	if phone.sentCount() != 1 || laptop.sentCount() != 1 {
		t.Fatalf("u1 connections got %d/%d messages, want 1/1", phone.sentCount(), laptop.sentCount())
	}
	if other.sentCount() != 0 {
		t.Fatalf("u2 connection got %d messages, want 0", other.sentCount())
	}
}

func TestSendToUserUnknownUser(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	conn := domain.NewConnection(&captureSender{})
	m.Register(conn)

	err := m.SendToUser("ghost", "ping", nil)
	if !errors.Is(err, port.ErrUserNotConnected) {
		t.Fatalf("err = %v, want ErrUserNotConnected", err)
	}
}

func TestSendToUserSurvivesFailingConnection(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))

	broken := &captureSender{fail: true}
	healthy := &captureSender{}
	for _, s := range []*captureSender{broken, healthy} {
		conn := domain.NewConnection(s)
		conn.SetMetadata(domain.MetadataUserID, "u1")
		m.Register(conn)
	}

	if err := m.SendToUser("u1", "ping", nil); err != nil {
		t.Fatalf("send to user: %v", err)
	}
	if healthy.sentCount() != 1 {
		t.Fatal("healthy connection should still receive the message")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))

	sender := &captureSender{}
	conn := domain.NewConnection(sender)
	m.Register(conn)
	if err := m.Subscribe(conn, "chat.1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := m.Disconnect(conn.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if m.ConnectionCount() != 0 {
		t.Fatalf("connection count = %d, want 0", m.ConnectionCount())
	}
	if m.Channel("chat.1").HasSubscriber(conn.ID) {
		t.Fatal("disconnected connection still subscribed")
	}
	if sender.closed != 1 {
		t.Fatalf("transport close count = %d, want 1", sender.closed)
	}

	if err := m.Disconnect(conn.ID); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if sender.closed != 1 {
		t.Fatalf("second disconnect closed the transport again, count = %d", sender.closed)
	}
}

func TestDisconnectDoesNotCreateChannels(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))

	conn := domain.NewConnection(&captureSender{})
	m.Register(conn)
	conn.JoinChannel("ghost")

	if err := m.Disconnect(conn.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if m.ChannelCount() != 0 {
		t.Fatalf("channel count = %d, want 0", m.ChannelCount())
	}
}

func TestRestrictedChannelsGetAuthorizer(t *testing.T) {
	m := NewManager(
		WithLogger(discardLogger()),
		WithChannelAuthorizer(func(channel string) domain.Authorizer {
			return func(conn *domain.Connection) bool { return conn.IsAuthenticated() }
		}),
	)

	anon := domain.NewConnection(&captureSender{})
	err := m.Subscribe(anon, "private-orders")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	if err := m.Subscribe(anon, "lobby"); err != nil {
		t.Fatalf("public channel should not require authorization: %v", err)
	}

	user := domain.NewConnection(&captureSender{})
	user.SetMetadata(domain.MetadataUserID, "u1")
	if err := m.Subscribe(user, "private-orders"); err != nil {
		t.Fatalf("authenticated subscribe: %v", err)
	}
}

func TestChannelCachesInstances(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	if m.Channel("chat.1") != m.Channel("chat.1") {
		t.Fatal("channel lookups should return the same instance")
	}
	if m.ChannelCount() != 1 {
		t.Fatalf("channel count = %d, want 1", m.ChannelCount())
	}
}

func TestLookupChannelDoesNotCreate(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	if _, ok := m.LookupChannel("nowhere"); ok {
		t.Fatal("expected miss for a channel nobody created")
	}
	if m.ChannelCount() != 0 {
		t.Fatalf("channel count = %d after lookup, want 0", m.ChannelCount())
	}

	m.Channel("somewhere")
	if _, ok := m.LookupChannel("somewhere"); !ok {
		t.Fatal("expected hit after creation")
	}
}

func TestTransportBuiltOnceThroughFactory(t *testing.T) {
	var built int
	m := NewManager(
		WithLogger(discardLogger()),
		WithDefaultTransport("memory"),
		WithTransportFactory(func(name string) (port.Transport, error) {
			if name != "memory" {
				return nil, fmt.Errorf("transport %q: %w", name, port.ErrUnknownDriver)
			}
			built++
			return stubTransport{}, nil
		}),
	)

	if _, err := m.Transport(""); err != nil {
		t.Fatalf("default transport: %v", err)
	}
	if _, err := m.Transport("memory"); err != nil {
		t.Fatalf("named transport: %v", err)
	}
	if built != 1 {
		t.Fatalf("factory ran %d times, want 1", built)
	}

	_, err := m.Transport("carrier-pigeon")
	if !errors.Is(err, port.ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestBrokerWithoutDefaultOrFactory(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	if _, err := m.Broker(""); !errors.Is(err, port.ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	if _, err := m.Broker("kafka"); !errors.Is(err, port.ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}
