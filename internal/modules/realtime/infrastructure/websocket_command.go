package infrastructure

import (
	"log/slog"
	"strings"

	"toporia/internal/modules/realtime/domain"
)

// CommandHandler reacts to one inbound client frame.
type CommandHandler func(conn *domain.Connection, msg *domain.Message)

// CommandProcessor routes inbound frames by message type. Subscribe,
// unsubscribe, and ping are built in; anything else goes to the fallback
// or is answered with an error frame. The connection stays open either way.
type CommandProcessor struct {
	registry ConnectionRegistry
	handlers map[domain.MessageType]CommandHandler
	fallback CommandHandler
}

func NewCommandProcessor(registry ConnectionRegistry, fallback CommandHandler) *CommandProcessor {
	p := &CommandProcessor{
		registry: registry,
		handlers: make(map[domain.MessageType]CommandHandler),
		fallback: fallback,
	}
	p.Register(domain.TypeSubscribe, p.handleSubscribe)
	p.Register(domain.TypeUnsubscribe, p.handleUnsubscribe)
	p.Register(domain.TypePing, p.handlePing)
	return p
}

func (p *CommandProcessor) Register(msgType domain.MessageType, handler CommandHandler) {
	if handler == nil {
		return
	}
	p.handlers[msgType] = handler
}

func (p *CommandProcessor) Process(conn *domain.Connection, msg *domain.Message) {
	if conn == nil || msg == nil {
		return
	}
	if handler, ok := p.handlers[msg.Type]; ok {
		handler(conn, msg)
		return
	}
	if p.fallback != nil {
		p.fallback(conn, msg)
		return
	}
	slog.Debug("inbound frame ignored", slog.String("connectionId", conn.ID), slog.String("type", string(msg.Type)))
	_ = conn.Send(domain.NewErrorMessage("unsupported message type: " + string(msg.Type)))
}

func (p *CommandProcessor) handleSubscribe(conn *domain.Connection, msg *domain.Message) {
	channel := strings.TrimSpace(msg.Channel)
	if channel == "" {
		_ = conn.Send(domain.NewErrorMessage("subscribe requires a channel"))
		return
	}
	if err := p.registry.Subscribe(conn, channel); err != nil {
		slog.Warn("subscribe refused", slog.String("connectionId", conn.ID), slog.String("channel", channel), slog.Any("error", err))
		_ = conn.Send(domain.NewErrorMessage("subscription to " + channel + " refused"))
		return
	}
	slog.Debug("client subscribed", slog.String("connectionId", conn.ID), slog.String("channel", channel))
}

func (p *CommandProcessor) handleUnsubscribe(conn *domain.Connection, msg *domain.Message) {
	channel := strings.TrimSpace(msg.Channel)
	if channel == "" {
		return
	}
	p.registry.Unsubscribe(conn, channel)
	slog.Debug("client unsubscribed", slog.String("connectionId", conn.ID), slog.String("channel", channel))
}

func (p *CommandProcessor) handlePing(conn *domain.Connection, _ *domain.Message) {
	_ = conn.Send(domain.NewPongMessage())
}
