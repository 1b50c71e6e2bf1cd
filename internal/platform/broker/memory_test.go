package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

func TestMemoryBrokerPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	var got []*domain.Message
	require.NoError(t, b.Subscribe("chat.1", func(msg *domain.Message) error {
		got = append(got, msg)
		return nil
	}))

	msg := domain.NewEventMessage("chat.1", "message.sent", nil)
	require.NoError(t, b.Publish("chat.1", msg))
	require.NoError(t, b.Publish("other", msg), "publishing to an unsubscribed channel is fine")

	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])
}

func TestMemoryBrokerHandlerErrorIsIsolated(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	require.NoError(t, b.Subscribe("chat.1", func(msg *domain.Message) error {
		return errors.New("boom")
	}))
	var reached bool
	require.NoError(t, b.Subscribe("chat.1", func(msg *domain.Message) error {
		reached = true
		return nil
	}))

	require.NoError(t, b.Publish("chat.1", domain.NewEventMessage("chat.1", "x", nil)))
	assert.True(t, reached, "second handler must run despite the first failing")
}

func TestMemoryBrokerUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	var calls int
	require.NoError(t, b.Subscribe("chat.1", func(msg *domain.Message) error {
		calls++
		return nil
	}))

	count, err := b.SubscriberCount("chat.1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, b.Unsubscribe("chat.1"))
	require.NoError(t, b.Publish("chat.1", domain.NewEventMessage("chat.1", "x", nil)))
	assert.Zero(t, calls)

	count, err = b.SubscriberCount("chat.1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryBrokerDisconnect(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	require.True(t, b.IsConnected())
	require.NoError(t, b.Disconnect())
	require.False(t, b.IsConnected())

	require.ErrorIs(t, b.Publish("chat.1", domain.NewEventMessage("chat.1", "x", nil)), port.ErrNotConnected)
	require.ErrorIs(t, b.Subscribe("chat.1", func(msg *domain.Message) error { return nil }), port.ErrNotConnected)
	require.NoError(t, b.Disconnect(), "second disconnect is a no-op")
}
