package transport

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"toporia/internal/modules/realtime/application"
)

type ChannelInfoResponse struct {
	Name              string `json:"name"`
	Visibility        string `json:"visibility"`
	Subscribers       int    `json:"subscribers"`
	BrokerSubscribers *int   `json:"broker_subscribers,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Channels    int    `json:"channels"`
}

// NewChannelInfoHandler serves GET /channels/:name. Channels materialize on
// first subscribe or broadcast, so an unknown name is a 404, not an empty
// channel. The broker count is best-effort: absent without a broker, and
// omitted with a warning when the broker cannot answer.
func NewChannelInfoHandler(manager *application.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		ch, ok := manager.LookupChannel(name)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}

		resp := ChannelInfoResponse{
			Name:        ch.Name,
			Visibility:  string(ch.Visibility),
			Subscribers: ch.SubscriberCount(),
		}
		if broker, err := manager.Broker(""); err == nil {
			if count, err := broker.SubscriberCount(name); err == nil {
				resp.BrokerSubscribers = &count
			} else {
				slog.Warn("broker subscriber count failed", slog.String("channel", name), slog.Any("error", err))
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// NewHealthHandler serves GET /healthz.
func NewHealthHandler(manager *application.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Connections: manager.ConnectionCount(),
			Channels:    manager.ChannelCount(),
		})
	}
}
