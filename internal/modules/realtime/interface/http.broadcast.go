package transport

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"toporia/internal/modules/realtime/application"
	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/shared/httputil"
)

type BroadcastRequest struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

type BroadcastResponse struct {
	Success     bool   `json:"success"`
	Channel     string `json:"channel"`
	Event       string `json:"event"`
	Subscribers int    `json:"subscribers"`
}

// NewBroadcastHandler serves POST /broadcast: fan an event out to every
// local subscriber of a channel and, when a broker is configured, publish
// it for the other nodes.
func NewBroadcastHandler(manager *application.Manager) echo.HandlerFunc {
	errMapper := httputil.NewErrorMapper().
		WithMapping(port.ErrNotConnected, http.StatusBadGateway, "broker unavailable").
		WithMapping(port.ErrUnknownDriver, http.StatusInternalServerError, "broker misconfigured").
		WithDefault(http.StatusInternalServerError, "broadcast failed")

	return func(c echo.Context) error {
		var req BroadcastRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		req.Channel = strings.TrimSpace(req.Channel)
		req.Event = strings.TrimSpace(req.Event)
		if req.Channel == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
		}
		if req.Event == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "event is required")
		}

		subscribers := manager.Channel(req.Channel).SubscriberCount()
		if err := manager.Broadcast(req.Channel, req.Event, req.Data); err != nil {
			info := errMapper.Map(err)
			slog.Error("broadcast failed", slog.String("channel", req.Channel), slog.String("event", req.Event), slog.Any("error", err))
			return echo.NewHTTPError(info.Status, info.Message)
		}

		return c.JSON(http.StatusOK, BroadcastResponse{
			Success:     true,
			Channel:     req.Channel,
			Event:       req.Event,
			Subscribers: subscribers,
		})
	}
}
