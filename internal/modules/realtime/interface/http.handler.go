package transport

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"toporia/internal/modules/realtime/application"
	"toporia/internal/modules/realtime/domain"
	"toporia/internal/modules/realtime/infrastructure"
	"toporia/internal/shared/auth"
	"toporia/internal/shared/httputil"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func authErrors() *httputil.ErrorMapper {
	return httputil.NewErrorMapper().
		WithMapping(auth.ErrMissingToken, http.StatusBadRequest, "missing token").
		WithMapping(auth.ErrInvalidToken, http.StatusUnauthorized, "invalid token")
}

// connectionClaims resolves the optional token. Anonymous connections are
// allowed; they just cannot pass channel authorizers later.
func connectionClaims(c echo.Context, validator auth.TokenValidator) (*auth.Claims, error) {
	token := auth.ExtractToken(c.Request(), "token")
	if token == "" {
		return nil, nil
	}
	return validator.Validate(token)
}

// NewWebsocketHandler serves GET /ws: resolve the token, upgrade, attach
// the socket, and let the pumps own it from there.
func NewWebsocketHandler(
	ws *infrastructure.WebSocketTransport,
	validator auth.TokenValidator,
) echo.HandlerFunc {
	errMapper := authErrors()

	return func(c echo.Context) error {
		claims, err := connectionClaims(c, validator)
		if err != nil {
			info := errMapper.Map(err)
			slog.Warn("ws connect rejected", slog.Int("status", info.Status), slog.Any("error", err))
			return echo.NewHTTPError(info.Status, info.Message)
		}

		sock, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			slog.Error("ws upgrade failed", slog.Any("error", err))
			return err
		}

		client, conn := ws.Attach(sock)
		userID := ""
		if claims != nil {
			userID = claims.UserID
			for key, value := range claims.ConnectionMetadata() {
				conn.SetMetadata(key, value)
			}
		}

		go client.WritePump()
		go client.ReadPump()

		connected := domain.NewEventMessage("", domain.EventConnected, map[string]any{
			"connection_id": conn.ID,
			"user_id":       userID,
		})
		_ = conn.Send(connected)
		slog.Info("ws connected", slog.String("connectionId", conn.ID), slog.String("userId", userID))
		return nil
	}
}

// NewSSEHandler serves GET /sse?channels=a,b: subscribe to the requested
// channels and stream events until the client goes away.
func NewSSEHandler(
	sse *infrastructure.SSETransport,
	manager *application.Manager,
	validator auth.TokenValidator,
) echo.HandlerFunc {
	errMapper := authErrors()

	return func(c echo.Context) error {
		claims, err := connectionClaims(c, validator)
		if err != nil {
			info := errMapper.Map(err)
			slog.Warn("sse connect rejected", slog.Int("status", info.Status), slog.Any("error", err))
			return echo.NewHTTPError(info.Status, info.Message)
		}

		conn := sse.Attach()
		userID := ""
		if claims != nil {
			userID = claims.UserID
			for key, value := range claims.ConnectionMetadata() {
				conn.SetMetadata(key, value)
			}
		}

		var subscribed []string
		for _, name := range splitChannels(c.QueryParam("channels")) {
			if err := manager.Subscribe(conn, name); err != nil {
				slog.Warn("sse subscribe refused", slog.String("connectionId", conn.ID), slog.String("channel", name), slog.Any("error", err))
				_ = conn.Send(domain.NewErrorMessage("subscription to " + name + " refused"))
				continue
			}
			subscribed = append(subscribed, name)
		}

		connected := domain.NewEventMessage("", domain.EventConnected, map[string]any{
			"connection_id": conn.ID,
			"user_id":       userID,
			"channels":      subscribed,
		})
		_ = conn.Send(connected)
		slog.Info("sse connected", slog.String("connectionId", conn.ID), slog.String("userId", userID), slog.Any("channels", subscribed))

		return sse.Serve(c.Request().Context(), c.Response(), conn)
	}
}

func splitChannels(raw string) []string {
	parts := strings.Split(raw, ",")
	channels := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			channels = append(channels, trimmed)
		}
	}
	return channels
}
