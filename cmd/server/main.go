package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"toporia/internal/config"
	"toporia/internal/modules/realtime/application"
	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/infrastructure"
	transport "toporia/internal/modules/realtime/interface"
	"toporia/internal/platform/broker"
	"toporia/internal/shared/auth"
	"toporia/internal/shared/logging"
)

func main() {
	// Load variables from .env so local runs honour configuration tweaks.
	if err := godotenv.Overload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLogs, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Directory: cfg.Logging.Directory,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer closeLogs()
	slog.SetDefault(logger)
	slog.Info("logging initialized", slog.String("directory", cfg.Logging.Directory), slog.String("level", cfg.Logging.Level), slog.String("format", cfg.Logging.Format))
	slog.Info("realtime config resolved", slog.String("transport", string(cfg.Realtime.Transport)), slog.String("broker", string(cfg.Realtime.Broker)))

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithChannelAuthorizer(auth.ChannelAuthorizer),
		application.WithDefaultTransport(string(cfg.Realtime.Transport)),
	}
	if cfg.Realtime.Broker != port.BrokerNone {
		opts = append(opts,
			application.WithDefaultBroker(string(cfg.Realtime.Broker)),
			application.WithBrokerFactory(func(name string) (port.Broker, error) {
				return broker.New(broker.Config{
					Driver: port.BrokerDriver(name),
					Kafka: broker.KafkaConfig{
						Brokers:            cfg.Kafka.Brokers,
						Prefix:             cfg.Kafka.TopicPrefix,
						GroupID:            cfg.Kafka.GroupID,
						Client:             cfg.Kafka.Client,
						BufferSize:         cfg.Kafka.BufferSize,
						FlushInterval:      cfg.Kafka.FlushInterval,
						PollTimeout:        cfg.Kafka.PollTimeout,
						BatchFlushEvery:    cfg.Kafka.BatchFlushEvery,
						BatchFlushInterval: cfg.Kafka.BatchFlushInterval,
					},
					Redis: broker.RedisConfig{
						Addr:     cfg.Redis.Addr,
						Password: cfg.Redis.Password,
						DB:       cfg.Redis.DB,
						Prefix:   cfg.Redis.Prefix,
					},
				}, logger)
			}),
		)
	}

	var manager *application.Manager
	opts = append(opts, application.WithTransportFactory(func(name string) (port.Transport, error) {
		return infrastructure.NewTransport(infrastructure.TransportConfig{
			Driver:    port.TransportDriver(name),
			WebSocket: infrastructure.WebSocketConfig{SendBuffer: cfg.Realtime.SendBuffer},
			SSE:       infrastructure.SSEConfig{SendBuffer: cfg.Realtime.SendBuffer},
		}, manager)
	}))
	manager = application.NewManager(opts...)

	wst, err := manager.Transport(string(port.TransportWebSocket))
	if err != nil {
		slog.Error("websocket transport init failed", slog.Any("error", err))
		os.Exit(1)
	}
	sset, err := manager.Transport(string(port.TransportSSE))
	if err != nil {
		slog.Error("sse transport init failed", slog.Any("error", err))
		os.Exit(1)
	}
	wsTransport := wst.(*infrastructure.WebSocketTransport)
	sseTransport := sset.(*infrastructure.SSETransport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Realtime.Broker != port.BrokerNone && len(cfg.Relay.Channels) > 0 {
		b, err := manager.Broker("")
		if err != nil {
			slog.Error("broker init failed", slog.Any("error", err))
			os.Exit(1)
		}
		relay := application.NewRelay(manager, b, application.RelayConfig{
			Channels:    cfg.Relay.Channels,
			PollTimeout: cfg.Relay.PollTimeout,
			BatchSize:   cfg.Relay.BatchSize,
		}, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				slog.Error("relay stopped", slog.Any("error", err))
			}
		}()
	}

	validator := auth.NewJWTValidator(cfg.Security.JWTSecret)

	e := echo.New()
	e.Logger.SetOutput(log.Writer())
	e.GET("/ws", transport.NewWebsocketHandler(wsTransport, validator))
	e.GET("/sse", transport.NewSSEHandler(sseTransport, manager, validator))
	e.POST("/broadcast", transport.NewBroadcastHandler(manager))
	e.GET("/channels/:name", transport.NewChannelInfoHandler(manager))
	e.GET("/healthz", transport.NewHealthHandler(manager))

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil {
			slog.Error("http server stopped", slog.Any("error", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")
	cancel()
	e.Close()
	if b, err := manager.Broker(""); err == nil {
		if err := b.Disconnect(); err != nil {
			slog.Warn("broker disconnect failed", slog.Any("error", err))
		}
	}
}
