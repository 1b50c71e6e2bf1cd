package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"toporia/internal/config"
	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/platform/broker"
	"toporia/internal/platform/consumer"
	"toporia/internal/shared/logging"
)

var (
	brokerDriver string
	channel      string
	batchSize    int
	pollTimeout  time.Duration
	maxMessages  int
)

func main() {
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

	root := &cobra.Command{
		Use:   "worker",
		Short: "Batch consumers that drain realtime broker channels",
	}
	root.PersistentFlags().StringVar(&brokerDriver, "broker", string(cfg.Realtime.Broker), "broker driver (memory, redis, kafka)")
	root.PersistentFlags().StringVar(&channel, "channel", cfg.Worker.Channel, "channel to drain")
	root.PersistentFlags().IntVar(&batchSize, "batch-size", cfg.Worker.BatchSize, "records per released batch")
	root.PersistentFlags().DurationVar(&pollTimeout, "timeout", cfg.Kafka.PollTimeout, "broker poll timeout")
	root.PersistentFlags().IntVar(&maxMessages, "max-messages", cfg.Worker.MaxMessages, "stop after this many records (0 runs until a signal)")

	root.AddCommand(
		newBatchCmd(cfg),
		newRecordsCmd(cfg),
		newRawCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildFunc assembles the variant-specific worker over the shared broker
// and batching config.
type buildFunc func(b port.Broker, cfg consumer.Config, log *slog.Logger) (*consumer.Worker, error)

func runWorker(cfg *config.Config, build buildFunc) error {
	logger, closeLogs, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Directory: cfg.Logging.Directory,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	driver := port.BrokerDriver(brokerDriver)
	if driver == "" || driver == port.BrokerNone {
		return fmt.Errorf("broker driver %q: workers need a real broker", brokerDriver)
	}
	b, err := broker.New(broker.Config{
		Driver: driver,
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
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Disconnect(); err != nil {
			slog.Warn("broker disconnect failed", slog.Any("error", err))
		}
	}()

	w, err := build(b, consumer.Config{
		Channel:       channel,
		BatchSize:     batchSize,
		FlushInterval: cfg.Worker.FlushInterval,
		PollTimeout:   pollTimeout,
		MaxMessages:   maxMessages,
		SummaryEvery:  cfg.Worker.SummaryEvery,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}
