package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"toporia/internal/config"
	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
	"toporia/internal/platform/consumer"
)

func newBatchCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Drain a channel and log each released batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cfg, func(b port.Broker, wcfg consumer.Config, log *slog.Logger) (*consumer.Worker, error) {
				return consumer.NewWorker(b, wcfg, func(batch []*domain.Message) error {
					events := map[string]int{}
					for _, msg := range batch {
						events[msg.Event]++
					}
					log.Info("batch drained",
						slog.Int("size", len(batch)),
						slog.Any("events", events))
					return nil
				}, log)
			})
		},
	}
}

func newRecordsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "Drain a channel and log every record individually",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cfg, func(b port.Broker, wcfg consumer.Config, log *slog.Logger) (*consumer.Worker, error) {
				return consumer.NewRecordWorker(b, wcfg, func(msg *domain.Message) error {
					log.Info("record drained",
						slog.String("id", msg.ID),
						slog.String("channel", msg.Channel),
						slog.String("event", msg.Event))
					return nil
				}, log)
			})
		},
	}
}

func newRawCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "raw",
		Short: "Drain a channel and print canonical JSON documents to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cfg, func(b port.Broker, wcfg consumer.Config, log *slog.Logger) (*consumer.Worker, error) {
				return consumer.NewRawWorker(b, wcfg, func(batch [][]byte) error {
					for _, doc := range batch {
						if _, err := fmt.Fprintf(os.Stdout, "%s\n", doc); err != nil {
							return fmt.Errorf("write record: %w", err)
						}
					}
					return nil
				}, log)
			})
		},
	}
}
