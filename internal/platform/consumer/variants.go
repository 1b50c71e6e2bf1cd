package consumer

import (
	"errors"
	"fmt"
	"log/slog"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

// RecordHandler receives records one at a time.
type RecordHandler func(msg *domain.Message) error

// NewRecordWorker adapts per-record handling onto the batch core. A failing
// record is logged and counted without aborting the rest of its batch; the
// joined error still marks the batch failed.
func NewRecordWorker(broker port.Broker, cfg Config, handler RecordHandler, log *slog.Logger) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	adapter := func(batch []*domain.Message) error {
		var errs []error
		for _, msg := range batch {
			if err := handler(msg); err != nil {
				log.Warn("record handler failed",
					slog.String("channel", cfg.Channel),
					slog.String("messageId", msg.ID),
					slog.Any("error", err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return NewWorker(broker, cfg, adapter, log)
}

// RawBatchHandler receives each batch as canonical JSON documents, for
// sinks that forward bytes without interpreting them.
type RawBatchHandler func(batch [][]byte) error

// NewRawWorker adapts opaque-payload handling onto the batch core.
func NewRawWorker(broker port.Broker, cfg Config, handler RawBatchHandler, log *slog.Logger) (*Worker, error) {
	adapter := func(batch []*domain.Message) error {
		raw := make([][]byte, 0, len(batch))
		for _, msg := range batch {
			encoded, err := msg.Encode()
			if err != nil {
				return fmt.Errorf("encode record %s: %w", msg.ID, err)
			}
			raw = append(raw, encoded)
		}
		return handler(raw)
	}
	return NewWorker(broker, cfg, adapter, log)
}
