package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"toporia/internal/modules/realtime/application/port"
	"toporia/internal/modules/realtime/domain"
)

const (
	defaultPollTimeout  = time.Second
	defaultSummaryEvery = 30 * time.Second
)

// Config binds a worker to one channel and its batching window.
type Config struct {
	Channel       string
	BatchSize     int
	FlushInterval time.Duration
	PollTimeout   time.Duration
	MaxMessages   int
	SummaryEvery  time.Duration
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Channel) == "" {
		return ErrMissingChannel
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size %d: %w", c.BatchSize, ErrInvalidBatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval %s: %w", c.FlushInterval, ErrInvalidInterval)
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = defaultSummaryEvery
	}
	return nil
}

// BatchHandler receives each released batch. An error marks the whole
// batch failed; the worker logs it, counts it, and keeps consuming.
type BatchHandler func(batch []*domain.Message) error

// Worker drains one channel of a broker in batches. Records accumulate
// until the batch size is reached or the flush interval elapses, whichever
// comes first; whatever remains buffered is flushed on shutdown.
type Worker struct {
	broker  port.Broker
	cfg     Config
	handler BatchHandler
	log     *slog.Logger

	mu      sync.Mutex
	pending []*domain.Message

	received  atomic.Int64
	processed atomic.Int64
	failures  atomic.Int64
	quit      atomic.Bool
	stop      context.CancelFunc
	started   time.Time
}

// NewWorker validates the config and builds a worker. Invalid configs fail
// here, before anything touches the broker.
func NewWorker(broker port.Broker, cfg Config, handler BatchHandler, log *slog.Logger) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{broker: broker, cfg: cfg, handler: handler, log: log}, nil
}

// Run subscribes to the channel and consumes until the context is
// cancelled or the message bound is reached. Brokers with their own poll
// loop are driven through it; push brokers deliver straight into the
// subscription handler.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.stop = cancel
	w.started = time.Now()

	if err := w.broker.Subscribe(w.cfg.Channel, w.intake); err != nil {
		return fmt.Errorf("worker subscribe %s: %w", w.cfg.Channel, err)
	}
	defer func() {
		if err := w.broker.Unsubscribe(w.cfg.Channel); err != nil {
			w.log.Warn("worker unsubscribe failed",
				slog.String("channel", w.cfg.Channel),
				slog.Any("error", err))
		}
	}()
	w.log.Info("worker started",
		slog.String("channel", w.cfg.Channel),
		slog.Int("batchSize", w.cfg.BatchSize),
		slog.Duration("flushInterval", w.cfg.FlushInterval))

	loopDone := make(chan struct{})
	go w.flushLoop(ctx, loopDone)

	var runErr error
	if consumer, ok := w.broker.(port.Consumer); ok {
		go func() {
			<-ctx.Done()
			w.quit.Store(true)
			consumer.StopConsuming()
		}()
		if err := consumer.Consume(w.cfg.PollTimeout, w.cfg.BatchSize); err != nil {
			runErr = fmt.Errorf("worker consume: %w", err)
		}
	} else {
		<-ctx.Done()
	}
	w.quit.Store(true)

	cancel()
	<-loopDone
	_ = w.flush(w.take())
	w.logSummary("worker finished")
	return runErr
}

// intake buffers one record and releases a batch when the size limit is
// reached. The flush error propagates to the broker loop, which logs it
// and keeps going; retry or dead-lettering is the caller's layer.
func (w *Worker) intake(msg *domain.Message) error {
	if w.quit.Load() {
		return nil
	}

	w.mu.Lock()
	w.pending = append(w.pending, msg)
	var batch []*domain.Message
	if len(w.pending) >= w.cfg.BatchSize {
		batch, w.pending = w.pending, nil
	}
	w.mu.Unlock()

	if w.cfg.MaxMessages > 0 && w.received.Add(1) >= int64(w.cfg.MaxMessages) {
		w.quit.Store(true)
		w.stop()
	}
	return w.flush(batch)
}

func (w *Worker) take() []*domain.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = nil
	return batch
}

func (w *Worker) flush(batch []*domain.Message) error {
	if len(batch) == 0 {
		return nil
	}
	if err := w.handler(batch); err != nil {
		w.failures.Add(1)
		w.log.Error("batch handler failed",
			slog.String("channel", w.cfg.Channel),
			slog.Int("batchSize", len(batch)),
			slog.Any("error", err))
		return fmt.Errorf("handle batch of %d from %s: %w", len(batch), w.cfg.Channel, err)
	}
	w.processed.Add(int64(len(batch)))
	return nil
}

// flushLoop releases partial batches on the interval so records never sit
// buffered longer than the flush window, and emits progress summaries.
func (w *Worker) flushLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	flush := time.NewTicker(w.cfg.FlushInterval)
	defer flush.Stop()
	summary := time.NewTicker(w.cfg.SummaryEvery)
	defer summary.Stop()

	for {
		select {
		case <-flush.C:
			_ = w.flush(w.take())
		case <-summary.C:
			w.logSummary("worker progress")
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) logSummary(msg string) {
	elapsed := time.Since(w.started)
	processed := w.processed.Load()
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}
	w.log.Info(msg,
		slog.String("channel", w.cfg.Channel),
		slog.Int64("processed", processed),
		slog.Int64("failedBatches", w.failures.Load()),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
		slog.Float64("perSecond", rate))
}

// Processed reports records successfully handed to the handler.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// FailedBatches reports batches whose handler returned an error.
func (w *Worker) FailedBatches() int64 { return w.failures.Load() }
