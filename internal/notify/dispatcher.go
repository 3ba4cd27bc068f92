// File: internal/notify/dispatcher.go
// The notification dispatcher delivers checkpoint events to every configured
// channel. Channels are attempted independently: a dead webhook never blocks
// the email, and vice versa. Delivery is best-effort with bounded retries;
// a failed delivery is recorded and the pipeline proceeds regardless.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ttsops/secflow/api/schemas"
	"github.com/ttsops/secflow/internal/config"
)

// Sink delivers one event to one channel.
type Sink interface {
	Channel() schemas.Channel
	Send(ctx context.Context, event schemas.NotificationEvent) error
}

// Dispatcher fans one event out to all sinks and reports per-channel status.
type Dispatcher struct {
	sinks      []Sink
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger

	// sleep is injectable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(cfg config.NotifyConfig, sinks []Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sinks:      sinks,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger.Named("notify"),
		sleep:      sleepCtx,
	}
}

// SinksFromConfig builds the enabled sinks.
func SinksFromConfig(cfg config.NotifyConfig, logger *zap.Logger) []Sink {
	var sinks []Sink
	if cfg.Chat.Enabled {
		sinks = append(sinks, NewChatSink(cfg.Chat))
	}
	if cfg.Email.Enabled {
		sinks = append(sinks, NewEmailSink(cfg.Email))
	}
	return sinks
}

// Notify implements schemas.Notifier. It never returns an error; the
// per-channel outcomes are the result.
func (d *Dispatcher) Notify(ctx context.Context, event schemas.NotificationEvent) []schemas.DeliveryStatus {
	statuses := make([]schemas.DeliveryStatus, len(d.sinks))

	var wg sync.WaitGroup
	for i, sink := range d.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = d.deliver(ctx, sink, event)
		}()
	}
	wg.Wait()

	for _, s := range statuses {
		if s.State == schemas.DeliveryFailed {
			d.logger.Warn("Notification delivery failed",
				zap.String("run_id", event.RunID),
				zap.String("checkpoint", string(event.Checkpoint)),
				zap.String("channel", string(s.Channel)),
				zap.Int("attempts", s.Attempts),
				zap.String("error", s.Error))
		}
	}
	return statuses
}

// deliver attempts one sink with the retry budget and exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event schemas.NotificationEvent) schemas.DeliveryStatus {
	status := schemas.DeliveryStatus{Channel: sink.Channel()}

	var err error
	for attempt := 1; attempt <= d.maxRetries+1; attempt++ {
		status.Attempts = attempt
		if err = sink.Send(ctx, event); err == nil {
			status.State = schemas.DeliverySent
			return status
		}
		if attempt <= d.maxRetries {
			// Doubling backoff: backoff, 2*backoff, 4*backoff, ...
			delay := d.backoff << (attempt - 1)
			if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
				break
			}
		}
	}

	status.State = schemas.DeliveryFailed
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
