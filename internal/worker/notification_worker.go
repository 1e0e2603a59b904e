package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/events"
	"github.com/spec-kit/query-service/internal/service"
)

const (
	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

// Workers tracks the background observer loops.
type Workers struct {
	wg     sync.WaitGroup
	logger *zap.Logger
}

// StartNotificationWorker launches the notification observer and, when
// configured, the Redis relay feeding remote events into the local hub.
// Either argument may be nil.
func StartNotificationWorker(ctx context.Context, logger *zap.Logger, notifications *service.NotificationService, relay *events.RedisBroadcaster) *Workers {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workers{logger: logger}

	if notifications != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			notifications.Run(ctx)
			logger.Info("notification worker stopped")
		}()
	}

	if relay != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runRelay(ctx, relay)
		}()
	}
	return w
}

// runRelay keeps the Redis subscription alive, backing off between failures.
func (w *Workers) runRelay(ctx context.Context, relay *events.RedisBroadcaster) {
	backoff := relayRetryMin
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			w.logger.Info("event relay stopped")
			return
		}
		if err != nil {
			w.logger.Warn("event relay failed; retrying", zap.Error(err), zap.Duration("backoff", backoff))
		} else {
			backoff = relayRetryMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err != nil && backoff < relayRetryMax {
			backoff *= 2
			if backoff > relayRetryMax {
				backoff = relayRetryMax
			}
		}
	}
}

// Wait blocks until every loop has exited.
func (w *Workers) Wait() {
	w.wg.Wait()
}
