package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// sendTimeout bounds every outbound channel call.
const sendTimeout = 15 * time.Second

// Hub fans an event out across the enabled channels concurrently. A single
// channel failing never blocks the others.
type Hub struct {
	channels    []domain.Notifier
	logger      *zap.Logger
	limiter     *rate.Limiter
	notifyAfterComplete bool
}

// NewHub builds a hub. notifyAfterComplete gates task-start/task-complete
// events globally; product notifications always fire.
func NewHub(channels []domain.Notifier, notifyAfterComplete bool, logger *zap.Logger) *Hub {
	return &Hub{
		channels: channels,
		logger:   logger,
		// Notification bursts are paced so a page full of hits does not
		// hammer every provider at once.
		limiter:             rate.NewLimiter(rate.Limit(2), 4),
		notifyAfterComplete: notifyAfterComplete,
	}
}

// Enabled returns the currently enabled channel names.
func (h *Hub) Enabled() []string {
	var names []string
	for _, ch := range h.channels {
		if ch.Enabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

func (h *Hub) fanOut(ctx context.Context, send func(ctx context.Context, ch domain.Notifier) error) map[string]bool {
	if err := h.limiter.Wait(ctx); err != nil {
		h.logger.Warn("notification pacing interrupted", zap.Error(err))
	}
	results := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ch := range h.channels {
		if !ch.Enabled() {
			continue
		}
		wg.Add(1)
		go func(ch domain.Notifier) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			err := send(sendCtx, ch)
			if err != nil {
				h.logger.Warn("notification failed",
					zap.String("channel", ch.Name()), zap.Error(err))
			}
			mu.Lock()
			results[ch.Name()] = err == nil
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	return results
}

// SendProduct dispatches a listing card to every enabled channel and returns
// the per-channel success map.
func (h *Hub) SendProduct(ctx context.Context, record *domain.FinalRecord, reason string) map[string]bool {
	return h.fanOut(ctx, func(ctx context.Context, ch domain.Notifier) error {
		return ch.SendProduct(ctx, record, reason)
	})
}

// SendTaskStart dispatches a task-start notice unless suppressed.
func (h *Hub) SendTaskStart(ctx context.Context, taskName, reason string) map[string]bool {
	if !h.notifyAfterComplete {
		return nil
	}
	return h.fanOut(ctx, func(ctx context.Context, ch domain.Notifier) error {
		return ch.SendTaskStart(ctx, taskName, reason)
	})
}

// SendTaskComplete dispatches a task-completion notice unless suppressed.
func (h *Hub) SendTaskComplete(ctx context.Context, taskName, reason string, processed, recommended int) map[string]bool {
	if !h.notifyAfterComplete {
		return nil
	}
	return h.fanOut(ctx, func(ctx context.Context, ch domain.Notifier) error {
		return ch.SendTaskComplete(ctx, taskName, reason, processed, recommended)
	})
}

// SendTest probes every enabled channel.
func (h *Hub) SendTest(ctx context.Context) map[string]bool {
	return h.fanOut(ctx, func(ctx context.Context, ch domain.Notifier) error {
		return ch.SendTest(ctx)
	})
}
