package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// SendAsync enqueues run on the shared dispatcher, or runs it inline when
// no dispatcher is wired or the queue cannot accept the job.
func SendAsync(ctx context.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendTo delivers each of what to an arbitrary recipient, for example a
// courier chat. The messages share one job so they arrive in order.
func SendTo(ctx context.Context, bot tele.API, to tele.Recipient, action string, what ...any) error {
	return SendAsync(ctx, action, "sendMessage", func() error {
		for _, w := range what {
			if _, err := bot.Send(to, w); err != nil {
				return err
			}
		}
		return nil
	})
}
