package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/core/state"
)

// Request is what a flow handler receives for one event.
type Request struct {
	Event Event
	// Token is a valid upstream bearer token.
	Token string
	// SessionKey identifies the user in the state store.
	SessionKey string
}

// Flow is a closed state machine.
type Flow[S ~string] interface {
	Initial() S
	// Parse maps a stored name back to a state; false for names outside the set.
	Parse(name string) (S, bool)
	Handle(ctx context.Context, current S, req Request) (S, error)
}

// TokenProvider yields a valid upstream token, refreshing as needed.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Dispatcher routes events through a Flow with persisted state.
type Dispatcher[S ~string] struct {
	flow    Flow[S]
	store   state.Store
	tokens  TokenProvider
	metrics *metrics.Metrics
	locks   *keyLock
}

// NewDispatcher wires a dispatcher. m may be nil.
func NewDispatcher[S ~string](flow Flow[S], store state.Store, tokens TokenProvider, m *metrics.Metrics) *Dispatcher[S] {
	return &Dispatcher[S]{
		flow:    flow,
		store:   store,
		tokens:  tokens,
		metrics: m,
		locks:   newKeyLock(),
	}
}

// Dispatch handles one event. Handler failures are logged and swallowed
// with the state left unchanged; token and store failures are returned.
func (d *Dispatcher[S]) Dispatch(ctx context.Context, ev Event) error {
	start := time.Now()
	key := state.Key(ev.Platform, ev.UserID)
	ctx = logger.WithSessionMeta(ctx, ev.Platform, key)

	token, err := d.tokens.Token(ctx)
	if err != nil {
		d.metrics.ObserveDispatch(ev.Platform, metrics.OutcomeToken, time.Since(start))
		logger.Error(ctx, "fsm", "fsm.token",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("conversation: token: %w", err)
	}

	unlock := d.locks.Lock(key)
	defer unlock()

	current, err := d.current(ctx, key, ev)
	if err != nil {
		d.metrics.ObserveDispatch(ev.Platform, metrics.OutcomeFail, time.Since(start))
		return err
	}
	ctx = logger.WithState(ctx, string(current))

	next, err := d.flow.Handle(ctx, current, Request{Event: ev, Token: token, SessionKey: key})
	if err != nil {
		d.metrics.ObserveDispatch(ev.Platform, metrics.OutcomeFail, time.Since(start))
		logger.Warn(ctx, "fsm", "fsm.handle",
			slog.String("status", "fail"),
			slog.String("state", string(current)),
			slog.String("command", ev.Command.String()),
			slog.String("err", err.Error()),
		)
		return nil
	}

	if err := d.store.Set(ctx, key, string(next)); err != nil {
		d.metrics.ObserveDispatch(ev.Platform, metrics.OutcomeFail, time.Since(start))
		return fmt.Errorf("conversation: save state: %w", err)
	}
	d.metrics.ObserveTransition(ev.Platform, string(current), string(next))
	d.metrics.ObserveDispatch(ev.Platform, metrics.OutcomeOK, time.Since(start))
	logger.Debug(ctx, "fsm", "fsm.transition",
		slog.String("status", "ok"),
		slog.String("from", string(current)),
		slog.String("to", string(next)),
		slog.String("command", ev.Command.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// current reads the recorded state, falling back to the initial state for
// absent or unknown names and for the reset command.
func (d *Dispatcher[S]) current(ctx context.Context, key string, ev Event) (S, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil {
		logger.Error(ctx, "fsm", "fsm.load",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("conversation: load state: %w", err)
	}
	if ev.IsStart() || !ok {
		return d.flow.Initial(), nil
	}
	s, known := d.flow.Parse(raw)
	if !known {
		logger.Warn(ctx, "fsm", "fsm.load",
			slog.String("status", "skip"),
			slog.String("reason", "unknown_state"),
			slog.String("state", raw),
		)
		return d.flow.Initial(), nil
	}
	return s, nil
}

// State returns the recorded state for a user without dispatching.
func (d *Dispatcher[S]) State(ctx context.Context, platform, user string) (S, error) {
	raw, ok, err := d.store.Get(ctx, state.Key(platform, user))
	if err != nil {
		return "", err
	}
	if !ok {
		return d.flow.Initial(), nil
	}
	if s, known := d.flow.Parse(raw); known {
		return s, nil
	}
	return d.flow.Initial(), nil
}
