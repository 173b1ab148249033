package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	coredatabase "github.com/m3rciful/pizzabot/core/database"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/state"
)

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config   *coreconfig.Config
	Session  state.Config
	Database coredatabase.Config

	LoggerInit func(*coreconfig.Config) error
	// OpenStore overrides backend selection, mainly for tests.
	OpenStore func(ctx context.Context, session state.Config, db coredatabase.Config) (state.Store, io.Closer, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store  state.Store
	closer io.Closer
}

// Close releases the session backend.
func (r *Result) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Run initializes the logger and opens the configured session store.
// The postgres backend also connects and applies migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	if err := opts.Session.Normalize(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	open := opts.OpenStore
	if open == nil {
		open = OpenStore
	}
	store, closer, err := open(ctx, opts.Session, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: session store initialization failed: %w", err)
	}
	logger.Store.Info("session store ready",
		slog.String("event", "store.ready"),
		slog.String("backend", opts.Session.Backend),
	)

	return &Result{Store: store, closer: closer}, nil
}

// OpenStore opens the backend named by session.Backend.
func OpenStore(ctx context.Context, session state.Config, db coredatabase.Config) (state.Store, io.Closer, error) {
	switch session.Backend {
	case state.BackendMemory:
		return state.NewMemoryStore(), nil, nil
	case state.BackendRedis:
		s, err := state.OpenRedis(ctx, session.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case state.BackendPostgres:
		conn, err := coredatabase.Connect(ctx, db)
		if err != nil {
			return nil, nil, fmt.Errorf("database initialization failed: %w", err)
		}
		if err := coredatabase.RunMigrations(ctx, db); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		s := state.NewPostgresStore(conn)
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", session.Backend)
	}
}
