package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/geo"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Config configures the webhook endpoint and the Send API.
type Config struct {
	Listen          string       `yaml:"listen" envconfig:"MESSENGER_LISTEN"`
	VerifyToken     string       `yaml:"verify_token" envconfig:"VERIFY_TOKEN"`
	PageAccessToken string       `yaml:"page_access_token" envconfig:"PAGE_ACCESS_TOKEN"`
	GraphURL        string       `yaml:"graph_url" envconfig:"GRAPH_URL"`
	Render          RenderConfig `yaml:"render"`
}

// Normalize applies defaults and validates secrets.
func (c *Config) Normalize() error {
	if c.Listen == "" {
		c.Listen = ":5000"
	}
	if c.VerifyToken == "" {
		return fmt.Errorf("messenger.verify_token is required")
	}
	if c.PageAccessToken == "" {
		return fmt.Errorf("messenger.page_access_token is required")
	}
	c.Render.normalize()
	return nil
}

// Dispatcher handles one decoded event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev conversation.Event) error
}

// Server is the Messenger webhook.
type Server struct {
	verifyToken string
	dispatcher  Dispatcher
	metrics     *metrics.Metrics
	srv         *http.Server
}

// NewServer builds the webhook server. m may be nil.
func NewServer(cfg Config, d Dispatcher, m *metrics.Metrics) *Server {
	s := &Server{verifyToken: cfg.VerifyToken, dispatcher: d, metrics: m}
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleVerify)
	r.Post("/", s.handleWebhook)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "fb", "http.listen", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("messenger: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("messenger: shutdown: %w", err)
	}
	logger.Info(ctx, "fb", "http.shutdown", slog.String("status", "ok"))
	return ctx.Err()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, status, time.Since(start))
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		ctx := logger.WithRID(r.Context(), middleware.GetReqID(r.Context()))
		logger.Debug(ctx, "fb", "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("http_status", strconv.Itoa(status)),
			slog.Duration("duration", logger.Took(start)),
		)
	})
}

// handleVerify answers the subscription handshake. A token mismatch is
// rejected whatever the other parameters are.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.verify_token") != s.verifyToken {
		logger.Warn(r.Context(), "fb", "webhook.verify", slog.String("status", "fail"))
		http.Error(w, "Verification token mismatch", http.StatusForbidden)
		return
	}
	logger.Info(r.Context(), "fb", "webhook.verify",
		slog.String("status", "ok"),
		slog.String("mode", q.Get("hub.mode")),
	)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				Coordinates *struct {
					Lat  float64 `json:"lat"`
					Long float64 `json:"long"`
				} `json:"coordinates"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
	Postback *struct {
		Payload string `json:"payload"`
	} `json:"postback"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		http.Error(w, "unsupported object", http.StatusBadRequest)
		return
	}

	ctx := logger.WithRID(context.WithoutCancel(r.Context()), middleware.GetReqID(r.Context()))
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			ev, ok := toEvent(m)
			if !ok {
				continue
			}
			if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
				logger.Error(ctx, "fb", "fb.dispatch",
					slog.String("status", "fail"),
					slog.String("user_id", ev.UserID),
					slog.String("err", err.Error()),
				)
			}
		}
	}
	_, _ = io.WriteString(w, "ok")
}

// toEvent decodes a messaging entry. Entries without a sender or without
// text, postback or location are skipped.
func toEvent(m messagingEvent) (conversation.Event, bool) {
	if m.Sender.ID == "" {
		return conversation.Event{}, false
	}
	ev := conversation.Event{Platform: Platform, UserID: m.Sender.ID}
	switch {
	case m.Postback != nil:
		ev.Text = m.Postback.Payload
	case m.Message != nil && m.Message.Text != "":
		ev.Text = m.Message.Text
	case m.Message != nil:
		for _, a := range m.Message.Attachments {
			if a.Type == "location" && a.Payload.Coordinates != nil {
				ev.Location = &geo.Point{Lat: a.Payload.Coordinates.Lat, Lon: a.Payload.Coordinates.Long}
				ev.Command = conversation.Command{Kind: conversation.KindLocation}
				return ev, true
			}
		}
		return conversation.Event{}, false
	default:
		return conversation.Event{}, false
	}
	ev.Command = Decode(ev.Text)
	return ev, true
}
