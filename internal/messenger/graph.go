package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// Generic template limits enforced by the Graph API.
const (
	MaxCards          = 10
	MaxButtonsPerCard = 3
)

const defaultGraphURL = "https://graph.facebook.com/v2.6"

// Button is a postback button.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Card is one element of a generic template.
type Card struct {
	Title    string
	ImageURL string
	Subtitle string
	Buttons  []Button
}

// GraphClient sends messages through the Send API.
type GraphClient struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

// NewGraphClient builds a client; httpClient defaults to http.DefaultClient.
func NewGraphClient(baseURL, pageAccessToken string, httpClient *http.Client) *GraphClient {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultGraphURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GraphClient{baseURL: base, accessToken: pageAccessToken, http: httpClient}
}

type recipient struct {
	ID string `json:"id"`
}

type buttonDTO struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type elementDTO struct {
	Title    string      `json:"title"`
	ImageURL string      `json:"image_url,omitempty"`
	Subtitle string      `json:"subtitle,omitempty"`
	Buttons  []buttonDTO `json:"buttons,omitempty"`
}

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   any       `json:"message"`
}

// SendText sends a plain text message.
func (g *GraphClient) SendText(ctx context.Context, to, text string) error {
	return g.send(ctx, "text", sendRequest{
		Recipient: recipient{ID: to},
		Message:   map[string]string{"text": text},
	})
}

// SendCards sends a generic template, truncated to the API limits.
func (g *GraphClient) SendCards(ctx context.Context, to string, cards []Card) error {
	elements := make([]elementDTO, 0, min(len(cards), MaxCards))
	for i, c := range cards {
		if i == MaxCards {
			break
		}
		el := elementDTO{Title: c.Title, ImageURL: c.ImageURL, Subtitle: c.Subtitle}
		for j, b := range c.Buttons {
			if j == MaxButtonsPerCard {
				break
			}
			el.Buttons = append(el.Buttons, buttonDTO{Type: "postback", Title: b.Title, Payload: b.Payload})
		}
		elements = append(elements, el)
	}
	return g.send(ctx, "cards", sendRequest{
		Recipient: recipient{ID: to},
		Message: map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "generic",
					"elements":      elements,
				},
			},
		},
	})
}

func (g *GraphClient) send(ctx context.Context, kind string, body sendRequest) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("graph: encode: %w", err)
	}
	endpoint := g.baseURL + "/me/messages?" + url.Values{"access_token": {g.accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "fb", "fb.send",
			slog.String("status", "fail"),
			slog.String("kind", kind),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("graph: send %s: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn(ctx, "fb", "fb.send",
			slog.String("status", "fail"),
			slog.String("kind", kind),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("graph: send %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "fb", "fb.send",
			slog.String("status", "ok"),
			slog.String("kind", kind),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}
