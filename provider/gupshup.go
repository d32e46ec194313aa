package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/herald/job"
)

const gupshupDefaultEndpoint = "https://api.gupshup.io/sm/api/v1/msg"

// GupshupWhatsApp delivers chat messages through the Gupshup WhatsApp
// messaging API.
type GupshupWhatsApp struct {
	apiKey   string
	source   string
	srcName  string
	endpoint string
	client   *http.Client
}

// GupshupOption configures the Gupshup provider.
type GupshupOption func(*GupshupWhatsApp)

// WithGupshupEndpoint overrides the API endpoint, mainly for tests.
func WithGupshupEndpoint(u string) GupshupOption {
	return func(g *GupshupWhatsApp) { g.endpoint = u }
}

// WithGupshupHTTPClient replaces the HTTP client.
func WithGupshupHTTPClient(c *http.Client) GupshupOption {
	return func(g *GupshupWhatsApp) { g.client = c }
}

// NewGupshupWhatsApp creates a Gupshup WhatsApp provider. Source is the
// registered WhatsApp business number, srcName the app name shown to
// recipients.
func NewGupshupWhatsApp(apiKey, source, srcName string, opts ...GupshupOption) *GupshupWhatsApp {
	g := &GupshupWhatsApp{
		apiKey:   apiKey,
		source:   source,
		srcName:  srcName,
		endpoint: gupshupDefaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the provider identifier.
func (g *GupshupWhatsApp) ID() string { return "gupshup" }

// Channel returns the chat channel.
func (g *GupshupWhatsApp) Channel() job.StepType { return job.StepChat }

type gupshupResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

// Deliver posts the message as a form-encoded WhatsApp text message.
func (g *GupshupWhatsApp) Deliver(ctx context.Context, msg Message) (*Receipt, error) {
	payload, err := json.Marshal(map[string]string{
		"type": "text",
		"text": msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gupshup: marshal: %w", err)
	}

	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", g.source)
	form.Set("src.name", g.srcName)
	form.Set("destination", msg.Recipient)
	form.Set("message", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gupshup: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gupshup: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("herald/provider: gupshup: status %d: %s", resp.StatusCode, raw)
	}

	var out gupshupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &Receipt{}, nil
	}
	return &Receipt{MessageID: out.MessageID}, nil
}
