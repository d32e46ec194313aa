package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/herald/job"
)

const gotifyDefaultPriority = 5

// Gotify delivers push notifications through a Gotify server's message
// endpoint.
type Gotify struct {
	baseURL  string
	token    string
	priority int
	client   *http.Client
}

// GotifyOption configures the Gotify provider.
type GotifyOption func(*Gotify)

// WithGotifyPriority overrides the default message priority.
func WithGotifyPriority(p int) GotifyOption {
	return func(g *Gotify) { g.priority = p }
}

// WithGotifyHTTPClient replaces the HTTP client.
func WithGotifyHTTPClient(c *http.Client) GotifyOption {
	return func(g *Gotify) { g.client = c }
}

// NewGotify creates a Gotify provider targeting the given server.
func NewGotify(baseURL, token string, opts ...GotifyOption) *Gotify {
	g := &Gotify{
		baseURL:  baseURL,
		token:    token,
		priority: gotifyDefaultPriority,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the provider identifier.
func (g *Gotify) ID() string { return "gotify" }

// Channel returns the push channel.
func (g *Gotify) Channel() job.StepType { return job.StepPush }

type gotifyRequest struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

type gotifyResponse struct {
	ID int64 `json:"id"`
}

// Deliver posts the message to {baseURL}/message. The message
// Recipient overrides the configured server URL when set, so one
// provider can serve per-subscriber Gotify instances.
func (g *Gotify) Deliver(ctx context.Context, msg Message) (*Receipt, error) {
	base := g.baseURL
	if msg.Recipient != "" {
		base = msg.Recipient
	}

	endpoint, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gotify: parse url: %w", err)
	}
	endpoint = endpoint.JoinPath("message")
	q := endpoint.Query()
	q.Set("token", g.token)
	endpoint.RawQuery = q.Encode()

	body, err := json.Marshal(gotifyRequest{
		Title:    msg.Title,
		Message:  msg.Body,
		Priority: g.priority,
	})
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gotify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gotify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("herald/provider: gotify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("herald/provider: gotify: status %d: %s", resp.StatusCode, raw)
	}

	var out gotifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The message was accepted; a malformed body only costs the ID.
		return &Receipt{}, nil
	}
	return &Receipt{MessageID: strconv.FormatInt(out.ID, 10)}, nil
}
