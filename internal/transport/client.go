package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/occasio/occasio/internal/config"
)

// Client talks to the chat bridge over HTTP. The bridge owns the actual
// device session; this service only pushes text and reads connection state.
type Client struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
	http    *http.Client
}

// NewClient creates a bridge client. A missing base URL is allowed; every
// call then fails with ErrNotConfigured so the rest of the service keeps
// working without a bridge.
func NewClient(log *slog.Logger, cfg config.TransportConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		logger:  log.With(slog.String("client", "transport")),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// SendText delivers one text message through the bridge.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	payload, err := json.Marshal(sendRequest{To: to, Body: body})
	if err != nil {
		return "", err
	}
	var parsed sendResponse
	if err := c.do(ctx, http.MethodPost, "/send", payload, &parsed); err != nil {
		return "", fmt.Errorf("transport send: %w", err)
	}
	return parsed.MessageID, nil
}

// Status reports the bridge connection state.
func (c *Client) Status(ctx context.Context) (StatusInfo, error) {
	if c.baseURL == "" {
		return StatusInfo{State: "not_configured"}, nil
	}
	var info StatusInfo
	if err := c.do(ctx, http.MethodGet, "/status", nil, &info); err != nil {
		return StatusInfo{}, fmt.Errorf("transport status: %w", err)
	}
	return info, nil
}

// QR fetches the pairing payload, when the bridge has one pending.
func (c *Client) QR(ctx context.Context) (QRInfo, error) {
	if c.baseURL == "" {
		return QRInfo{}, ErrNotConfigured
	}
	var info QRInfo
	if err := c.do(ctx, http.MethodGet, "/qr", nil, &info); err != nil {
		return QRInfo{}, fmt.Errorf("transport qr: %w", err)
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bridge error: %s", strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
