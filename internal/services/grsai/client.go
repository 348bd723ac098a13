package grsai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

const (
	cnBaseURL      = "https://grsai.dakka.com.cn"
	globalBaseURL  = "https://api.grsai.com"
	defaultTimeout = 180 * time.Second
)

// Remote task statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ResolveBaseURL maps region aliases to service hosts. Explicit http(s) URLs
// pass through; anything else selects the CN host.
func ResolveBaseURL(value string) string {
	v := strings.TrimSpace(value)
	switch v {
	case "cn", "china", "domestic":
		return cnBaseURL
	case "global", "overseas", "intl":
		return globalBaseURL
	}
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return strings.TrimRight(v, "/")
	}
	return cnBaseURL
}

// Config describes how to reach the image generation service.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the nano-banana drawing API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a drawing client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    ResolveBaseURL(cfg.BaseURL),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL returns the resolved service host.
func (c *Client) BaseURL() string { return c.baseURL }

// DrawRequest is the nano-banana submission payload.
type DrawRequest struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	AspectRatio  string   `json:"aspectRatio"`
	ImageSize    string   `json:"imageSize"`
	URLs         []string `json:"urls"`
	WebHook      string   `json:"webHook"`
	ShutProgress bool     `json:"shutProgress"`
}

// Submission is the accepted remote task.
type Submission struct {
	ID  string
	Raw statestore.Object
}

// ResultItem is one generated image reference.
type ResultItem struct {
	URL     string
	Content string
}

// Result is a snapshot of a remote drawing task.
type Result struct {
	Status        string
	Progress      int
	FailureReason string
	Error         string
	Results       []ResultItem
	Raw           statestore.Object
}

// Terminal reports whether the remote task finished.
func (r Result) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Draw submits a generation request and returns the remote task id.
func (c *Client) Draw(ctx context.Context, req DrawRequest) (Submission, error) {
	if strings.TrimSpace(req.AspectRatio) == "" {
		req.AspectRatio = "auto"
	}
	if strings.TrimSpace(req.ImageSize) == "" {
		req.ImageSize = "1K"
	}
	if req.URLs == nil {
		req.URLs = []string{}
	}
	if req.WebHook == "" {
		req.WebHook = "-1"
	}
	raw, err := c.post(ctx, "/v1/draw/nano-banana", req)
	if err != nil {
		return Submission{}, services.Wrap(services.ErrExternalTool, "draw", "submit", "Drawing request failed", err)
	}
	id := strings.TrimSpace(payloadData(raw).Text("id", ""))
	if id == "" {
		return Submission{Raw: raw}, services.Wrap(services.ErrProtocol, "draw", "submit", "Unexpected nano-banana response: missing id", nil)
	}
	return Submission{ID: id, Raw: raw}, nil
}

// Result fetches the current state of a remote task.
func (c *Client) Result(ctx context.Context, id string) (Result, error) {
	raw, err := c.post(ctx, "/v1/draw/result", map[string]string{"id": id})
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "draw", "result", "Drawing result query failed", err)
	}
	data := payloadData(raw)
	result := Result{
		Status:        strings.TrimSpace(data.Text("status", "")),
		Progress:      data.Int("progress", 0),
		FailureReason: strings.TrimSpace(data.Text("failure_reason", "")),
		Error:         strings.TrimSpace(data.Text("error", "")),
		Raw:           data,
	}
	for _, item := range data.Array("results") {
		obj, ok := item.(statestore.Object)
		if !ok {
			continue
		}
		result.Results = append(result.Results, ResultItem{
			URL:     strings.TrimSpace(obj.Text("url", "")),
			Content: strings.TrimSpace(obj.Text("content", "")),
		})
	}
	return result, nil
}

// payloadData returns the "data" object when present, else the envelope.
func payloadData(raw statestore.Object) statestore.Object {
	if data := raw.Object("data"); data != nil {
		return data
	}
	return raw
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (statestore.Object, error) {
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "draw", "request", "Drawing API key is not configured (draw.api_key or GRSAI_API_KEY)", nil)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var raw statestore.Object
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw == nil {
		raw = statestore.Object{}
	}
	if code, ok := raw.Get("code"); ok {
		text := statestore.Text(code)
		if text != "0" {
			msg := raw.Text("msg", "")
			if msg == "" {
				msg = raw.Text("message", "request failed")
			}
			return nil, fmt.Errorf("%s (code=%s)", msg, text)
		}
	}
	return raw, nil
}
