package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paperflow/internal/config"
)

const userAgent = "paperflow/1.0"

// Event identifies what happened.
type Event string

const (
	EventTaskCompleted Event = "task_completed"
	EventTaskFailed    Event = "task_failed"
	EventReportReady   Event = "report_ready"
	EventTestNotify    Event = "test"
)

// Payload carries event details; unknown keys are ignored.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy publisher for cfg, or a no-op when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, payload Payload) (message, bool) {
	name := firstNonEmpty(payload["title"], payload["task_id"], "document")
	switch event {
	case EventTaskCompleted:
		body := fmt.Sprintf("✅ %s", name)
		if stages := payload["stages"]; stages != "" {
			body += "\nStages: " + stages
		}
		return message{title: "paperflow - Done", body: body, tags: []string{"paperflow", "task", "completed"}}, true
	case EventTaskFailed:
		body := fmt.Sprintf("❌ %s", name)
		if stage := payload["stage"]; stage != "" {
			body += " failed during " + stage
		}
		if msg := payload["error"]; msg != "" {
			body += ": " + msg
		}
		return message{title: "paperflow - Failed", body: body, tags: []string{"paperflow", "task", "error"}, priority: "high"}, true
	case EventReportReady:
		body := fmt.Sprintf("📝 Weekly report %s", firstNonEmpty(payload["report_id"], "ready"))
		return message{title: "paperflow - Report", body: body, tags: []string{"paperflow", "weekly"}}, true
	case EventTestNotify:
		return message{title: "paperflow - Test", body: "🧪 Notification test", tags: []string{"paperflow", "test"}, priority: "low"}, true
	default:
		return message{}, false
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
