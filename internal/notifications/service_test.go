package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTaskCompleted, notifications.Payload{"title": "Example"}); err != nil {
		t.Fatalf("expected noop publisher to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "task completed",
			event:         notifications.EventTaskCompleted,
			payload:       notifications.Payload{"title": "Perovskite Cells", "task_id": "x", "stages": "extraction+analysis"},
			expectTitle:   "paperflow - Done",
			expectMessage: "✅ Perovskite Cells\nStages: extraction+analysis",
			expectTags:    "paperflow,task,completed",
		},
		{
			name:           "task failed without title",
			event:          notifications.EventTaskFailed,
			payload:        notifications.Payload{"task_id": "20240101_000000_a", "stage": "extraction", "error": "timeout"},
			expectTitle:    "paperflow - Failed",
			expectMessage:  "❌ 20240101_000000_a failed during extraction: timeout",
			expectTags:     "paperflow,task,error",
			expectPriority: "high",
		},
		{
			name:          "report ready",
			event:         notifications.EventReportReady,
			payload:       notifications.Payload{"report_id": "20240101_20240107_x"},
			expectTitle:   "paperflow - Report",
			expectMessage: "📝 Weekly report 20240101_20240107_x",
			expectTags:    "paperflow,weekly",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTestNotify, nil)
	if err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for unknown event")
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).Publish(context.Background(), notifications.Event("other"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
