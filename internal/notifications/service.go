package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slidereel/internal/config"
)

const userAgent = "Slidereel-Go/0.1.0"

// Event identifies a notification-worthy moment in a job's life.
type Event string

const (
	EventJobSubmitted Event = "job_submitted"
	EventJobStarted   Event = "job_started"
	EventJobProgress  Event = "job_progress"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
	EventDaemonStart  Event = "daemon_started"
	EventDaemonStop   Event = "daemon_stopped"
	EventError        Event = "error"
	EventTest         Event = "test"
)

// Payload carries event context for message formatting.
type Payload map[string]string

// Service is the push-notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		jobEvents: cfg.Notifications.JobEvents,
		errors:    cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	jobEvents bool
	errors    bool
}

// Publish formats and sends one event. Events disabled by configuration are
// silently dropped.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}

	filename := strings.TrimSpace(payload["filename"])
	if filename == "" {
		filename = "presentation"
	}

	var data message
	switch event {
	case EventJobSubmitted:
		data = message{
			title: "Slidereel - Job Submitted",
			body:  fmt.Sprintf("Queued for conversion: %s", filename),
			tags:  []string{"slidereel", "job", "submitted"},
		}
	case EventJobStarted:
		data = message{
			title: "Slidereel - Processing",
			body:  fmt.Sprintf("Started converting: %s", filename),
			tags:  []string{"slidereel", "job", "started"},
		}
	case EventJobCompleted:
		body := fmt.Sprintf("Video ready: %s", filename)
		if duration := strings.TrimSpace(payload["duration"]); duration != "" {
			body = fmt.Sprintf("%s (%s)", body, duration)
		}
		data = message{
			title:    "Slidereel - Complete",
			body:     body,
			tags:     []string{"slidereel", "job", "completed"},
			priority: "high",
		}
	case EventJobFailed:
		body := fmt.Sprintf("Conversion failed: %s", filename)
		if reason := strings.TrimSpace(payload["reason"]); reason != "" {
			body = fmt.Sprintf("%s\n%s", body, reason)
		}
		data = message{
			title:    "Slidereel - Failed",
			body:     body,
			tags:     []string{"slidereel", "job", "failed"},
			priority: "high",
		}
	case EventJobCancelled:
		data = message{
			title: "Slidereel - Cancelled",
			body:  fmt.Sprintf("Conversion cancelled: %s", filename),
			tags:  []string{"slidereel", "job", "cancelled"},
		}
	case EventDaemonStart:
		data = message{
			title: "Slidereel - Daemon Started",
			body:  "Conversion daemon is accepting jobs",
			tags:  []string{"slidereel", "daemon", "started"},
		}
	case EventDaemonStop:
		data = message{
			title: "Slidereel - Daemon Stopped",
			body:  "Conversion daemon shut down",
			tags:  []string{"slidereel", "daemon", "stopped"},
		}
	case EventError:
		body := strings.TrimSpace(payload["error"])
		if body == "" {
			body = "unknown error"
		}
		if label := strings.TrimSpace(payload["context"]); label != "" {
			body = fmt.Sprintf("Error with %s: %s", label, body)
		} else {
			body = "Error: " + body
		}
		data = message{
			title:    "Slidereel - Error",
			body:     body,
			tags:     []string{"slidereel", "error", "alert"},
			priority: "high",
		}
	case EventTest:
		data = message{
			title:    "Slidereel - Test",
			body:     "Notification system test",
			tags:     []string{"slidereel", "test"},
			priority: "low",
		}
	default:
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventError:
		return n.errors
	case EventJobSubmitted, EventJobStarted, EventJobCompleted, EventJobFailed, EventJobCancelled:
		return n.jobEvents
	default:
		return true
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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
