package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/infra"
)

// Channel is one pluggable alert delivery path. Delivery failure of one
// channel must not suppress the others; the manager isolates each call.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, a *domain.Alert) error
}

// WebhookChannel POSTs the alert as JSON to a configured endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, a *domain.Alert) error {
	if c.url == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"text":     formatAlertText(a),
		"alert_id": a.ID,
		"source":   a.Source,
		"severity": a.Severity,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatChannel publishes alerts to the chat topic through Kafka; the outbox
// poller guarantees durable delivery of stored alerts, this channel covers
// the live path.
type ChatChannel struct {
	producer    *infra.KafkaProducer
	topicPrefix string
}

// NewChatChannel creates a chat channel on top of the Kafka producer.
func NewChatChannel(producer *infra.KafkaProducer, topicPrefix string) *ChatChannel {
	return &ChatChannel{producer: producer, topicPrefix: topicPrefix}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Deliver(ctx context.Context, a *domain.Alert) error {
	msg, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	topic := fmt.Sprintf("%s.%s", c.topicPrefix, a.Severity)
	return c.producer.Publish(ctx, topic, []byte(a.Source), msg)
}

// EmailChannel sends plain-text mail through the configured SMTP relay.
type EmailChannel struct {
	addr string // host:port
	to   []string
	from string
}

// NewEmailChannel creates an email channel. Empty addr disables it.
func NewEmailChannel(addr, to string) *EmailChannel {
	var recipients []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &EmailChannel{addr: addr, to: recipients, from: "pipeline-alerts@localhost"}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(_ context.Context, a *domain.Alert) error {
	if c.addr == "" || len(c.to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(a.Severity)), a.Source, a.Type)
	body := fmt.Sprintf("Subject: %s\r\nFrom: %s\r\nTo: %s\r\n\r\n%s\r\n",
		subject, c.from, strings.Join(c.to, ", "), formatAlertText(a))

	return smtp.SendMail(c.addr, nil, c.from, c.to, []byte(body))
}

func formatAlertText(a *domain.Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s: %s", a.CreatedAt.Format(time.RFC3339), a.Severity, a.Source, a.Message)
	if len(a.RecoverySuggestions) > 0 {
		sb.WriteString("\nSuggested: ")
		sb.WriteString(strings.Join(a.RecoverySuggestions, "; "))
	}
	return sb.String()
}
