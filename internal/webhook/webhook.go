// Package webhook delivers audit events to tenant-configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/entrys/gateway/internal/metrics"
	"github.com/entrys/gateway/internal/store"
)

// EventAuditCreated is sent in the X-Entrys-Event header.
const EventAuditCreated = "audit.created"

const (
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 64
	userAgent          = "AgentToolGateway/1.0"
)

// Payload is the body posted to every enabled webhook of the team.
type Payload struct {
	RequestID      string    `json:"requestId"`
	Timestamp      time.Time `json:"timestamp"`
	Environment    string    `json:"environment"`
	AgentName      string    `json:"agentName"`
	ToolName       string    `json:"toolName"`
	LogicalName    *string   `json:"logicalName"`
	Version        *string   `json:"version"`
	BackendType    *string   `json:"backendType"`
	Decision       string    `json:"decision"`
	StatusCode     *int      `json:"statusCode"`
	LatencyMs      int       `json:"latencyMs"`
	RedactionCount int       `json:"redactionCount"`
}

// Store lists the delivery targets of a team.
type Store interface {
	ListEnabledWebhooks(ctx context.Context, teamID string) ([]*store.Webhook, error)
}

// Config configures a Notifier.
type Config struct {
	Timeout     time.Duration // per delivery
	Concurrency int64         // deliveries in flight across all teams
	Client      *http.Client
}

// Notifier fans audit events out to webhooks. Deliveries run detached from
// the request that produced the event and are never retried.
type Notifier struct {
	store   Store
	client  *http.Client
	timeout time.Duration
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewNotifier creates a Notifier.
func NewNotifier(s Store, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{
		store:   s,
		client:  client,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		logger:  logger,
	}
}

// FanOutAuditEvent schedules delivery of payload to the team's enabled
// webhooks and returns immediately. Failures are logged only.
func (n *Notifier) FanOutAuditEvent(payload Payload, teamID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()
	go func() {
		defer n.wg.Done()
		n.fanOut(payload, teamID)
	}()
}

func (n *Notifier) fanOut(payload Payload, teamID string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	hooks, err := n.store.ListEnabledWebhooks(ctx, teamID)
	cancel()
	if err != nil {
		n.logger.Error("failed to list webhooks", zap.String("team_id", teamID), zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode webhook payload", zap.String("request_id", payload.RequestID), zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(h *store.Webhook) {
			defer wg.Done()
			n.deliver(h, body, payload.RequestID)
		}(h)
	}
	wg.Wait()
}

func (n *Notifier) deliver(h *store.Webhook, body []byte, requestID string) {
	// The timeout covers the wait for a delivery slot as well as the POST.
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sem.Acquire(ctx, 1); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		n.logger.Warn("webhook delivery dropped, no free slot",
			zap.String("webhook_id", h.ID),
			zap.String("request_id", requestID),
		)
		return
	}
	defer n.sem.Release(1)

	err := n.post(ctx, h.URL, body)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		n.logger.Warn("webhook delivery failed",
			zap.String("webhook_id", h.ID),
			zap.String("webhook_name", h.Name),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Entrys-Event", EventAuditCreated)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting events and waits for in-flight fan-outs until ctx
// expires.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
