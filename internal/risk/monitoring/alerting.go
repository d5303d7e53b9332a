package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// WebhookEvent is the event name carried by every webhook delivery.
const WebhookEvent = "vault.risk_alert"

// AlertChannel receives every alert the monitor raises.
type AlertChannel interface {
	SendAlert(ctx context.Context, alert risk.RiskAlert) error
	GetChannelType() string
	IsEnabled() bool
}

// WebhookPayload is the body posted for each alert.
type WebhookPayload struct {
	Event    string             `json:"event"`
	VaultID  string             `json:"vault_id"`
	Severity risk.AlertSeverity `json:"severity"`
	SentAt   time.Time          `json:"sent_at"`
	Alert    risk.RiskAlert     `json:"alert"`
}

// WebhookChannel posts alerts at or above MinSeverity to an HTTP endpoint.
// Client errors other than 429 are not retried.
type WebhookChannel struct {
	URL         string
	Method      string
	Headers     map[string]string
	RetryCount  int
	MinSeverity risk.AlertSeverity

	client *http.Client
	logger *zap.Logger
}

// NewWebhookChannel creates a webhook alert channel. It is disabled when url is empty.
func NewWebhookChannel(url, method string, headers map[string]string, timeout time.Duration, logger *zap.Logger) *WebhookChannel {
	if method == "" {
		method = http.MethodPost
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookChannel{
		URL:        url,
		Method:     method,
		Headers:    headers,
		RetryCount: 3,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("channel_type", "webhook")),
	}
}

type permanentError struct{ error }

// SendAlert delivers the alert unless it ranks below MinSeverity.
func (wc *WebhookChannel) SendAlert(ctx context.Context, alert risk.RiskAlert) error {
	if !wc.IsEnabled() || alert.Severity.Rank() < wc.MinSeverity.Rank() {
		return nil
	}

	data, err := json.Marshal(WebhookPayload{
		Event:    WebhookEvent,
		VaultID:  alert.VaultID,
		Severity: alert.Severity,
		SentAt:   time.Now().UTC(),
		Alert:    alert,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert payload")
	}

	var lastErr error
	for attempt := 0; attempt <= wc.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = wc.post(ctx, data)
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			return errors.Wrapf(perm.error, "webhook rejected alert %s", alert.ID)
		}
		wc.logger.Warn("Webhook delivery failed",
			zap.String("alert_id", alert.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return errors.Wrapf(lastErr, "webhook delivery of alert %s failed after %d attempts", alert.ID, wc.RetryCount+1)
}

func (wc *WebhookChannel) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, wc.Method, wc.URL, bytes.NewReader(data))
	if err != nil {
		return permanentError{errors.Wrap(err, "failed to create webhook request")}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return permanentError{fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// GetChannelType returns "webhook".
func (wc *WebhookChannel) GetChannelType() string {
	return "webhook"
}

// IsEnabled reports whether a URL was configured.
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.URL != ""
}

// DefaultAlertQueueSize bounds the pending deliveries per channel.
const DefaultAlertQueueSize = 256

// ChannelStats counts deliveries per channel type.
type ChannelStats struct {
	Sent     int64      `json:"sent"`
	Failed   int64      `json:"failed"`
	Dropped  int64      `json:"dropped"`
	Queued   int        `json:"queued"`
	LastErr  string     `json:"last_error,omitempty"`
	LastFail *time.Time `json:"last_failure,omitempty"`
}

type channelWorker struct {
	channel AlertChannel
	queue   chan risk.RiskAlert
	done    chan struct{}
}

// AlertingManager fans alerts out to the registered channels. Each channel
// owns a bounded queue drained by its own goroutine, so a slow sink never
// delays the caller or the other sinks.
type AlertingManager struct {
	mu        sync.RWMutex
	workers   []*channelWorker
	stats     map[string]*ChannelStats
	queueSize int
	closed    bool
	pending   atomic.Int64

	statsLock sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewAlertingManager creates a manager whose channel queues hold queueSize
// alerts. A non-positive size selects DefaultAlertQueueSize.
func NewAlertingManager(logger *zap.Logger, queueSize int) *AlertingManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultAlertQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertingManager{
		stats:     make(map[string]*ChannelStats),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// AddChannel registers a channel and starts its delivery goroutine. Channels
// added after Close are ignored.
func (am *AlertingManager) AddChannel(channel AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if am.closed {
		am.logger.Warn("Alert channel added after close", zap.String("channel_type", channel.GetChannelType()))
		return
	}
	w := &channelWorker{
		channel: channel,
		queue:   make(chan risk.RiskAlert, am.queueSize),
		done:    make(chan struct{}),
	}
	am.workers = append(am.workers, w)
	am.statsLock.Lock()
	if _, ok := am.stats[channel.GetChannelType()]; !ok {
		am.stats[channel.GetChannelType()] = &ChannelStats{}
	}
	am.statsLock.Unlock()
	go am.run(w)
}

// Publish queues the alert for every enabled channel without blocking and
// returns how many channels dropped it because their queue was full or the
// manager was closed.
func (am *AlertingManager) Publish(alert risk.RiskAlert) int {
	am.mu.RLock()
	defer am.mu.RUnlock()

	dropped := 0
	for _, w := range am.workers {
		if !w.channel.IsEnabled() {
			continue
		}
		if am.closed {
			am.countDrop(w.channel.GetChannelType())
			dropped++
			continue
		}
		am.pending.Add(1)
		select {
		case w.queue <- alert:
		default:
			am.pending.Add(-1)
			am.countDrop(w.channel.GetChannelType())
			am.logger.Warn("Alert queue full, dropping alert",
				zap.String("channel_type", w.channel.GetChannelType()),
				zap.String("alert_id", alert.ID),
				zap.String("vault_id", alert.VaultID))
			dropped++
		}
	}
	return dropped
}

func (am *AlertingManager) run(w *channelWorker) {
	defer close(w.done)
	for alert := range w.queue {
		err := w.channel.SendAlert(am.ctx, alert)
		am.record(w.channel.GetChannelType(), err)
		if err != nil {
			am.logger.Error("Failed to send alert via channel",
				zap.String("channel_type", w.channel.GetChannelType()),
				zap.String("alert_id", alert.ID),
				zap.String("vault_id", alert.VaultID),
				zap.Error(err))
		}
		am.pending.Add(-1)
	}
}

// Flush waits until every queued alert has been handed to its channel.
func (am *AlertingManager) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for am.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d alerts still queued", am.pending.Load())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting alerts and drains the queues. When ctx expires first
// the delivery context is cancelled, so in-flight and still queued alerts fail
// fast and are counted as failed.
func (am *AlertingManager) Close(ctx context.Context) error {
	am.mu.Lock()
	if am.closed {
		am.mu.Unlock()
		return nil
	}
	am.closed = true
	workers := append([]*channelWorker(nil), am.workers...)
	for _, w := range workers {
		close(w.queue)
	}
	am.mu.Unlock()

	var drainErr error
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			drainErr = errors.Wrapf(ctx.Err(), "%d alerts abandoned", am.pending.Load())
			am.cancel()
			<-w.done
		}
	}
	am.cancel()
	return drainErr
}

func (am *AlertingManager) countDrop(channelType string) {
	am.statsLock.Lock()
	am.stats[channelType].Dropped++
	am.statsLock.Unlock()
}

func (am *AlertingManager) record(channelType string, err error) {
	am.statsLock.Lock()
	defer am.statsLock.Unlock()
	st := am.stats[channelType]
	if err == nil {
		st.Sent++
		return
	}
	now := time.Now().UTC()
	st.Failed++
	st.LastErr = err.Error()
	st.LastFail = &now
}

// GetEnabledChannels returns the types of enabled channels in registration order.
func (am *AlertingManager) GetEnabledChannels() []string {
	am.mu.RLock()
	defer am.mu.RUnlock()

	enabled := []string{}
	for _, w := range am.workers {
		if w.channel.IsEnabled() {
			enabled = append(enabled, w.channel.GetChannelType())
		}
	}
	return enabled
}

// ChannelStats returns a copy of the delivery counters keyed by channel type.
func (am *AlertingManager) ChannelStats() map[string]ChannelStats {
	am.mu.RLock()
	queued := make(map[string]int, len(am.stats))
	for _, w := range am.workers {
		queued[w.channel.GetChannelType()] += len(w.queue)
	}
	am.mu.RUnlock()

	am.statsLock.Lock()
	defer am.statsLock.Unlock()
	out := make(map[string]ChannelStats, len(am.stats))
	for k, st := range am.stats {
		cp := *st
		cp.Queued = queued[k]
		out[k] = cp
	}
	return out
}
