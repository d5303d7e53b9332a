package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

type disabledChannel struct{ recordingChannel }

func (c *disabledChannel) IsEnabled() bool        { return false }
func (c *disabledChannel) GetChannelType() string { return "disabled" }

func TestAlertingManager(t *testing.T) {
	am := NewAlertingManager(zaptest.NewLogger(t), 0)
	ok := &recordingChannel{}
	failing := &recordingChannel{err: errors.New("unreachable")}
	off := &disabledChannel{}
	am.AddChannel(failing)
	am.AddChannel(off)
	am.AddChannel(ok)

	assert.Zero(t, am.Publish(risk.RiskAlert{ID: "a1"}))
	require.NoError(t, am.Close(context.Background()))
	assert.Len(t, failing.received(), 1)
	assert.Len(t, ok.received(), 1)
	assert.Empty(t, off.received())

	assert.Equal(t, []string{"recording", "recording"}, am.GetEnabledChannels())

	stats := am.ChannelStats()
	assert.EqualValues(t, 1, stats["recording"].Sent)
	assert.EqualValues(t, 1, stats["recording"].Failed)
	assert.Equal(t, "unreachable", stats["recording"].LastErr)
	assert.Zero(t, stats["disabled"].Sent+stats["disabled"].Failed)

	assert.Equal(t, 2, am.Publish(risk.RiskAlert{ID: "late"}))
	assert.EqualValues(t, 2, am.ChannelStats()["recording"].Dropped)
}

func TestAlertingManager_PreservesOrderPerChannel(t *testing.T) {
	am := NewAlertingManager(zaptest.NewLogger(t), 0)
	ch := &recordingChannel{}
	am.AddChannel(ch)

	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		am.Publish(risk.RiskAlert{ID: id})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, am.Flush(ctx))

	var ids []string
	for _, alert := range ch.received() {
		ids = append(ids, alert.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, ids)
	require.NoError(t, am.Close(ctx))
}

func TestAlertingManager_DropsWhenQueueFull(t *testing.T) {
	am := NewAlertingManager(zaptest.NewLogger(t), 2)
	slow := newBlockingChannel()
	am.AddChannel(slow)

	assert.Zero(t, am.Publish(risk.RiskAlert{ID: "a1"}))
	<-slow.started

	dropped := 0
	for _, id := range []string{"a2", "a3", "a4", "a5"} {
		dropped += am.Publish(risk.RiskAlert{ID: id})
	}
	assert.Equal(t, 2, dropped)

	stats := am.ChannelStats()
	assert.EqualValues(t, 2, stats["blocking"].Dropped)
	assert.Equal(t, 2, stats["blocking"].Queued)

	close(slow.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, am.Close(ctx))
	assert.EqualValues(t, 3, am.ChannelStats()["blocking"].Sent)
}

func TestAlertingManager_CloseAbandonsOnDeadline(t *testing.T) {
	am := NewAlertingManager(zaptest.NewLogger(t), 0)
	slow := newBlockingChannel()
	am.AddChannel(slow)

	am.Publish(risk.RiskAlert{ID: "a1"})
	am.Publish(risk.RiskAlert{ID: "a2"})
	<-slow.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := am.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, am.ChannelStats()["blocking"].Failed)
}

func TestWebhookChannel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))

		var payload WebhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, WebhookEvent, payload.Event)
		assert.Equal(t, "v1", payload.VaultID)
		assert.Equal(t, "a1", payload.Alert.ID)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wc := NewWebhookChannel(srv.URL, "", map[string]string{"X-Token": "secret"}, time.Second, zaptest.NewLogger(t))
	wc.RetryCount = 1
	require.True(t, wc.IsEnabled())
	assert.Equal(t, "webhook", wc.GetChannelType())

	require.NoError(t, wc.SendAlert(context.Background(), risk.RiskAlert{ID: "a1", VaultID: "v1", RelatedAlerts: []string{}}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookChannel_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wc := NewWebhookChannel(srv.URL, http.MethodPut, nil, time.Second, nil)
	wc.RetryCount = 0
	err := wc.SendAlert(context.Background(), risk.RiskAlert{ID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWebhookChannel_Disabled(t *testing.T) {
	wc := NewWebhookChannel("", "", nil, 0, nil)
	assert.False(t, wc.IsEnabled())
	assert.NoError(t, wc.SendAlert(context.Background(), risk.RiskAlert{ID: "a1"}))
}

func TestWebhookChannel_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	wc := NewWebhookChannel(srv.URL, "", nil, time.Second, nil)
	wc.RetryCount = 3
	err := wc.SendAlert(context.Background(), risk.RiskAlert{ID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookChannel_MinSeverity(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wc := NewWebhookChannel(srv.URL, "", nil, time.Second, nil)
	wc.MinSeverity = risk.SeverityHigh
	ctx := context.Background()
	require.NoError(t, wc.SendAlert(ctx, risk.RiskAlert{ID: "low", Severity: risk.SeverityMedium}))
	require.NoError(t, wc.SendAlert(ctx, risk.RiskAlert{ID: "high", Severity: risk.SeverityHigh}))
	require.NoError(t, wc.SendAlert(ctx, risk.RiskAlert{ID: "crit", Severity: risk.SeverityCritical}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
