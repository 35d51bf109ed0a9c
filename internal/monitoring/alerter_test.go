package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     50.0,
	})

	snap := &Snapshot{Runs: 100, OK: 95, Failed: 5, FailRate: 0.05, CostUSD: 10, LookbackHours: 24}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &Snapshot{Runs: 20, OK: 10, Empty: 2, Failed: 8, FailRate: 0.4, BatchID: "b1"}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "8 failed / 20 finished, batch b1")
}

func TestAlerter_Evaluate_MinFinished(t *testing.T) {
	snap := &Snapshot{Runs: 3, OK: 1, Failed: 2, FailRate: 0.666}

	// Default minimum is five finished runs.
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})
	assert.Empty(t, a.Evaluate(snap))

	a = NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10, MinFinished: 2})
	assert.Len(t, a.Evaluate(snap), 1)
}

func TestAlerter_Evaluate_ThresholdIsStrict(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, MinFinished: 1})
	assert.Empty(t, a.Evaluate(&Snapshot{OK: 5, Failed: 5, FailRate: 0.5}))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	snap := &Snapshot{Runs: 50, OK: 48, Failed: 2, FailRate: 0.04, CostUSD: 250, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$250.00")
	assert.Contains(t, alerts[0].Message, "last 24h")
}

func TestAlerter_Evaluate_Both(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	snap := &Snapshot{Runs: 20, OK: 10, Failed: 10, FailRate: 0.5, CostUSD: 300}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, AlertCostOverrun, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "all runs")
}

func TestAlerter_Evaluate_Disabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{OK: 1, Failed: 99, FailRate: 0.99, CostUSD: 999}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}}))
}

func TestAlerter_Dispatch(t *testing.T) {
	var got Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.2})
	alerts := a.Dispatch(context.Background(), &Snapshot{Runs: 6, OK: 3, Failed: 3, FailRate: 0.5, BatchID: "b9"})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, got.Type)
	assert.Equal(t, "b9", got.Details["batch_id"])

	assert.Nil(t, a.Dispatch(context.Background(), &Snapshot{OK: 10}))
}
