package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsTracksCalls(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("send_otp")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.Start("send_otp")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Operations["send_otp"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 calls, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalRequests != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsPaymentCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddRateLimitReject()
	metrics.AddOtpIssued()
	metrics.AddOtpIssued()
	metrics.AddPaymentCompleted()
	metrics.AddPaymentFailed()
	metrics.AddWebhook(true)
	metrics.AddWebhook(false)
	metrics.AddWebhook(false)

	snap := metrics.Snapshot()
	if snap.RateLimitRejects != 1 {
		t.Fatalf("expected 1 rate limit reject, got %d", snap.RateLimitRejects)
	}
	if snap.OtpIssued != 2 {
		t.Fatalf("expected 2 codes issued, got %d", snap.OtpIssued)
	}
	if snap.PaymentsCompleted != 1 || snap.PaymentsFailed != 1 {
		t.Fatalf("unexpected payment counters: %+v", snap)
	}
	if snap.WebhooksApplied != 1 || snap.WebhooksDropped != 2 {
		t.Fatalf("unexpected webhook counters: %+v", snap)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var metrics *Metrics
	span := metrics.Start("send_otp")
	span.End(nil)
	metrics.AddOtpIssued()
	metrics.AddWebhook(true)
	metrics.MarkShutdown(1)
	if snap := metrics.Snapshot(); snap.TotalRequests != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("validate_otp")
	span.End(errors.New("fail"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected total errors 1, got %d", snap.TotalErrors)
	}
	if len(snap.Operations) == 0 {
		t.Fatalf("expected operations in snapshot")
	}
}
