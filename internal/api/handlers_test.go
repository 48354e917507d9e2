package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paygate/internal/observability"
	"paygate/internal/payment"
)

type testHarness struct {
	router  http.Handler
	gateway *payment.SimulatedGateway
	session *payment.Session
	metrics *observability.Metrics
	secret  []byte
}

func newHarness(t *testing.T, limit int) *testHarness {
	t.Helper()
	gateway := payment.NewSimulatedGateway()
	attempts := payment.NewMemoryAttemptStore(limit, time.Minute)
	session := payment.NewSession(gateway, attempts, payment.SessionConfig{
		Logf: func(string, ...any) {},
	})
	t.Cleanup(session.Close)

	metrics := observability.NewMetrics()
	secret := []byte("hook-secret")
	server := NewServer(ServerConfig{
		Session:       session,
		Metrics:       metrics,
		WebhookSecret: secret,
		Logf:          func(string, ...any) {},
	})
	return &testHarness{
		router:  server.Router(),
		gateway: gateway,
		session: session,
		metrics: metrics,
		secret:  secret,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *testHarness) state(t *testing.T, rr *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var out stateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode state: %v\n%s", err, rr.Body.String())
	}
	return out
}

func TestAPI_FullPurchaseFlow(t *testing.T) {
	h := newHarness(t, 10)

	rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Sure Win Ticket", Price: 5000})
	if rr.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	state := h.state(t, rr)
	txID := state.Transaction.ID
	if state.Step != "select_provider" {
		t.Fatalf("expected select step, got %q", state.Step)
	}

	rr = h.do(t, http.MethodPost, "/payments/current/select-provider", map[string]string{"provider": "Orange Money"})
	if rr.Code != http.StatusOK {
		t.Fatalf("select: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = h.do(t, http.MethodPost, "/payments/current/forward", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("forward: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if state = h.state(t, rr); state.Step != "enter_phone" {
		t.Fatalf("expected phone step, got %q", state.Step)
	}

	rr = h.do(t, http.MethodPost, "/payments/current/send-otp", map[string]string{"phone_number": "70112233"})
	if rr.Code != http.StatusOK {
		t.Fatalf("send otp: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if state = h.state(t, rr); state.Step != "verify_otp" {
		t.Fatalf("expected verify step, got %q", state.Step)
	}

	rr = h.do(t, http.MethodPost, "/payments/current/validate-otp", map[string]string{"code": "000000"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("wrong code: expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	sent, ok := h.gateway.SentOTP(txID)
	if !ok {
		t.Fatalf("gateway never saw the send-otp call")
	}
	rr = h.do(t, http.MethodPost, "/payments/current/validate-otp", map[string]string{"code": sent.OTP})
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	state = h.state(t, rr)
	if state.Step != "outcome" || state.Transaction.Status != payment.StatusCompleted {
		t.Fatalf("expected completed outcome, got %+v", state)
	}

	rr = h.do(t, http.MethodGet, "/transactions/"+txID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", rr.Code)
	}

	rr = h.do(t, http.MethodGet, "/transactions/"+txID+"/receipt", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected receipt content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "PAYMENT RECEIPT") {
		t.Fatalf("unexpected receipt body:\n%s", rr.Body.String())
	}

	snap := h.metrics.Snapshot()
	if snap.OtpIssued != 1 || snap.PaymentsCompleted != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestAPI_ErrorStatuses(t *testing.T) {
	h := newHarness(t, 10)

	// No session yet.
	if rr := h.do(t, http.MethodGet, "/payments/current", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("current without session: expected 404, got %d", rr.Code)
	}
	if rr := h.do(t, http.MethodPost, "/payments/current/validate-otp", map[string]string{"code": "123456"}); rr.Code != http.StatusNotFound {
		t.Fatalf("validate without session: expected 404, got %d", rr.Code)
	}

	// Amount policy.
	if rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Free"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("zero price: expected 400, got %d", rr.Code)
	}
	if rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Big", Price: 5_000_000}); rr.Code != http.StatusBadRequest {
		t.Fatalf("huge price: expected 400, got %d", rr.Code)
	}

	if rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Ticket", Price: 1000}); rr.Code != http.StatusCreated {
		t.Fatalf("open: got %d", rr.Code)
	}

	if rr := h.do(t, http.MethodPost, "/payments/current/select-provider", map[string]string{"provider": "Western Union"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider: expected 400, got %d", rr.Code)
	}
	// Validation is illegal before OTP verification.
	if rr := h.do(t, http.MethodPost, "/payments/current/validate-otp", map[string]string{"code": "123456"}); rr.Code != http.StatusConflict {
		t.Fatalf("early validate: expected 409, got %d", rr.Code)
	}
	if rr := h.do(t, http.MethodPost, "/payments/current/back", nil); rr.Code != http.StatusConflict {
		t.Fatalf("back from first step: expected 409, got %d", rr.Code)
	}

	if rr := h.do(t, http.MethodPost, "/payments/current/forward", nil); rr.Code != http.StatusOK {
		t.Fatalf("forward: got %d", rr.Code)
	}
	if rr := h.do(t, http.MethodPost, "/payments/current/send-otp", map[string]string{"phone_number": "123"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad phone: expected 400, got %d", rr.Code)
	}

	if rr := h.do(t, http.MethodDelete, "/payments/current", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("close: expected 204, got %d", rr.Code)
	}
	if rr := h.do(t, http.MethodGet, "/payments/current", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("current after close: expected 404, got %d", rr.Code)
	}
}

func TestAPI_RateLimitedSend(t *testing.T) {
	h := newHarness(t, 1)

	h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Ticket", Price: 1000})
	h.do(t, http.MethodPost, "/payments/current/forward", nil)

	if rr := h.do(t, http.MethodPost, "/payments/current/send-otp", map[string]string{"phone_number": "70112233"}); rr.Code != http.StatusOK {
		t.Fatalf("first send: got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(t, http.MethodPost, "/payments/current/resend-otp", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("limited resend: expected 429, got %d: %s", rr.Code, rr.Body.String())
	}
	if snap := h.metrics.Snapshot(); snap.RateLimitRejects != 1 {
		t.Fatalf("expected one rate limit reject, got %+v", snap)
	}
}

func TestAPI_ReceiptPersistedOnCompletion(t *testing.T) {
	dir := t.TempDir()
	receipts, err := payment.NewFileReceiptStore(dir)
	if err != nil {
		t.Fatalf("receipt store: %v", err)
	}

	gateway := payment.NewSimulatedGateway()
	session := payment.NewSession(gateway, payment.NewMemoryAttemptStore(10, time.Minute), payment.SessionConfig{
		Logf: func(string, ...any) {},
	})
	t.Cleanup(session.Close)
	server := NewServer(ServerConfig{
		Session:  session,
		Receipts: receipts,
		Logf:     func(string, ...any) {},
	})
	h := &testHarness{router: server.Router(), gateway: gateway, session: session}

	rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Ticket", Price: 1000})
	txID := h.state(t, rr).Transaction.ID
	h.do(t, http.MethodPost, "/payments/current/forward", nil)
	h.do(t, http.MethodPost, "/payments/current/send-otp", map[string]string{"phone_number": "70112233"})
	sent, ok := h.gateway.SentOTP(txID)
	if !ok {
		t.Fatalf("gateway never saw the send-otp call")
	}
	if rr := h.do(t, http.MethodPost, "/payments/current/validate-otp", map[string]string{"code": sent.OTP}); rr.Code != http.StatusOK {
		t.Fatalf("validate: got %d: %s", rr.Code, rr.Body.String())
	}

	// The file exists before anyone asks for the receipt.
	receiptPath := filepath.Join(dir, "receipt_"+txID+".txt")
	if _, err := os.Stat(receiptPath); err != nil {
		t.Fatalf("receipt not persisted at completion: %v", err)
	}

	// Reading the receipt leaves the store untouched.
	if rr := h.do(t, http.MethodGet, "/transactions/"+txID+"/receipt", nil); rr.Code != http.StatusOK {
		t.Fatalf("receipt read: got %d", rr.Code)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single receipt file, got %d", len(entries))
	}
}

func TestAPI_Webhook(t *testing.T) {
	h := newHarness(t, 10)

	rr := h.do(t, http.MethodPost, "/payments", payment.Product{Title: "Ticket", Price: 1000})
	txID := h.state(t, rr).Transaction.ID

	evt := payment.WebhookEvent{
		Provider:      "Orange Money",
		TransactionID: txID,
		Status:        payment.StatusCompleted,
		Amount:        1000,
	}
	evt.Signature = payment.SignWebhook(h.secret, evt)

	if rr := h.do(t, http.MethodPost, "/webhooks/orange-money", evt); rr.Code != http.StatusAccepted {
		t.Fatalf("signed webhook: expected 202, got %d", rr.Code)
	}

	forged := evt
	forged.Amount = 999999
	if rr := h.do(t, http.MethodPost, "/webhooks/orange-money", forged); rr.Code != http.StatusNoContent {
		t.Fatalf("forged webhook: expected silent 204, got %d", rr.Code)
	}

	snap := h.metrics.Snapshot()
	if snap.WebhooksApplied != 1 || snap.WebhooksDropped != 1 {
		t.Fatalf("unexpected webhook counters: %+v", snap)
	}
}
