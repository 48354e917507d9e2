package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SendOTPRequest is the outbound payload for a send-otp provider call.
type SendOTPRequest struct {
	PhoneNumber   string    `json:"phoneNumber"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transactionId"`
	MerchantID    string    `json:"merchantId"`
	OTP           string    `json:"otp"`
	ExpiryTime    time.Time `json:"expiryTime"`
}

// ProcessPaymentRequest is the outbound payload for a process-payment call.
type ProcessPaymentRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transactionId"`
	MerchantID    string `json:"merchantId"`
	OTP           string `json:"otp"`
	ProductName   string `json:"productName"`
	CallbackURL   string `json:"callbackUrl"`
}

// GatewayResponse is the provider response contract consumed by the session.
type GatewayResponse struct {
	Success               bool   `json:"success"`
	Message               string `json:"message,omitempty"`
	ProviderTransactionID string `json:"providerTransactionId,omitempty"`
}

// ProviderGateway issues the two outbound provider calls. Implementations
// must bound their wait by the provider's configured timeout.
type ProviderGateway interface {
	SendOTP(ctx context.Context, provider Provider, req SendOTPRequest) (GatewayResponse, error)
	ProcessPayment(ctx context.Context, provider Provider, req ProcessPaymentRequest) (GatewayResponse, error)
}

// HTTPGateway talks JSON over HTTP to real provider endpoints.
type HTTPGateway struct {
	client *http.Client
}

// NewHTTPGateway constructs an HTTP gateway. The per-call deadline comes from
// each provider's timeout, so the shared client carries none of its own.
func NewHTTPGateway(client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGateway{client: client}
}

func (g *HTTPGateway) SendOTP(ctx context.Context, provider Provider, req SendOTPRequest) (GatewayResponse, error) {
	return g.post(ctx, provider, "send-otp", req.TransactionID, req)
}

func (g *HTTPGateway) ProcessPayment(ctx context.Context, provider Provider, req ProcessPaymentRequest) (GatewayResponse, error) {
	return g.post(ctx, provider, "process-payment", req.TransactionID, req)
}

func (g *HTTPGateway) post(ctx context.Context, provider Provider, endpoint, transactionID string, payload any) (GatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return GatewayResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, provider.timeout())
	defer cancel()

	url := provider.Endpoint + "/" + endpoint
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return GatewayResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	httpReq.Header.Set("X-Merchant-ID", provider.MerchantID)
	httpReq.Header.Set("X-Transaction-ID", transactionID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() != nil && ctx.Err() == nil) {
			return GatewayResponse{}, fmt.Errorf("%s %s: %w", provider.Name, endpoint, ErrProviderTimeout)
		}
		return GatewayResponse{}, fmt.Errorf("%s %s: %w", provider.Name, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GatewayResponse{
			Success: false,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}, nil
	}

	var out GatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GatewayResponse{}, fmt.Errorf("%s %s: decode response: %w", provider.Name, endpoint, err)
	}
	return out, nil
}

// SimulatedGateway approves every call without leaving the process. It stands
// in for real operators in demos and local runs.
type SimulatedGateway struct {
	mu       sync.Mutex
	otpSends map[string]SendOTPRequest
	payments map[string]ProcessPaymentRequest
}

// NewSimulatedGateway constructs a simulated gateway.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		otpSends: make(map[string]SendOTPRequest),
		payments: make(map[string]ProcessPaymentRequest),
	}
}

func (g *SimulatedGateway) SendOTP(ctx context.Context, provider Provider, req SendOTPRequest) (GatewayResponse, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResponse{}, err
	}
	g.mu.Lock()
	g.otpSends[req.TransactionID] = req
	g.mu.Unlock()
	return GatewayResponse{Success: true, Message: "code sent"}, nil
}

func (g *SimulatedGateway) ProcessPayment(ctx context.Context, provider Provider, req ProcessPaymentRequest) (GatewayResponse, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResponse{}, err
	}
	g.mu.Lock()
	g.payments[req.TransactionID] = req
	g.mu.Unlock()
	return GatewayResponse{
		Success:               true,
		ProviderTransactionID: "SIM-" + uuid.NewString(),
	}, nil
}

// SentOTP returns the last send-otp payload for a transaction (for inspection).
func (g *SimulatedGateway) SentOTP(transactionID string) (SendOTPRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.otpSends[transactionID]
	return req, ok
}

// ProcessedPayment returns the last process-payment payload for a transaction.
func (g *SimulatedGateway) ProcessedPayment(transactionID string) (ProcessPaymentRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.payments[transactionID]
	return req, ok
}
