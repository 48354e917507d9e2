package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"paygate/internal/observability"
	"paygate/internal/payment"
	"paygate/internal/realtime"
)

// Server exposes the payment session over HTTP and WebSocket.
type Server struct {
	session       *payment.Session
	hub           *realtime.Hub
	metrics       *observability.Metrics
	receipts      *payment.FileReceiptStore
	webhookSecret []byte
	logf          func(format string, args ...any)
	upgrader      websocket.Upgrader
}

// ServerConfig wires the server's collaborators. Hub, metrics, and receipts
// are optional.
type ServerConfig struct {
	Session       *payment.Session
	Hub           *realtime.Hub
	Metrics       *observability.Metrics
	Receipts      *payment.FileReceiptStore
	WebhookSecret []byte
	Logf          func(format string, args ...any)
}

// NewServer constructs the API server.
func NewServer(cfg ServerConfig) *Server {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Server{
		session:       cfg.Session,
		hub:           cfg.Hub,
		metrics:       cfg.Metrics,
		receipts:      cfg.Receipts,
		webhookSecret: cfg.WebhookSecret,
		logf:          logf,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", s.handleOpen)
		r.Route("/current", func(r chi.Router) {
			r.Get("/", s.handleCurrent)
			r.Delete("/", s.handleClose)
			r.Post("/select-provider", s.handleSelectProvider)
			r.Post("/back", s.handleBack)
			r.Post("/forward", s.handleForward)
			r.Post("/send-otp", s.handleSendOTP)
			r.Post("/validate-otp", s.handleValidateOTP)
			r.Post("/resend-otp", s.handleResendOTP)
		})
	})

	r.Get("/transactions/{id}", s.handleTransaction)
	r.Get("/transactions/{id}/receipt", s.handleReceipt)
	r.Post("/webhooks/{provider}", s.handleWebhook)
	r.Get("/ws", s.handleWS)

	return r
}
