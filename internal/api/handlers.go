package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/payment"
)

type stateResponse struct {
	Transaction payment.Transaction `json:"transaction"`
	Step        string              `json:"step"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var product payment.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span := s.metrics.Start("open")
	tx, err := s.session.Open(product)
	span.End(err)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse{Transaction: tx, Step: s.session.Step().String()})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.session.Current()
	if !ok {
		writeError(w, http.StatusNotFound, payment.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Transaction: tx, Step: s.session.Step().String()})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.session.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span := s.metrics.Start("select_provider")
	err := s.session.SelectProvider(req.Provider)
	span.End(err)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := s.session.PreviousStep(); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if err := s.session.NextStep(); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span := s.metrics.Start("send_otp")
	err := s.session.SendOTP(r.Context(), req.PhoneNumber)
	span.End(err)
	switch {
	case err == nil:
		s.metrics.AddOtpIssued()
		s.writeState(w)
	case errors.Is(err, payment.ErrRateLimited):
		s.metrics.AddRateLimitReject()
		s.writeTaxonomyError(w, err)
	default:
		s.writeTaxonomyError(w, err)
	}
}

func (s *Server) handleValidateOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span := s.metrics.Start("validate_otp")
	err := s.session.ValidateOTP(r.Context(), req.Code)
	span.End(err)
	switch {
	case err == nil:
		s.metrics.AddPaymentCompleted()
		if tx, ok := s.session.Current(); ok {
			s.persistReceipt(tx)
		}
		s.writeState(w)
	case errors.Is(err, payment.ErrProviderTimeout), errors.Is(err, payment.ErrProviderRejected):
		s.metrics.AddPaymentFailed()
		s.writeTaxonomyError(w, err)
	default:
		s.writeTaxonomyError(w, err)
	}
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("resend_otp")
	err := s.session.ResendOTP(r.Context())
	span.End(err)
	switch {
	case err == nil:
		s.metrics.AddOtpIssued()
		s.writeState(w)
	case errors.Is(err, payment.ErrRateLimited):
		s.metrics.AddRateLimitReject()
		s.writeTaxonomyError(w, err)
	default:
		s.writeTaxonomyError(w, err)
	}
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, ok := s.session.Cached(id)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := s.session.Receipt(id)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var evt payment.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}
	if evt.Provider == "" {
		evt.Provider = chi.URLParam(r, "provider")
	}

	applied := s.session.HandleWebhook(s.webhookSecret, evt)
	s.metrics.AddWebhook(applied)
	if applied {
		if tx, ok := s.session.Cached(evt.TransactionID); ok {
			s.persistReceipt(tx)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	// Bad signatures and unknown transactions are dropped silently.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, "status stream disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("websocket upgrade: %v", err)
		return
	}
	s.hub.Register <- conn
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister <- conn
				return
			}
		}
	}()
}

// persistReceipt writes the receipt file for a freshly completed transaction.
// Reads of /transactions/{id}/receipt stay side-effect free.
func (s *Server) persistReceipt(tx payment.Transaction) {
	if s.receipts == nil || tx.Status != payment.StatusCompleted {
		return
	}
	if _, err := s.receipts.Save(tx); err != nil {
		s.logf("save receipt for %s: %v", tx.ID, err)
	}
}

func (s *Server) writeState(w http.ResponseWriter) {
	tx, ok := s.session.Current()
	if !ok {
		writeError(w, http.StatusNotFound, payment.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Transaction: tx, Step: s.session.Step().String()})
}

// writeTaxonomyError maps session errors to HTTP statuses. Every one of them
// is recoverable: the session survives and stays at its current step.
func (s *Server) writeTaxonomyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, payment.ErrInvalidProduct),
		errors.Is(err, payment.ErrAmountOutOfRange),
		errors.Is(err, payment.ErrInvalidPhoneFormat),
		errors.Is(err, payment.ErrUnknownProvider),
		errors.Is(err, payment.ErrOtpMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, payment.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, payment.ErrInvalidStep),
		errors.Is(err, payment.ErrRetriesExhausted),
		errors.Is(err, payment.ErrNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, payment.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, payment.ErrOtpExpired):
		status = http.StatusGone
	case errors.Is(err, payment.ErrProviderTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, payment.ErrProviderRejected):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
