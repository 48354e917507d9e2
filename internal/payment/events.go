package payment

import "time"

// Event types published on the status stream.
const (
	EventOpened     = "opened"
	EventStep       = "step"
	EventOtpSent    = "otp_sent"
	EventOtpExpired = "otp_expired"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventClosed     = "closed"
	EventWebhook    = "webhook"
)

// Event is a status notification emitted by the session. Events exist for
// rendering only; they never drive state.
type Event struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Step          string    `json:"step,omitempty"`
	Status        Status    `json:"status,omitempty"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}

// EventSink consumes session events. Publish must not block: the session
// calls it while holding its internal lock.
type EventSink interface {
	Publish(Event)
}
