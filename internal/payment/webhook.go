package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// WebhookEvent is an out-of-band provider notification about a transaction.
type WebhookEvent struct {
	Provider      string `json:"provider"`
	TransactionID string `json:"transactionId"`
	Status        Status `json:"status"`
	Amount        int64  `json:"amount"`
	PhoneNumber   string `json:"phoneNumber"`
	Signature     string `json:"signature"`
}

// canonical renders the signed portion of the event in a fixed field order.
func (e WebhookEvent) canonical() string {
	return strings.Join([]string{
		e.Provider,
		e.TransactionID,
		string(e.Status),
		strconv.FormatInt(e.Amount, 10),
		e.PhoneNumber,
	}, "|")
}

// SignWebhook computes the hex HMAC-SHA256 signature for an event.
func SignWebhook(secret []byte, e WebhookEvent) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(e.canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the event signature in constant time.
func VerifyWebhook(secret []byte, e WebhookEvent) bool {
	if len(secret) == 0 || e.Signature == "" {
		return false
	}
	want, err := hex.DecodeString(SignWebhook(secret, e))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// HandleWebhook applies a provider notification to the matching cached
// transaction. Unsigned or badly signed events are dropped, as are events for
// unknown transactions or statuses; none of these surface to the user. It
// reports whether the event was applied.
func (s *Session) HandleWebhook(secret []byte, e WebhookEvent) bool {
	if !VerifyWebhook(secret, e) {
		s.logf("webhook from %s for %s: invalid signature, dropped", e.Provider, e.TransactionID)
		return false
	}
	if e.Status != StatusCompleted && e.Status != StatusFailed {
		s.logf("webhook from %s for %s: unknown status %q, dropped", e.Provider, e.TransactionID, e.Status)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.cache[e.TransactionID]
	if !ok {
		return false
	}
	now := s.now()
	tx.Status = e.Status
	tx.UpdatedAt = now
	if e.Status == StatusCompleted && tx.CompletedAt.IsZero() {
		tx.CompletedAt = now
	}
	s.emit(Event{
		Type:          EventWebhook,
		TransactionID: e.TransactionID,
		Status:        e.Status,
		Message:       fmt.Sprintf("%s confirmed status %s", e.Provider, e.Status),
		At:            now,
	})
	return true
}
