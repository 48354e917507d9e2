package payment

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status captures the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step identifies the active stage of the payment flow.
type Step int

const (
	StepSelectProvider Step = iota + 1
	StepEnterPhone
	StepVerifyOtp
	StepOutcome
)

func (s Step) String() string {
	switch s {
	case StepSelectProvider:
		return "select_provider"
	case StepEnterPhone:
		return "enter_phone"
	case StepVerifyOtp:
		return "verify_otp"
	case StepOutcome:
		return "outcome"
	default:
		return "closed"
	}
}

// Product is the item being purchased. Price is an integer amount in FCFA.
type Product struct {
	Title string `json:"title"`
	Price int64  `json:"price"`
}

// Transaction is one attempted purchase-payment flow. Instances are owned by
// the Session; callers receive copies.
type Transaction struct {
	ID                    string    `json:"id"`
	Product               Product   `json:"product"`
	Status                Status    `json:"status"`
	Provider              string    `json:"provider,omitempty"`
	PhoneNumber           string    `json:"phone_number,omitempty"`
	OTP                   string    `json:"-"`
	OTPExpiry             time.Time `json:"otp_expiry,omitempty"`
	RetryCount            int       `json:"retry_count"`
	ProviderTransactionID string    `json:"provider_transaction_id,omitempty"`
	FailureReason         string    `json:"failure_reason,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	CompletedAt           time.Time `json:"completed_at,omitempty"`
}

// NewTransactionID builds an id of the form TXN<unix-millis><8 hex chars>.
func NewTransactionID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "TXN" + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}
