package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"
)

// Default OTP policy: 5-minute validity, 3 wrong codes before the session is
// forced back to phone entry.
const (
	DefaultOTPTTL     = 5 * time.Minute
	DefaultMaxRetries = 3
)

// Default transaction amount bounds in FCFA.
const (
	DefaultMinAmount = 100
	DefaultMaxAmount = 1_000_000
)

// SessionConfig configures a Session. Zero values fall back to defaults.
type SessionConfig struct {
	Providers   []Provider
	Events      EventSink
	Logf        func(format string, args ...any)
	Now         func() time.Time
	GenerateOTP func() string
	NewID       func(now time.Time) string
	OTPTTL      time.Duration
	MaxRetries  int
	MinAmount   int64
	MaxAmount   int64
}

// Session owns the single in-progress purchase attempt and the step state
// machine driving it. All methods are safe for concurrent use; the
// provider-calling operations are additionally single-flight, so a second
// invocation while one is outstanding is silently dropped.
type Session struct {
	gateway  ProviderGateway
	attempts AttemptStore

	providers map[string]Provider
	order     []string
	events    EventSink
	logf      func(format string, args ...any)
	now       func() time.Time
	genOTP    func() string
	newID     func(now time.Time) string

	otpTTL     time.Duration
	maxRetries int
	minAmount  int64
	maxAmount  int64

	mu           sync.Mutex
	tx           *Transaction
	step         Step
	selected     string
	isProcessing bool
	processingTx string
	cache        map[string]*Transaction
	expiryTimer  *time.Timer
	expirySeq    int
}

// NewSession constructs a Session around a gateway and an attempt store.
func NewSession(gateway ProviderGateway, attempts AttemptStore, cfg SessionConfig) *Session {
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	genOTP := cfg.GenerateOTP
	if genOTP == nil {
		genOTP = generateOTP
	}
	newID := cfg.NewID
	if newID == nil {
		newID = NewTransactionID
	}
	otpTTL := cfg.OTPTTL
	if otpTTL <= 0 {
		otpTTL = DefaultOTPTTL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	minAmount := cfg.MinAmount
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	maxAmount := cfg.MaxAmount
	if maxAmount <= 0 {
		maxAmount = DefaultMaxAmount
	}

	s := &Session{
		gateway:    gateway,
		attempts:   attempts,
		providers:  make(map[string]Provider, len(providers)),
		events:     cfg.Events,
		logf:       logf,
		now:        now,
		genOTP:     genOTP,
		newID:      newID,
		otpTTL:     otpTTL,
		maxRetries: maxRetries,
		minAmount:  minAmount,
		maxAmount:  maxAmount,
		cache:      make(map[string]*Transaction),
	}
	for _, p := range providers {
		s.providers[p.Name] = p
		s.order = append(s.order, p.Name)
	}
	return s
}

// Open starts a pending transaction for the product. Any previous session is
// discarded; the new transaction carries a fresh id and no phone number.
func (s *Session) Open(product Product) (Transaction, error) {
	if product.Price <= 0 {
		return Transaction{}, ErrInvalidProduct
	}
	if product.Price < s.minAmount || product.Price > s.maxAmount {
		return Transaction{}, fmt.Errorf("price %d FCFA: %w", product.Price, ErrAmountOutOfRange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopExpiryTimer()
	now := s.now()
	tx := &Transaction{
		ID:        s.newID(now),
		Product:   product,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tx = tx
	s.step = StepSelectProvider
	s.selected = s.order[0]
	s.isProcessing = false
	s.processingTx = ""
	s.cache[tx.ID] = tx

	s.emit(Event{Type: EventOpened, TransactionID: tx.ID, Step: s.step.String(), Status: tx.Status, At: now})
	return *tx, nil
}

// Close discards the current transaction unconditionally. Idempotent. An
// in-flight provider call is neither cancelled nor awaited; its late response
// is dropped by transaction id.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return
	}
	id := s.tx.ID
	s.stopExpiryTimer()
	s.tx = nil
	s.step = 0
	s.selected = ""
	s.emit(Event{Type: EventClosed, TransactionID: id, At: s.now()})
}

// Current returns a copy of the live transaction, if any.
func (s *Session) Current() (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return Transaction{}, false
	}
	return *s.tx, true
}

// Cached looks up any transaction this session has seen, including finished
// ones, by id.
func (s *Session) Cached(id string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.cache[id]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// Step reports the active step, or 0 when no session is open.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// SelectProvider records the operator choice while on the selection step.
func (s *Session) SelectProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoSession
	}
	if s.step != StepSelectProvider {
		return ErrInvalidStep
	}
	if _, ok := s.providers[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownProvider)
	}
	s.selected = name
	return nil
}

// NextStep advances the state machine where an explicit "continue" is legal:
// out of provider selection always, and from phone entry only when an OTP has
// already been issued (forward navigation after going back).
func (s *Session) NextStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoSession
	}
	switch s.step {
	case StepSelectProvider:
		s.tx.Provider = s.selected
		s.tx.UpdatedAt = s.now()
		s.setStep(StepEnterPhone)
		return nil
	case StepEnterPhone:
		if s.tx.OTP == "" {
			return ErrInvalidStep
		}
		s.setStep(StepVerifyOtp)
		return nil
	default:
		return ErrInvalidStep
	}
}

// PreviousStep navigates backwards. Leaving OTP verification clears the code
// and the retry counter, so the next forward path must issue a fresh code.
func (s *Session) PreviousStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoSession
	}
	switch s.step {
	case StepEnterPhone:
		s.setStep(StepSelectProvider)
		return nil
	case StepVerifyOtp:
		s.clearOTP()
		s.setStep(StepEnterPhone)
		return nil
	default:
		return ErrInvalidStep
	}
}

// SendOTP validates the phone number, passes the rate limiter, and asks the
// provider to deliver a fresh code. On success the session advances to OTP
// verification and the expiry countdown starts.
func (s *Session) SendOTP(ctx context.Context, phone string) error {
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.step != StepEnterPhone {
		s.mu.Unlock()
		return ErrInvalidStep
	}
	if s.isProcessing {
		s.mu.Unlock()
		return nil
	}
	provider, ok := s.providers[s.tx.Provider]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%q: %w", s.tx.Provider, ErrUnknownProvider)
	}
	if err := provider.ValidatePhone(phone); err != nil {
		s.mu.Unlock()
		return err
	}
	txID := s.tx.ID
	amount := s.tx.Product.Price
	s.isProcessing = true
	s.processingTx = txID
	s.mu.Unlock()

	return s.issueOTP(ctx, provider, txID, phone, amount, StepVerifyOtp)
}

// ResendOTP re-runs the send path for the number already on file, resetting
// the retry counter. The rate limiter still counts the attempt.
func (s *Session) ResendOTP(ctx context.Context) error {
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.step != StepVerifyOtp {
		s.mu.Unlock()
		return ErrInvalidStep
	}
	if s.isProcessing {
		s.mu.Unlock()
		return nil
	}
	provider := s.providers[s.tx.Provider]
	phone := s.tx.PhoneNumber
	txID := s.tx.ID
	amount := s.tx.Product.Price
	s.isProcessing = true
	s.processingTx = txID
	s.mu.Unlock()

	return s.issueOTP(ctx, provider, txID, phone, amount, StepVerifyOtp)
}

// issueOTP performs rate limiting, arms the OTP fields, and makes the
// send-otp provider call. The caller must have set isProcessing.
func (s *Session) issueOTP(ctx context.Context, provider Provider, txID, phone string, amount int64, onSuccess Step) error {
	finish := func() {
		s.mu.Lock()
		s.endCall(txID)
		s.mu.Unlock()
	}

	allowed, err := s.attempts.Allow(ctx, phone, s.now())
	if err != nil {
		finish()
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		finish()
		return ErrRateLimited
	}

	otp := s.genOTP()
	expiry := s.now().Add(s.otpTTL)

	s.mu.Lock()
	if s.tx == nil || s.tx.ID != txID {
		s.endCall(txID)
		s.mu.Unlock()
		return nil
	}
	s.tx.PhoneNumber = phone
	s.tx.OTP = otp
	s.tx.OTPExpiry = expiry
	s.tx.RetryCount = 0
	s.tx.UpdatedAt = s.now()
	req := SendOTPRequest{
		PhoneNumber:   provider.InternationalNumber(phone),
		Amount:        amount,
		TransactionID: txID,
		MerchantID:    provider.MerchantID,
		OTP:           otp,
		ExpiryTime:    expiry,
	}
	s.mu.Unlock()

	resp, err := s.gateway.SendOTP(ctx, provider, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCall(txID)
	if s.tx == nil || s.tx.ID != txID {
		// The session moved on while the call was in flight.
		return nil
	}
	if err != nil {
		// OTP fields stay set but the step does not advance, so the code
		// cannot be used.
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s: %w", orDefault(resp.Message, "send-otp declined"), ErrProviderRejected)
	}

	if s.step != onSuccess {
		s.setStep(onSuccess)
	}
	s.armExpiryNotice(txID, expiry)
	s.emit(Event{Type: EventOtpSent, TransactionID: txID, Step: s.step.String(), At: s.now()})
	return nil
}

// ValidateOTP checks the entered code and, on a match, processes the payment.
// The expiry check always precedes the equality check. Three consecutive
// mismatches force the session back to phone entry and clear the code.
func (s *Session) ValidateOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.step != StepVerifyOtp {
		s.mu.Unlock()
		return ErrInvalidStep
	}
	if s.isProcessing {
		s.mu.Unlock()
		return nil
	}
	if s.tx.OTP == "" {
		s.mu.Unlock()
		return ErrOtpExpired
	}
	if s.now().After(s.tx.OTPExpiry) {
		s.mu.Unlock()
		return ErrOtpExpired
	}
	if code != s.tx.OTP {
		s.tx.RetryCount++
		s.tx.UpdatedAt = s.now()
		if s.tx.RetryCount >= s.maxRetries {
			s.clearOTP()
			s.setStep(StepEnterPhone)
			s.mu.Unlock()
			return ErrRetriesExhausted
		}
		remaining := s.maxRetries - s.tx.RetryCount
		s.mu.Unlock()
		return fmt.Errorf("%d attempt(s) remaining: %w", remaining, ErrOtpMismatch)
	}

	provider := s.providers[s.tx.Provider]
	txID := s.tx.ID
	req := ProcessPaymentRequest{
		PhoneNumber:   provider.InternationalNumber(s.tx.PhoneNumber),
		Amount:        s.tx.Product.Price,
		TransactionID: txID,
		MerchantID:    provider.MerchantID,
		OTP:           s.tx.OTP,
		ProductName:   s.tx.Product.Title,
		CallbackURL:   provider.WebhookURL,
	}
	s.isProcessing = true
	s.processingTx = txID
	s.mu.Unlock()

	resp, err := s.gateway.ProcessPayment(ctx, provider, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCall(txID)
	if s.tx == nil || s.tx.ID != txID {
		return nil
	}
	now := s.now()
	if err != nil {
		s.tx.Status = StatusFailed
		s.tx.FailureReason = err.Error()
		s.tx.UpdatedAt = now
		s.emit(Event{Type: EventFailed, TransactionID: txID, Step: s.step.String(), Status: StatusFailed, Message: err.Error(), At: now})
		return err
	}
	if !resp.Success {
		reason := orDefault(resp.Message, "payment declined")
		s.tx.Status = StatusFailed
		s.tx.FailureReason = reason
		s.tx.UpdatedAt = now
		s.emit(Event{Type: EventFailed, TransactionID: txID, Step: s.step.String(), Status: StatusFailed, Message: reason, At: now})
		return fmt.Errorf("%s: %w", reason, ErrProviderRejected)
	}

	s.tx.Status = StatusCompleted
	s.tx.ProviderTransactionID = resp.ProviderTransactionID
	s.tx.CompletedAt = now
	s.tx.UpdatedAt = now
	s.stopExpiryTimer()
	s.setStep(StepOutcome)
	s.emit(Event{Type: EventCompleted, TransactionID: txID, Step: s.step.String(), Status: StatusCompleted, At: now})
	return nil
}

// endCall releases the single-flight guard, but only if it is still owned by
// the given transaction's call. A call that completes after the session was
// replaced must not free the guard held by the new transaction's call.
// Callers hold s.mu.
func (s *Session) endCall(txID string) {
	if s.processingTx == txID {
		s.isProcessing = false
		s.processingTx = ""
	}
}

// setStep updates the step pointer and emits a step event. Callers hold s.mu.
func (s *Session) setStep(step Step) {
	s.step = step
	s.emit(Event{Type: EventStep, TransactionID: s.tx.ID, Step: step.String(), Status: s.tx.Status, At: s.now()})
}

// clearOTP wipes the code, its deadline, and the retry counter. Callers hold s.mu.
func (s *Session) clearOTP() {
	s.tx.OTP = ""
	s.tx.OTPExpiry = time.Time{}
	s.tx.RetryCount = 0
	s.stopExpiryTimer()
}

// armExpiryNotice schedules a UX notification for when the code lapses. The
// deadline on the transaction stays authoritative; this timer only emits an
// event so the UI can enable resend. Callers hold s.mu.
func (s *Session) armExpiryNotice(txID string, expiry time.Time) {
	s.stopExpiryTimer()
	s.expirySeq++
	seq := s.expirySeq
	d := expiry.Sub(s.now())
	if d <= 0 {
		return
	}
	s.expiryTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.expirySeq != seq || s.tx == nil || s.tx.ID != txID {
			return
		}
		s.emit(Event{Type: EventOtpExpired, TransactionID: txID, Step: s.step.String(), Message: "verification code lapsed, resend enabled", At: s.now()})
	})
}

// stopExpiryTimer cancels any pending expiry notification. Callers hold s.mu.
func (s *Session) stopExpiryTimer() {
	s.expirySeq++
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
}

func (s *Session) emit(evt Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(evt)
}

// generateOTP draws a 6-digit code uniformly from [100000, 999999].
func generateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900_000))
	if err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(fmt.Sprintf("generate otp: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+100_000)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
