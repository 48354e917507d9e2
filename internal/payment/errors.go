package payment

import "errors"

var (
	// ErrInvalidProduct indicates the product price is not a positive amount.
	ErrInvalidProduct = errors.New("product price must be a positive amount")

	// ErrAmountOutOfRange indicates the price falls outside the allowed transaction bounds.
	ErrAmountOutOfRange = errors.New("amount outside allowed transaction bounds")

	// ErrInvalidPhoneFormat indicates the number is not 8 digits or its prefix
	// is not served by the selected provider.
	ErrInvalidPhoneFormat = errors.New("invalid phone number for selected provider")

	// ErrRateLimited indicates too many OTP send attempts for this number.
	ErrRateLimited = errors.New("too many code requests for this number")

	// ErrProviderTimeout indicates the provider call exceeded its bounded wait.
	ErrProviderTimeout = errors.New("provider call timed out")

	// ErrProviderRejected indicates the provider answered but declined the request.
	ErrProviderRejected = errors.New("provider rejected the request")

	// ErrOtpExpired indicates validation was attempted after the code lapsed.
	ErrOtpExpired = errors.New("verification code has expired")

	// ErrOtpMismatch indicates a wrong code; further attempts remain.
	ErrOtpMismatch = errors.New("verification code does not match")

	// ErrRetriesExhausted indicates the maximum of wrong codes was reached and
	// the session was forced back to phone entry.
	ErrRetriesExhausted = errors.New("maximum verification attempts reached")

	// ErrNoSession indicates no transaction is currently open.
	ErrNoSession = errors.New("no active payment session")

	// ErrInvalidStep indicates the operation is not legal from the current step.
	ErrInvalidStep = errors.New("operation not allowed at current step")

	// ErrUnknownProvider indicates the provider name is not in the catalog.
	ErrUnknownProvider = errors.New("unknown payment provider")
)
