package payment

import (
	"fmt"
	"time"
)

// Provider describes one mobile-money operator the gateway can talk to.
type Provider struct {
	Name        string
	CountryCode string
	Prefixes    []string
	Endpoint    string
	APIKey      string
	MerchantID  string
	WebhookURL  string
	Timeout     time.Duration
}

// DefaultProviderTimeout bounds a provider call when none is configured.
const DefaultProviderTimeout = 30 * time.Second

// DefaultProviders returns the built-in operator catalog. API keys and
// endpoints are overridable through the server config.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:        "Orange Money",
			CountryCode: "+226",
			Prefixes:    []string{"70", "71", "72", "73", "74", "75", "76", "77", "78", "79"},
			Endpoint:    "https://api.orange-money.bf/v1",
			MerchantID:  "paygate-merchant",
			WebhookURL:  "https://paygate.example/webhooks/orange-money",
			Timeout:     DefaultProviderTimeout,
		},
		{
			Name:        "Moov Money",
			CountryCode: "+226",
			Prefixes:    []string{"60", "61", "62", "63", "64", "65", "66", "67", "68", "69"},
			Endpoint:    "https://api.moov-money.bf/v1",
			MerchantID:  "paygate-merchant",
			WebhookURL:  "https://paygate.example/webhooks/moov-money",
			Timeout:     DefaultProviderTimeout,
		},
		{
			Name:        "Telecel Money",
			CountryCode: "+226",
			Prefixes:    []string{"50", "51", "52", "53", "54", "55", "56", "57", "58", "59"},
			Endpoint:    "https://api.telecel-money.bf/v1",
			MerchantID:  "paygate-merchant",
			WebhookURL:  "https://paygate.example/webhooks/telecel-money",
			Timeout:     DefaultProviderTimeout,
		},
	}
}

// ValidatePhone checks an 8-digit local subscriber number against the
// provider's prefix whitelist.
func (p Provider) ValidatePhone(phone string) error {
	if len(phone) != 8 {
		return ErrInvalidPhoneFormat
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return ErrInvalidPhoneFormat
		}
	}
	prefix := phone[:2]
	for _, allowed := range p.Prefixes {
		if prefix == allowed {
			return nil
		}
	}
	return fmt.Errorf("prefix %s not served by %s: %w", prefix, p.Name, ErrInvalidPhoneFormat)
}

// InternationalNumber renders the subscriber number with the country code,
// the form providers expect on the wire.
func (p Provider) InternationalNumber(phone string) string {
	return p.CountryCode + phone
}

func (p Provider) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultProviderTimeout
}
