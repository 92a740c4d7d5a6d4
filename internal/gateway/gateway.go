// Package gateway holds the provider-agnostic payment gateway contract and
// the concrete provider integrations.
package gateway

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/models"

	"github.com/shopspring/decimal"
)

// Gateway builds payment redirects and authenticates provider callbacks.
type Gateway interface {
	Provider() models.Provider

	// CreatePaymentURL returns the signed URL the payer is redirected to.
	CreatePaymentURL(ctx context.Context, payment *models.Payment, tickets []models.Ticket, cfg models.ProviderConfig, extra map[string]string) (string, error)

	// VerifyCallback authenticates and decodes an inbound webhook. A bad
	// signature is reported through CallbackResult.IsValid, not as an error.
	VerifyCallback(payload map[string]string, cfg models.ProviderConfig) (*CallbackResult, error)

	// CallbackRef reads the merchant order ref of an unverified webhook so
	// the payment, and with it the method to verify against, can be found.
	CallbackRef(payload map[string]string) string
}

// Refunder is implemented by gateways that can return money.
type Refunder interface {
	RefundPayment(ctx context.Context, payment *models.Payment, cfg models.ProviderConfig, req RefundRequest) (*RefundResult, error)
}

type CallbackResult struct {
	IsValid              bool
	Status               models.PaymentStatus
	GatewayTransactionNo string
	MerchantOrderRef     string
	Amount               decimal.NullDecimal
	RawResponse          map[string]string
}

type RefundRequest struct {
	Amount      decimal.Decimal
	Reason      string
	PerformedBy string
	// RequestRef identifies the refund at the provider and stays the same
	// across retries.
	RequestRef string
	Full       bool
	ClientIP   string
}

type RefundResult struct {
	IsSuccess     bool
	TransactionID string
	RawResponse   []byte
}

// Config is shared by the HTTP-backed providers.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	return c
}

func requireKeys(provider models.Provider, cfg models.ProviderConfig, keys ...string) error {
	for _, k := range keys {
		if cfg[k] == "" {
			return fmt.Errorf("%s config is missing %q", provider, k)
		}
	}
	return nil
}

// toMinorUnits converts an amount to the provider's integer unit.
func toMinorUnits(amount decimal.Decimal, factor int64) (int64, error) {
	scaled := amount.Mul(decimal.NewFromInt(factor))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not representable in minor units", amount)
	}
	return scaled.IntPart(), nil
}
