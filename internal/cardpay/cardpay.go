// Package cardpay charges cards through Stripe PaymentIntents. It backs
// the "card" payment method for diaspora buyers paying for orders from
// abroad; mobile money stays the primary rail inside Rwanda.
package cardpay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/isoko-rw/isoko/internal/money"
	"github.com/isoko-rw/isoko/internal/payment"
)

// Provider collects card payments via Stripe.
type Provider struct {
	api    *client.API
	logger *slog.Logger
}

// NewProvider creates a Stripe-backed card provider.
func NewProvider(secretKey string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Provider{api: api, logger: logger}
}

var _ payment.CollectionProvider = (*Provider)(nil)

// InitiateCollection creates a PaymentIntent for the order amount. The
// payer handle is the Stripe payment method ID collected client-side.
func (p *Provider) InitiateCollection(ctx context.Context, amount, currency, payerHandle, reference string) (string, payment.ProviderStatus, error) {
	units, err := chargeAmount(amount, currency)
	if err != nil {
		return "", "", err
	}
	if !strings.HasPrefix(payerHandle, "pm_") {
		return "", "", fmt.Errorf("card payments require a stripe payment method id, got %q", payerHandle)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(units),
		Currency:      stripe.String(strings.ToLower(currency)),
		PaymentMethod: stripe.String(payerHandle),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String("Isoko order " + reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(reference)
	params.AddMetadata("payment_reference", reference)

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create payment intent: %w", err)
	}

	p.logger.Info("card payment initiated",
		"intent_id", intent.ID, "reference", reference, "amount", amount)
	return intent.ID, mapIntentStatus(intent.Status), nil
}

// CollectionStatus reports the current state of a PaymentIntent.
func (p *Provider) CollectionStatus(ctx context.Context, providerRef string) (payment.ProviderStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.api.PaymentIntents.Get(providerRef, params)
	if err != nil {
		return "", fmt.Errorf("get payment intent: %w", err)
	}
	return mapIntentStatus(intent.Status), nil
}

// chargeAmount converts a decimal amount string to the integer unit count
// Stripe expects. RWF is a zero-decimal currency, so 15000.00 RWF is sent
// as 15000 units; everything else uses minor units.
func chargeAmount(amount, currency string) (int64, error) {
	minor, ok := money.ParsePositive(amount)
	if !ok {
		return 0, fmt.Errorf("invalid charge amount %q", amount)
	}
	if strings.EqualFold(currency, "RWF") {
		whole := new(big.Int).Quo(minor, big.NewInt(100))
		return whole.Int64(), nil
	}
	return minor.Int64(), nil
}

func mapIntentStatus(s stripe.PaymentIntentStatus) payment.ProviderStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.ProviderSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return payment.ProviderFailed
	default:
		// processing, requires_action, requires_confirmation: still in flight.
		return payment.ProviderPending
	}
}
