package payments

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger receives structured refund events.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefunds interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeProviderConfig configures NewStripeProvider. AccountID refunds on behalf of
// a connected account.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
}

// StripeProvider refunds Stripe payments. A reference may name a PaymentIntent
// (pi_...) or, for stores that record charges, a Charge (ch_... or py_...).
type StripeProvider struct {
	refunds stripeRefunds
	account string
	clock   func() time.Time
	logger  StripeLogger
}

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe: api key is required")
	}
	return newStripeProvider(client.New(key, cfg.Backends).Refunds, cfg), nil
}

func newStripeProvider(refunds stripeRefunds, cfg StripeProviderConfig) *StripeProvider {
	p := &StripeProvider{
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = func(context.Context, string, map[string]any) {}
	}
	return p
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return PaymentDetails{}, errors.New("stripe: payment reference is required")
	}
	params := &stripe.RefundParams{}
	params.Context = ctx
	if isChargeReference(reference) {
		params.Charge = stripe.String(reference)
	} else {
		params.PaymentIntent = stripe.String(reference)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := stripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = maps.Clone(req.Metadata)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	refund, err := p.refunds.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.refund.failed", map[string]any{"reference": reference, "error": err.Error()})
		return PaymentDetails{}, fmt.Errorf("stripe: refund %s: %w", reference, err)
	}
	details := PaymentDetails{
		Provider:   "stripe",
		Reference:  reference,
		RefundID:   refund.ID,
		Status:     stripeRefundStatus(refund.Status),
		Amount:     refund.Amount,
		Currency:   strings.ToUpper(string(refund.Currency)),
		RefundedAt: p.clock().UTC(),
	}
	if refund.Created > 0 {
		details.RefundedAt = time.Unix(refund.Created, 0).UTC()
	}
	if details.Status == RefundFailed {
		return PaymentDetails{}, fmt.Errorf("stripe: refund %s for %s failed", refund.ID, reference)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"reference": reference,
		"refund":    refund.ID,
		"amount":    refund.Amount,
		"status":    string(details.Status),
	})
	return details, nil
}

func isChargeReference(reference string) bool {
	return strings.HasPrefix(reference, "ch_") || strings.HasPrefix(reference, "py_")
}

func stripeRefundStatus(status stripe.RefundStatus) RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundFailed
	default:
		return RefundPending
	}
}

// stripeRefundReason passes through the reasons Stripe accepts; free text is dropped
// and travels in metadata instead.
func stripeRefundReason(reason string) string {
	switch r := stripe.RefundReason(strings.ToLower(strings.TrimSpace(reason))); r {
	case stripe.RefundReasonDuplicate, stripe.RefundReasonFraudulent, stripe.RefundReasonRequestedByCustomer:
		return string(r)
	}
	return ""
}
