// Package payments refunds card payments at the payment service provider (PSP)
// that captured them. Orders and bookings store the PSP reference; this package
// only ever moves money back.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RefundStatus is the PSP's view of a refund.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// ErrUnsupportedProvider means no registered provider matched the payment.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// RefundRequest moves money back for one captured payment. Reference is the PSP id
// recorded at checkout. A nil Amount refunds whatever is left.
type RefundRequest struct {
	Reference      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentDetails is what the PSP reported back for a refund.
type PaymentDetails struct {
	Provider   string
	Reference  string
	RefundID   string
	Status     RefundStatus
	Amount     int64
	Currency   string
	RefundedAt time.Time
}

// Provider is one PSP adapter.
type Provider interface {
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// PaymentContext carries what the order knows about how it was paid.
type PaymentContext struct {
	// PreferredProvider is the provider recorded on the payment, e.g. "stripe".
	PreferredProvider string
	Currency          string
}

// Manager picks the provider for a payment. Payments without a known provider go
// to the default, which is stripe when registered or the only provider otherwise.
type Manager struct {
	providers map[string]Provider
	fallback  string
}

func NewManager(providers map[string]Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider %q", name)
		}
		m.providers[key] = p
		if len(providers) == 1 {
			m.fallback = key
		}
	}
	if _, ok := m.providers["stripe"]; ok {
		m.fallback = "stripe"
	}
	return m, nil
}

// Refund sends req to the provider recorded on the payment.
func (m *Manager) Refund(ctx context.Context, pc PaymentContext, req RefundRequest) (PaymentDetails, error) {
	name := providerKey(pc.PreferredProvider)
	provider, ok := m.providers[name]
	if !ok {
		name = m.fallback
		provider, ok = m.providers[name]
	}
	if !ok {
		return PaymentDetails{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, pc.PreferredProvider)
	}
	details, err := provider.Refund(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = name
	}
	if details.Currency == "" {
		details.Currency = strings.ToUpper(strings.TrimSpace(pc.Currency))
	}
	return details, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
