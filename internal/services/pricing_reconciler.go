package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var clientTolerance = decimal.NewFromInt(1)

// PricingInput carries resolved lines plus the order level adjustments.
type PricingInput struct {
	Lines          []OrderItem
	Shipping       float64
	Discount       float64
	DiscountCode   string
	Currency       string
	ClientSubtotal *float64
	ClientTotal    *float64
}

// BookingPricingInput prices a single slot reservation.
type BookingPricingInput struct {
	Price       float64
	Quantity    int
	Discount    float64
	Currency    string
	ClientTotal *float64
}

// PricingReconciler recomputes totals server side. Client figures are only compared, never persisted.
type PricingReconciler struct {
	logger func(context.Context, string, map[string]any)
}

// NewPricingReconciler constructs a reconciler; logger may be nil.
func NewPricingReconciler(logger func(ctx context.Context, event string, fields map[string]any)) *PricingReconciler {
	if logger == nil {
		logger = noopLogger
	}
	return &PricingReconciler{logger: logger}
}

// Reconcile computes subtotal = Σ unitPrice×qty and total = subtotal + tax + shipping − discount.
// Line totals are rewritten so they sum exactly to the subtotal.
func (p *PricingReconciler) Reconcile(ctx context.Context, input PricingInput) (Pricing, []OrderItem, error) {
	if len(input.Lines) == 0 {
		return Pricing{}, nil, fmt.Errorf("%w: no priced lines", ErrInvalidPricing)
	}
	if input.Shipping < 0 {
		return Pricing{}, nil, fmt.Errorf("%w: shipping must not be negative", ErrInvalidPricing)
	}
	if input.Discount < 0 {
		return Pricing{}, nil, fmt.Errorf("%w: discount must not be negative", ErrInvalidPricing)
	}

	lines := make([]OrderItem, len(input.Lines))
	subtotal := decimal.Zero
	for i, line := range input.Lines {
		if line.UnitPrice <= 0 {
			return Pricing{}, nil, fmt.Errorf("%w: %s has no positive unit price", ErrInvalidPricing, lineLabel(line))
		}
		if line.Quantity <= 0 {
			return Pricing{}, nil, fmt.Errorf("%w: %s has no positive quantity", ErrInvalidPricing, lineLabel(line))
		}
		lineTotal := decimal.NewFromFloat(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		line.TotalPrice = lineTotal.InexactFloat64()
		lines[i] = line
		subtotal = subtotal.Add(lineTotal)
	}

	tax := decimal.Zero
	shipping := decimal.NewFromFloat(input.Shipping).Round(2)
	discount := decimal.NewFromFloat(input.Discount).Round(2)
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if !total.IsPositive() {
		return Pricing{}, nil, fmt.Errorf("%w: total must be positive, got %s", ErrInvalidPricing, total.StringFixed(2))
	}

	p.compare(ctx, "subtotal", input.ClientSubtotal, subtotal)
	p.compare(ctx, "total", input.ClientTotal, total)

	return Pricing{
		Subtotal:     subtotal.InexactFloat64(),
		Tax:          tax.InexactFloat64(),
		Shipping:     shipping.InexactFloat64(),
		Discount:     discount.InexactFloat64(),
		Total:        total.InexactFloat64(),
		Currency:     strings.ToUpper(strings.TrimSpace(input.Currency)),
		DiscountCode: strings.TrimSpace(input.DiscountCode),
	}, lines, nil
}

// ReconcileBooking computes subtotal = price×quantity and total = subtotal − discount.
func (p *PricingReconciler) ReconcileBooking(ctx context.Context, input BookingPricingInput) (Pricing, error) {
	if input.Price <= 0 {
		return Pricing{}, fmt.Errorf("%w: slot price must be positive", ErrInvalidPricing)
	}
	if input.Discount < 0 {
		return Pricing{}, fmt.Errorf("%w: discount must not be negative", ErrInvalidPricing)
	}
	quantity := input.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	subtotal := decimal.NewFromFloat(input.Price).Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	discount := decimal.NewFromFloat(input.Discount).Round(2)
	total := subtotal.Sub(discount)
	if !total.IsPositive() {
		return Pricing{}, fmt.Errorf("%w: total must be positive, got %s", ErrInvalidPricing, total.StringFixed(2))
	}

	p.compare(ctx, "total", input.ClientTotal, total)

	return Pricing{
		Subtotal: subtotal.InexactFloat64(),
		Discount: discount.InexactFloat64(),
		Total:    total.InexactFloat64(),
		Currency: strings.ToUpper(strings.TrimSpace(input.Currency)),
	}, nil
}

func (p *PricingReconciler) compare(ctx context.Context, field string, client *float64, server decimal.Decimal) {
	if client == nil {
		return
	}
	submitted := decimal.NewFromFloat(*client)
	if submitted.Sub(server).Abs().GreaterThan(clientTolerance) {
		p.logger(ctx, "pricing.client.mismatch", map[string]any{
			"field":  field,
			"client": submitted.StringFixed(2),
			"server": server.StringFixed(2),
		})
	}
}

func lineLabel(line OrderItem) string {
	if line.Name != "" {
		return line.Name
	}
	return line.ProductID
}
