package firestore

import (
	"strings"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
)

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type customerSnapshotDocument struct {
	ID      string           `firestore:"id"`
	Name    string           `firestore:"name"`
	Email   string           `firestore:"email"`
	Phone   string           `firestore:"phone,omitempty"`
	Address *addressDocument `firestore:"address,omitempty"`
}

type pricingDocument struct {
	Subtotal     float64 `firestore:"subtotal"`
	Tax          float64 `firestore:"tax"`
	Shipping     float64 `firestore:"shipping"`
	Discount     float64 `firestore:"discount"`
	Total        float64 `firestore:"total"`
	Currency     string  `firestore:"currency"`
	DiscountCode string  `firestore:"discountCode,omitempty"`
}

type timelineDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
	UpdatedBy string    `firestore:"updatedBy,omitempty"`
}

type refundDocument struct {
	ID          string    `firestore:"id"`
	Amount      float64   `firestore:"amount"`
	Reason      string    `firestore:"reason,omitempty"`
	Method      string    `firestore:"method,omitempty"`
	ProviderRef string    `firestore:"providerRef,omitempty"`
	ProcessedAt time.Time `firestore:"processedAt"`
	ProcessedBy string    `firestore:"processedBy,omitempty"`
}

type paymentDocument struct {
	Method         string           `firestore:"method"`
	Status         string           `firestore:"status"`
	Amount         float64          `firestore:"amount"`
	RefundedAmount float64          `firestore:"refundedAmount"`
	Refunds        []refundDocument `firestore:"refunds,omitempty"`
	ProofURL       string           `firestore:"proofUrl,omitempty"`
	Reference      string           `firestore:"reference,omitempty"`
	Provider       string           `firestore:"provider,omitempty"`
	PaidAt         *time.Time       `firestore:"paidAt,omitempty"`
}

func encodeAddress(addr *domain.Address) *addressDocument {
	if addr == nil || addr.IsZero() {
		return nil
	}
	return &addressDocument{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}

func encodeCustomerSnapshot(c domain.CustomerSnapshot) customerSnapshotDocument {
	return customerSnapshotDocument{
		ID:      c.ID,
		Name:    c.Name,
		Email:   c.Email,
		Phone:   c.Phone,
		Address: encodeAddress(c.Address),
	}
}

func decodeCustomerSnapshot(doc customerSnapshotDocument) domain.CustomerSnapshot {
	return domain.CustomerSnapshot{
		ID:      doc.ID,
		Name:    doc.Name,
		Email:   doc.Email,
		Phone:   doc.Phone,
		Address: decodeAddress(doc.Address),
	}
}

func encodePricing(p domain.Pricing) pricingDocument {
	return pricingDocument(p)
}

func decodePricing(doc pricingDocument) domain.Pricing {
	return domain.Pricing(doc)
}

func encodeTimeline(entries []domain.TimelineEntry) []timelineDocument {
	out := make([]timelineDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, timelineDocument{
			Status:    entry.Status,
			Timestamp: entry.Timestamp.UTC(),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	return out
}

func decodeTimeline(docs []timelineDocument) []domain.TimelineEntry {
	out := make([]domain.TimelineEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TimelineEntry{
			Status:    doc.Status,
			Timestamp: doc.Timestamp.UTC(),
			Note:      doc.Note,
			UpdatedBy: doc.UpdatedBy,
		})
	}
	return out
}

func encodePayment(p domain.Payment) paymentDocument {
	doc := paymentDocument{
		Method:         p.Method,
		Status:         string(p.Status),
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		ProofURL:       p.ProofURL,
		Reference:      p.Reference,
		Provider:       p.Provider,
		PaidAt:         utcPtr(p.PaidAt),
	}
	for _, refund := range p.Refunds {
		doc.Refunds = append(doc.Refunds, refundDocument{
			ID:          refund.ID,
			Amount:      refund.Amount,
			Reason:      refund.Reason,
			Method:      refund.Method,
			ProviderRef: refund.ProviderRef,
			ProcessedAt: refund.ProcessedAt.UTC(),
			ProcessedBy: refund.ProcessedBy,
		})
	}
	return doc
}

func decodePayment(doc paymentDocument) domain.Payment {
	p := domain.Payment{
		Method:         doc.Method,
		Status:         domain.PaymentStatus(doc.Status),
		Amount:         doc.Amount,
		RefundedAmount: doc.RefundedAmount,
		ProofURL:       doc.ProofURL,
		Reference:      doc.Reference,
		Provider:       doc.Provider,
		PaidAt:         utcPtr(doc.PaidAt),
	}
	for _, refund := range doc.Refunds {
		p.Refunds = append(p.Refunds, domain.Refund{
			ID:          refund.ID,
			Amount:      refund.Amount,
			Reason:      refund.Reason,
			Method:      refund.Method,
			ProviderRef: refund.ProviderRef,
			ProcessedAt: refund.ProcessedAt.UTC(),
			ProcessedBy: refund.ProcessedBy,
		})
	}
	return p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC()
	return &value
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func normaliseStatuses(statuses []string) []string {
	seen := make(map[string]struct{}, len(statuses))
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	// Firestore "in" filters accept at most ten values.
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
