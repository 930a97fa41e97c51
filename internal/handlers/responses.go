package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/services"
)

// writeServiceError maps service sentinels onto the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, entity string) {
	if err == nil {
		return
	}
	var httpErr httpx.Error
	if errors.As(err, &httpErr) {
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrStoreResolution):
		httpx.WriteError(ctx, w, httpx.NewError("store_required", "store-id or store-url header is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(entity+"_not_found", trimSentinel(err), http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientInventory):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_inventory", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidPricing):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pricing", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidRefundAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_refund_amount", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError(entity+"_not_cancellable", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError(entity+"_not_refundable", trimSentinel(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentProvider):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment provider rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrTransientStore), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("temporarily_unavailable", "please retry the request", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCustomerResolution):
		httpx.WriteError(ctx, w, httpx.NewError("customer_resolution_failed", "customer could not be resolved", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// trimSentinel drops everything up to the innermost "sentinel: " prefix so clients see the detail only.
func trimSentinel(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		return msg[idx+2:]
	}
	return msg
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

type addressPayload struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type customerPayload struct {
	ID      string          `json:"_id,omitempty"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Phone   string          `json:"phone,omitempty"`
	Address *addressPayload `json:"address,omitempty"`
}

type pricingPayload struct {
	Subtotal     float64 `json:"subtotal"`
	Tax          float64 `json:"tax"`
	Shipping     float64 `json:"shipping"`
	Discount     float64 `json:"discount"`
	Total        float64 `json:"total"`
	Currency     string  `json:"currency,omitempty"`
	DiscountCode string  `json:"discountCode,omitempty"`
}

type refundPayload struct {
	ID          string  `json:"_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason,omitempty"`
	Method      string  `json:"method,omitempty"`
	ProviderRef string  `json:"providerRef,omitempty"`
	ProcessedAt string  `json:"processedAt"`
	ProcessedBy string  `json:"processedBy,omitempty"`
}

type paymentPayload struct {
	Method         string          `json:"method,omitempty"`
	Status         string          `json:"status"`
	Amount         float64         `json:"amount"`
	RefundedAmount float64         `json:"refundedAmount"`
	Refunds        []refundPayload `json:"refunds"`
	ProofURL       string          `json:"proofUrl,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	PaidAt         string          `json:"paidAt,omitempty"`
}

type timelinePayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

type orderItemPayload struct {
	ProductID   string   `json:"productId"`
	VariantID   string   `json:"variantId,omitempty"`
	Name        string   `json:"name"`
	VariantName string   `json:"variantName,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	Images      []string `json:"images,omitempty"`
	Quantity    int      `json:"quantity"`
	UnitPrice   float64  `json:"unitPrice"`
	TotalPrice  float64  `json:"totalPrice"`
}

type deliveryPayload struct {
	Method  string          `json:"method,omitempty"`
	Address *addressPayload `json:"address,omitempty"`
	Fee     float64         `json:"fee"`
	Notes   string          `json:"notes,omitempty"`
}

type orderPayload struct {
	ID           string             `json:"_id"`
	StoreID      string             `json:"storeId"`
	OrderNumber  string             `json:"orderNumber"`
	CustomerID   string             `json:"customerId,omitempty"`
	Customer     customerPayload    `json:"customer"`
	Items        []orderItemPayload `json:"items"`
	Delivery     deliveryPayload    `json:"delivery"`
	Pricing      pricingPayload     `json:"pricing"`
	Status       string             `json:"status"`
	Payment      paymentPayload     `json:"payment"`
	Timeline     []timelinePayload  `json:"timeline"`
	Notes        string             `json:"notes,omitempty"`
	Source       string             `json:"source,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	CancelReason string             `json:"cancelReason,omitempty"`
	CancelledAt  string             `json:"cancelledAt,omitempty"`
	InvoiceURL   string             `json:"invoiceUrl,omitempty"`
	CreatedAt    string             `json:"createdAt"`
	UpdatedAt    string             `json:"updatedAt"`
}

// orderCreatedPayload is the compact public response of POST /orders.
type orderCreatedPayload struct {
	ID          string  `json:"_id"`
	OrderNumber string  `json:"orderNumber"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
	InvoiceURL  string  `json:"invoiceUrl"`
}

type slotPayload struct {
	ID           string  `json:"_id"`
	Name         string  `json:"name"`
	Type         string  `json:"type,omitempty"`
	Price        float64 `json:"price"`
	Capacity     int     `json:"capacity,omitempty"`
	Duration     int     `json:"duration,omitempty"`
	DurationUnit string  `json:"durationUnit,omitempty"`
}

type bookingDetailsPayload struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

type bookingPayload struct {
	ID             string                `json:"_id"`
	StoreID        string                `json:"storeId"`
	BookingNumber  string                `json:"bookingNumber"`
	CustomerID     string                `json:"customerId,omitempty"`
	Customer       customerPayload       `json:"customer"`
	Slot           slotPayload           `json:"slot"`
	BookingDetails bookingDetailsPayload `json:"bookingDetails"`
	Pricing        pricingPayload        `json:"pricing"`
	Status         string                `json:"status"`
	Payment        paymentPayload        `json:"payment"`
	Timeline       []timelinePayload     `json:"timeline"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	CancelReason   string                `json:"cancelReason,omitempty"`
	CancelledAt    string                `json:"cancelledAt,omitempty"`
	CreatedAt      string                `json:"createdAt"`
	UpdatedAt      string                `json:"updatedAt"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			VariantName: item.VariantName,
			SKU:         item.SKU,
			Images:      item.Images,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return orderPayload{
		ID:          order.ID,
		StoreID:     order.StoreID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Customer:    buildCustomerPayload(order.Customer),
		Items:       items,
		Delivery: deliveryPayload{
			Method:  order.Delivery.Method,
			Address: buildAddressPayload(order.Delivery.Address),
			Fee:     order.Delivery.Fee,
			Notes:   order.Delivery.Notes,
		},
		Pricing:      buildPricingPayload(order.Pricing),
		Status:       string(order.Status),
		Payment:      buildPaymentPayload(order.Payment),
		Timeline:     buildTimelinePayload(order.Timeline),
		Notes:        order.Notes,
		Source:       order.Source,
		Metadata:     order.Metadata,
		CancelReason: order.CancelReason,
		CancelledAt:  formatOptionalTime(order.CancelledAt),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
}

func buildBookingPayload(booking services.Booking) bookingPayload {
	details := booking.Details
	return bookingPayload{
		ID:            booking.ID,
		StoreID:       booking.StoreID,
		BookingNumber: booking.BookingNumber,
		CustomerID:    booking.CustomerID,
		Customer:      buildCustomerPayload(booking.Customer),
		Slot: slotPayload{
			ID:           booking.Slot.ID,
			Name:         booking.Slot.Name,
			Type:         booking.Slot.Type,
			Price:        booking.Slot.Price,
			Capacity:     booking.Slot.Capacity,
			Duration:     booking.Slot.Duration,
			DurationUnit: booking.Slot.DurationUnit,
		},
		BookingDetails: bookingDetailsPayload{
			StartDate: formatDate(details.StartDate),
			EndDate:   formatDate(details.EndDate),
			StartTime: details.StartTime,
			EndTime:   details.EndTime,
			Quantity:  details.Quantity,
			Notes:     details.Notes,
		},
		Pricing:      buildPricingPayload(booking.Pricing),
		Status:       string(booking.Status),
		Payment:      buildPaymentPayload(booking.Payment),
		Timeline:     buildTimelinePayload(booking.Timeline),
		Metadata:     booking.Metadata,
		CancelReason: booking.CancelReason,
		CancelledAt:  formatOptionalTime(booking.CancelledAt),
		CreatedAt:    formatTime(booking.CreatedAt),
		UpdatedAt:    formatTime(booking.UpdatedAt),
	}
}

func buildCustomerPayload(customer services.CustomerSnapshot) customerPayload {
	return customerPayload{
		ID:      customer.ID,
		Name:    customer.Name,
		Email:   customer.Email,
		Phone:   customer.Phone,
		Address: buildAddressPayload(customer.Address),
	}
}

func buildAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil || addr.IsZero() {
		return nil
	}
	return &addressPayload{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func buildPricingPayload(p services.Pricing) pricingPayload {
	return pricingPayload{
		Subtotal:     p.Subtotal,
		Tax:          p.Tax,
		Shipping:     p.Shipping,
		Discount:     p.Discount,
		Total:        p.Total,
		Currency:     p.Currency,
		DiscountCode: p.DiscountCode,
	}
}

func buildPaymentPayload(p services.Payment) paymentPayload {
	refunds := make([]refundPayload, 0, len(p.Refunds))
	for _, refund := range p.Refunds {
		refunds = append(refunds, buildRefundPayload(refund))
	}
	return paymentPayload{
		Method:         p.Method,
		Status:         string(p.Status),
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		Refunds:        refunds,
		ProofURL:       p.ProofURL,
		Reference:      p.Reference,
		Provider:       p.Provider,
		PaidAt:         formatOptionalTime(p.PaidAt),
	}
}

func buildRefundPayload(refund services.Refund) refundPayload {
	return refundPayload{
		ID:          refund.ID,
		Amount:      refund.Amount,
		Reason:      refund.Reason,
		Method:      refund.Method,
		ProviderRef: refund.ProviderRef,
		ProcessedAt: formatTime(refund.ProcessedAt),
		ProcessedBy: refund.ProcessedBy,
	}
}

func buildTimelinePayload(entries []services.TimelineEntry) []timelinePayload {
	out := make([]timelinePayload, 0, len(entries))
	for _, entry := range entries {
		out = append(out, timelinePayload{
			Status:    entry.Status,
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
