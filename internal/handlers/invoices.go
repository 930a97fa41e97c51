package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/services"
)

type invoicePayload struct {
	OrderID       string             `json:"orderId"`
	OrderNumber   string             `json:"orderNumber"`
	IssuedAt      string             `json:"issuedAt"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"paymentStatus"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	Customer      customerPayload    `json:"customer"`
	Items         []orderItemPayload `json:"items"`
	Delivery      deliveryPayload    `json:"delivery"`
	Pricing       pricingPayload     `json:"pricing"`
	Refunded      float64            `json:"refunded"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

// InvoiceHandlers serves customer invoices addressed by order id and invoice token.
type InvoiceHandlers struct {
	orders services.OrderService
}

func NewInvoiceHandlers(orders services.OrderService) *InvoiceHandlers {
	return &InvoiceHandlers{orders: orders}
}

// Routes registers GET /invoices/{orderID} under the public group.
func (h *InvoiceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/invoices/{orderID}", h.getInvoice)
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	order, err := h.orders.GetInvoice(ctx, chi.URLParam(r, "orderID"), token)
	if err != nil {
		// a wrong token and a missing order are indistinguishable
		writeServiceError(ctx, w, err, "invoice")
		return
	}

	full := buildOrderPayload(order)
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: invoicePayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		IssuedAt:      full.CreatedAt,
		Status:        full.Status,
		PaymentStatus: full.Payment.Status,
		PaymentMethod: full.Payment.Method,
		Customer:      full.Customer,
		Items:         full.Items,
		Delivery:      full.Delivery,
		Pricing:       full.Pricing,
		Refunded:      full.Payment.RefundedAmount,
	}})
}
