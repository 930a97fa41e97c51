package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/services"
)

const (
	paymentsWebhookSecret = "payments"
	webhookActor          = "webhook:payments"
	maxWebhookBodyBytes   = 64 * 1024
)

// providerPaymentStatuses folds provider vocabularies onto payment statuses.
var providerPaymentStatuses = map[string]string{
	"paid":      "completed",
	"succeeded": "completed",
	"success":   "completed",
	"settled":   "completed",
	"canceled":  "failed",
	"expired":   "failed",
	"declined":  "failed",
}

type paymentWebhookRequest struct {
	OrderID   string `json:"orderId"`
	BookingID string `json:"bookingId"`
	StoreID   string `json:"storeId"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

type paymentWebhookResponse struct {
	Received      bool   `json:"received"`
	EntityID      string `json:"entityId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

// WebhookHandlers accepts signed payment notifications from the PSP gateway.
type WebhookHandlers struct {
	hmac     *auth.HMACValidator
	orders   services.OrderService
	bookings services.BookingService
}

func NewWebhookHandlers(validator *auth.HMACValidator, orders services.OrderService, bookings services.BookingService) *WebhookHandlers {
	return &WebhookHandlers{hmac: validator, orders: orders, bookings: bookings}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.hmac != nil {
		r.With(h.hmac.RequireHMAC(paymentsWebhookSecret)).Post("/payments", h.paymentUpdated)
		return
	}
	r.Post("/payments", h.paymentUpdated)
}

func (h *WebhookHandlers) paymentUpdated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req paymentWebhookRequest
	if err := httpx.DecodeJSON(w, r, &req, maxWebhookBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "payment")
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	bookingID := strings.TrimSpace(req.BookingID)
	storeID := strings.TrimSpace(req.StoreID)
	switch {
	case storeID == "":
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "storeId is required", http.StatusBadRequest))
		return
	case (orderID == "") == (bookingID == ""):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "exactly one of orderId or bookingId is required", http.StatusBadRequest))
		return
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if mapped, ok := providerPaymentStatuses[status]; ok {
		status = mapped
	}
	cmd := services.UpdatePaymentCommand{
		StoreID:   storeID,
		Status:    status,
		Reference: strings.TrimSpace(req.Reference),
		Note:      req.Note,
		ActorID:   webhookActor,
	}

	if orderID != "" {
		if h.orders == nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}
		cmd.EntityID = orderID
		order, err := h.orders.UpdatePayment(ctx, cmd)
		if err != nil {
			writeServiceError(ctx, w, err, "order")
			return
		}
		writeJSONResponse(w, http.StatusOK, paymentWebhookResponse{
			Received:      true,
			EntityID:      order.ID,
			Status:        string(order.Status),
			PaymentStatus: string(order.Payment.Status),
		})
		return
	}

	if h.bookings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_service_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}
	cmd.EntityID = bookingID
	booking, err := h.bookings.UpdatePayment(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentWebhookResponse{
		Received:      true,
		EntityID:      booking.ID,
		Status:        string(booking.Status),
		PaymentStatus: string(booking.Payment.Status),
	})
}
