package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/platform/pagination"
	"github.com/sqaleshop/api/internal/services"
)

const orderDataField = "orderData"

var staffRoles = []string{auth.RoleOwner, auth.RoleStaff, auth.RoleAdmin}

type createOrderRequest struct {
	Customer     contactRequest     `json:"customer"`
	Items        []orderItemRequest `json:"items"`
	Delivery     *deliveryRequest   `json:"delivery"`
	Payment      *paymentRequest    `json:"payment"`
	Discount     float64            `json:"discount"`
	DiscountCode string             `json:"discountCode"`
	Subtotal     *float64           `json:"subtotal"`
	Total        *float64           `json:"total"`
	Notes        string             `json:"notes"`
	Source       string             `json:"source"`
	Metadata     map[string]any     `json:"metadata"`
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

type deliveryRequest struct {
	Method  string          `json:"method"`
	Address *addressRequest `json:"address"`
	Fee     float64         `json:"fee"`
	Notes   string          `json:"notes"`
}

func (req createOrderRequest) toCommand(store services.Store, actor, proofURL string) services.CreateOrderCommand {
	items := make([]services.StockDemand, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.StockDemand{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			SKU:       strings.TrimSpace(item.SKU),
			Quantity:  item.Quantity,
		})
	}
	cmd := services.CreateOrderCommand{
		Store:           store,
		Customer:        req.Customer.toInput(),
		Items:           items,
		Discount:        req.Discount,
		DiscountCode:    strings.TrimSpace(req.DiscountCode),
		ClientSubtotal:  req.Subtotal,
		ClientTotal:     req.Total,
		Notes:           req.Notes,
		Source:          strings.TrimSpace(req.Source),
		PaymentProofURL: proofURL,
		Guest:           actor == "",
		ActorID:         actor,
		Metadata:        req.Metadata,
	}
	if req.Delivery != nil {
		cmd.Delivery = services.Delivery{
			Method:  strings.TrimSpace(req.Delivery.Method),
			Address: req.Delivery.Address.toDomain(),
			Fee:     req.Delivery.Fee,
			Notes:   req.Delivery.Notes,
		}
	}
	if req.Payment != nil {
		cmd.PaymentMethod = strings.TrimSpace(req.Payment.Method)
	}
	return cmd
}

type createOrderResponse struct {
	Success bool                `json:"success"`
	Order   orderCreatedPayload `json:"order"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderRefundResponse struct {
	Order  orderPayload  `json:"order"`
	Refund refundPayload `json:"refund"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// OrderHandlers serves checkout for storefronts and order management for staff.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	stores   services.StoreResolver
	uploader ProofUploader

	createMiddlewares []func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderProofUploader enables multipart payment proofs on checkout.
func WithOrderProofUploader(uploader ProofUploader) OrderOption {
	return func(h *OrderHandlers) {
		h.uploader = uploader
	}
}

// WithOrderCreateMiddlewares wraps POST /orders, typically with the idempotency middleware.
func WithOrderCreateMiddlewares(mw ...func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.createMiddlewares = append(h.createMiddlewares, mw...)
	}
}

// NewOrderHandlers constructs the /orders handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, stores services.StoreResolver, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
		stores: stores,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	public := make([]func(http.Handler) http.Handler, 0, len(h.createMiddlewares)+1)
	if h.authn != nil {
		public = append(public, h.authn.OptionalSession())
	}
	public = append(public, h.createMiddlewares...)
	r.With(public...).Post("/", h.createOrder)

	r.Group(func(staff chi.Router) {
		if h.authn != nil {
			staff.Use(h.authn.RequireStoreSession(staffRoles...))
		}
		staff.Get("/", h.listOrders)
		staff.Get("/{orderID}", h.getOrder)
		staff.Patch("/{orderID}/status", h.updateStatus)
		staff.Patch("/{orderID}/payment", h.updatePayment)
		staff.Post("/{orderID}/cancel", h.cancelOrder)
		staff.Post("/{orderID}/refund", h.refundOrder)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	proof, err := readSubmission(w, r, orderDataField, &req, h.proofLimit())
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	defer proof.Close()

	store, err := h.stores.Resolve(ctx, storeLookup(r))
	if err != nil {
		writeServiceError(ctx, w, err, "store")
		return
	}
	uploaded, err := uploadProof(ctx, h.uploader, store.ID, proof)
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}

	order, err := h.orders.CreateOrder(ctx, req.toCommand(store, sessionActor(ctx), uploaded.URL))
	if err != nil {
		discardProof(ctx, h.uploader, uploaded)
		writeServiceError(ctx, w, err, "order")
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Success: true,
		Order: orderCreatedPayload{
			ID:          order.ID,
			OrderNumber: order.OrderNumber,
			Total:       order.Pricing.Total,
			Status:      string(order.Status),
			InvoiceURL:  h.orders.InvoiceURL(order),
		},
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		code := "invalid_page_size"
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			code = "invalid_page_token"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		StoreID: storeID,
		Status:  parseFilterValues(r.URL.Query()["status"]),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, h.orderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), storeID, chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		StoreID:        storeID,
		EntityID:       chi.URLParam(r, "orderID"),
		Status:         strings.TrimSpace(req.Status),
		Note:           req.Note,
		ActorID:        sessionActor(ctx),
		NotifyCustomer: req.NotifyCustomer,
	})
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req paymentUpdateRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	order, err := h.orders.UpdatePayment(ctx, services.UpdatePaymentCommand{
		StoreID:   storeID,
		EntityID:  chi.URLParam(r, "orderID"),
		Status:    strings.TrimSpace(req.Status),
		Reference: strings.TrimSpace(req.Reference),
		Note:      req.Note,
		ActorID:   sessionActor(ctx),
	})
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	order, err := h.orders.Cancel(ctx, services.CancelCommand{
		StoreID:      storeID,
		EntityID:     chi.URLParam(r, "orderID"),
		Reason:       req.Reason,
		RefundAmount: req.RefundAmount,
		ActorID:      sessionActor(ctx),
	})
	h.respondOrder(w, r, order, err)
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	order, refund, err := h.orders.Refund(ctx, services.RefundCommand{
		StoreID:  storeID,
		EntityID: chi.URLParam(r, "orderID"),
		Amount:   req.Amount,
		Reason:   req.Reason,
		Method:   strings.TrimSpace(req.Method),
		ActorID:  sessionActor(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	writeJSONResponse(w, http.StatusOK, orderRefundResponse{
		Order:  h.orderPayload(order),
		Refund: buildRefundPayload(refund),
	})
}

// requireStaff returns the session store, writing 401 or 503 when the request cannot proceed.
func (h *OrderHandlers) requireStaff(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	storeID := auth.SessionStoreID(ctx)
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "staff session required", http.StatusUnauthorized))
		return "", false
	}
	return storeID, true
}

func (h *OrderHandlers) respondOrder(w http.ResponseWriter, r *http.Request, order services.Order, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err, "order")
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: h.orderPayload(order)})
}

func (h *OrderHandlers) orderPayload(order services.Order) orderPayload {
	payload := buildOrderPayload(order)
	payload.InvoiceURL = h.orders.InvoiceURL(order)
	return payload
}

func (h *OrderHandlers) proofLimit() int64 {
	if h.uploader == nil {
		return 0
	}
	return h.uploader.MaxBytes()
}

// parseFilterValues accepts repeated and comma separated query values.
func parseFilterValues(raw []string) []string {
	var out []string
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
