package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/services"
)

const bookingDataField = "bookingData"

type createBookingRequest struct {
	Customer       contactRequest        `json:"customer"`
	SlotID         string                `json:"slotId"`
	BookingDetails bookingDetailsRequest `json:"bookingDetails"`
	Discount       float64               `json:"discount"`
	Total          *float64              `json:"total"`
	Payment        *paymentRequest       `json:"payment"`
	Metadata       map[string]any        `json:"metadata"`
}

type bookingDetailsRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

func (req createBookingRequest) toCommand(store services.Store, actor string) (services.CreateBookingCommand, error) {
	start, err := parseDate("bookingDetails.startDate", req.BookingDetails.StartDate)
	if err != nil {
		return services.CreateBookingCommand{}, err
	}
	end, err := parseDate("bookingDetails.endDate", req.BookingDetails.EndDate)
	if err != nil {
		return services.CreateBookingCommand{}, err
	}
	cmd := services.CreateBookingCommand{
		Store:    store,
		Customer: req.Customer.toInput(),
		SlotID:   strings.TrimSpace(req.SlotID),
		Details: services.BookingDetails{
			StartDate: start,
			EndDate:   end,
			StartTime: strings.TrimSpace(req.BookingDetails.StartTime),
			EndTime:   strings.TrimSpace(req.BookingDetails.EndTime),
			Quantity:  req.BookingDetails.Quantity,
			Notes:     req.BookingDetails.Notes,
		},
		Discount:    req.Discount,
		ClientTotal: req.Total,
		Guest:       actor == "",
		ActorID:     actor,
		Metadata:    req.Metadata,
	}
	if req.Payment != nil {
		cmd.PaymentMethod = strings.TrimSpace(req.Payment.Method)
	}
	return cmd, nil
}

type createBookingResponse struct {
	Success bool           `json:"success"`
	Booking bookingPayload `json:"booking"`
}

type bookingResponse struct {
	Booking bookingPayload `json:"booking"`
}

type bookingRefundResponse struct {
	Booking bookingPayload `json:"booking"`
	Refund  refundPayload  `json:"refund"`
}

// BookingHandlers serves public slot reservations and staff booking management.
type BookingHandlers struct {
	authn    *auth.Authenticator
	bookings services.BookingService
	stores   services.StoreResolver
	uploader ProofUploader

	createMiddlewares []func(http.Handler) http.Handler
}

// BookingOption customises BookingHandlers.
type BookingOption func(*BookingHandlers)

// WithBookingProofUploader enables multipart payment proofs on public bookings.
func WithBookingProofUploader(uploader ProofUploader) BookingOption {
	return func(h *BookingHandlers) {
		h.uploader = uploader
	}
}

// WithBookingCreateMiddlewares wraps POST /bookings/public.
func WithBookingCreateMiddlewares(mw ...func(http.Handler) http.Handler) BookingOption {
	return func(h *BookingHandlers) {
		h.createMiddlewares = append(h.createMiddlewares, mw...)
	}
}

func NewBookingHandlers(authn *auth.Authenticator, bookings services.BookingService, stores services.StoreResolver, opts ...BookingOption) *BookingHandlers {
	h := &BookingHandlers{
		authn:    authn,
		bookings: bookings,
		stores:   stores,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /bookings endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.createMiddlewares...).Post("/public", h.createBooking)

	r.Group(func(staff chi.Router) {
		if h.authn != nil {
			staff.Use(h.authn.RequireStoreSession(staffRoles...))
		}
		staff.Get("/{bookingID}", h.getBooking)
		staff.Patch("/{bookingID}/status", h.updateStatus)
		staff.Patch("/{bookingID}/payment", h.updatePayment)
		staff.Post("/{bookingID}/cancel", h.cancelBooking)
		staff.Post("/{bookingID}/refund", h.refundBooking)
	})
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil || h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_service_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createBookingRequest
	var limit int64
	if h.uploader != nil {
		limit = h.uploader.MaxBytes()
	}
	proof, err := readSubmission(w, r, bookingDataField, &req, limit)
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	defer proof.Close()

	store, err := h.stores.Resolve(ctx, storeLookup(r))
	if err != nil {
		writeServiceError(ctx, w, err, "store")
		return
	}
	cmd, err := req.toCommand(store, sessionActor(ctx))
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	uploaded, err := uploadProof(ctx, h.uploader, store.ID, proof)
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	cmd.PaymentProofURL = uploaded.URL

	booking, err := h.bookings.CreateBooking(ctx, cmd)
	if err != nil {
		discardProof(ctx, h.uploader, uploaded)
		writeServiceError(ctx, w, err, "booking")
		return
	}
	writeJSONResponse(w, http.StatusCreated, createBookingResponse{
		Success: true,
		Booking: buildBookingPayload(booking),
	})
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.GetBooking(r.Context(), storeID, chi.URLParam(r, "bookingID"))
	respondBooking(w, r, booking, err)
}

func (h *BookingHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	booking, err := h.bookings.UpdateStatus(ctx, services.UpdateStatusCommand{
		StoreID:        storeID,
		EntityID:       chi.URLParam(r, "bookingID"),
		Status:         strings.TrimSpace(req.Status),
		Note:           req.Note,
		ActorID:        sessionActor(ctx),
		NotifyCustomer: req.NotifyCustomer,
	})
	respondBooking(w, r, booking, err)
}

func (h *BookingHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req paymentUpdateRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	booking, err := h.bookings.UpdatePayment(ctx, services.UpdatePaymentCommand{
		StoreID:   storeID,
		EntityID:  chi.URLParam(r, "bookingID"),
		Status:    strings.TrimSpace(req.Status),
		Reference: strings.TrimSpace(req.Reference),
		Note:      req.Note,
		ActorID:   sessionActor(ctx),
	})
	respondBooking(w, r, booking, err)
}

func (h *BookingHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	booking, err := h.bookings.Cancel(ctx, services.CancelCommand{
		StoreID:      storeID,
		EntityID:     chi.URLParam(r, "bookingID"),
		Reason:       req.Reason,
		RefundAmount: req.RefundAmount,
		ActorID:      sessionActor(ctx),
	})
	respondBooking(w, r, booking, err)
}

func (h *BookingHandlers) refundBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := h.requireStaff(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCommandBodyBytes); err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	booking, refund, err := h.bookings.Refund(ctx, services.RefundCommand{
		StoreID:  storeID,
		EntityID: chi.URLParam(r, "bookingID"),
		Amount:   req.Amount,
		Reason:   req.Reason,
		Method:   strings.TrimSpace(req.Method),
		ActorID:  sessionActor(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "booking")
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingRefundResponse{
		Booking: buildBookingPayload(booking),
		Refund:  buildRefundPayload(refund),
	})
}

func (h *BookingHandlers) requireStaff(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.bookings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_service_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	storeID := auth.SessionStoreID(ctx)
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "staff session required", http.StatusUnauthorized))
		return "", false
	}
	return storeID, true
}

func respondBooking(w http.ResponseWriter, r *http.Request, booking services.Booking, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err, "booking")
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}
