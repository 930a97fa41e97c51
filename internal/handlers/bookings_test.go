package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/services"
)

func newBookingRouter(bookings *stubBookingService, stores *stubStoreResolver, opts ...BookingOption) chi.Router {
	h := NewBookingHandlers(staffAuthenticator(), bookings, stores, opts...)
	return NewRouter(WithBookingRoutes(h.Routes))
}

func sampleBooking() services.Booking {
	return services.Booking{
		ID:            "bkg_1",
		StoreID:       "store_1",
		BookingNumber: "KOPB26030001",
		Slot:          services.SlotSnapshot{ID: "slot_1", Name: "Studio hour", Price: 150},
		Details: services.BookingDetails{
			StartDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC),
			StartTime: "09:00",
			Quantity:  2,
		},
		Pricing: services.Pricing{Subtotal: 300, Total: 300, Currency: "IDR"},
		Status:  domain.BookingStatusPending,
		Payment: services.Payment{Status: domain.PaymentStatusPending, Amount: 300},
	}
}

func sampleBookingBody() map[string]any {
	return map[string]any{
		"customer": map[string]any{"name": "Grace", "email": "grace@example.com", "phone": "+628125550101"},
		"slotId":   "slot_1",
		"bookingDetails": map[string]any{
			"startDate": "2026-03-20",
			"endDate":   "2026-03-21T00:00:00Z",
			"startTime": "09:00",
			"quantity":  2,
		},
		"total":    300,
		"payment":  map[string]any{"method": "bank_transfer"},
		"metadata": map[string]any{"source": "instagram"},
	}
}

func TestCreatePublicBookingMultipart(t *testing.T) {
	var got services.CreateBookingCommand
	bookings := &stubBookingService{createFn: func(_ context.Context, cmd services.CreateBookingCommand) (services.Booking, error) {
		got = cmd
		return sampleBooking(), nil
	}}
	stores := &stubStoreResolver{store: kopiStore()}
	uploader := &stubUploader{}
	router := newBookingRouter(bookings, stores, WithBookingProofUploader(uploader))

	req := multipartRequest(t, "/api/v1/bookings/public", "bookingData", sampleBookingBody(), []byte("\x89PNG\r\n\x1a\n"))
	req.Header.Set("store-id", "store_1")
	rr := serve(t, router, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.SlotID != "slot_1" || got.Details.Quantity != 2 || got.Details.StartTime != "09:00" {
		t.Fatalf("unexpected command %#v", got)
	}
	if !got.Details.StartDate.Equal(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)) || !got.Details.EndDate.Equal(time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dates %v %v", got.Details.StartDate, got.Details.EndDate)
	}
	if got.ClientTotal == nil || *got.ClientTotal != 300 || got.PaymentMethod != "bank_transfer" || !got.Guest {
		t.Fatalf("unexpected pricing/payment %#v", got)
	}
	if got.PaymentProofURL == "" || uploader.upload.StoreID != "store_1" {
		t.Fatalf("expected proof uploaded for store_1, got %q", got.PaymentProofURL)
	}
	if got.Metadata["source"] != "instagram" {
		t.Fatalf("expected metadata forwarded, got %#v", got.Metadata)
	}

	body := decodeJSON(t, rr)
	booking := body["booking"].(map[string]any)
	if body["success"] != true || booking["_id"] != "bkg_1" || booking["bookingNumber"] != "KOPB26030001" {
		t.Fatalf("unexpected body %#v", body)
	}
	details := booking["bookingDetails"].(map[string]any)
	if details["startDate"] != "2026-03-20" || details["endDate"] != "2026-03-21" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestCreatePublicBookingJSONWithoutProof(t *testing.T) {
	called := false
	bookings := &stubBookingService{createFn: func(_ context.Context, cmd services.CreateBookingCommand) (services.Booking, error) {
		called = true
		if cmd.PaymentProofURL != "" {
			t.Fatalf("unexpected proof url %q", cmd.PaymentProofURL)
		}
		return sampleBooking(), nil
	}}
	router := newBookingRouter(bookings, &stubStoreResolver{store: kopiStore()})

	rr := serve(t, router, jsonRequest(t, http.MethodPost, "/api/v1/bookings/public", sampleBookingBody()))
	if rr.Code != http.StatusCreated || !called {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestCreatePublicBookingRejectsBadDate(t *testing.T) {
	called := false
	bookings := &stubBookingService{createFn: func(context.Context, services.CreateBookingCommand) (services.Booking, error) {
		called = true
		return services.Booking{}, nil
	}}
	router := newBookingRouter(bookings, &stubStoreResolver{store: kopiStore()})

	body := sampleBookingBody()
	body["bookingDetails"] = map[string]any{"startDate": "20/03/2026"}
	rr := serve(t, router, jsonRequest(t, http.MethodPost, "/api/v1/bookings/public", body))
	if rr.Code != http.StatusBadRequest || called {
		t.Fatalf("expected 400 before the service, got %d (called=%v)", rr.Code, called)
	}
}

func TestCreatePublicBookingProofLifecycle(t *testing.T) {
	t.Run("invalid body skips the upload", func(t *testing.T) {
		uploader := &stubUploader{}
		router := newBookingRouter(&stubBookingService{}, &stubStoreResolver{store: kopiStore()}, WithBookingProofUploader(uploader))

		body := sampleBookingBody()
		body["bookingDetails"] = map[string]any{"startDate": "20/03/2026"}
		req := multipartRequest(t, "/api/v1/bookings/public", "bookingData", body, []byte("\x89PNG\r\n\x1a\n"))
		rr := serve(t, router, req)
		if rr.Code != http.StatusBadRequest || uploader.upload.StoreID != "" {
			t.Fatalf("expected 400 without an upload, got %d (upload=%#v)", rr.Code, uploader.upload)
		}
	})

	t.Run("failed build deletes the proof", func(t *testing.T) {
		bookings := &stubBookingService{createFn: func(context.Context, services.CreateBookingCommand) (services.Booking, error) {
			return services.Booking{}, fmt.Errorf("%w: slot is not active", services.ErrValidation)
		}}
		uploader := &stubUploader{}
		router := newBookingRouter(bookings, &stubStoreResolver{store: kopiStore()}, WithBookingProofUploader(uploader))

		req := multipartRequest(t, "/api/v1/bookings/public", "bookingData", sampleBookingBody(), []byte("\x89PNG\r\n\x1a\n"))
		rr := serve(t, router, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if len(uploader.deleted) != 1 || uploader.deleted[0] != "stores/store_1/payment-proofs/2026/03/proof.png" {
			t.Fatalf("expected the stored proof to be deleted, got %v", uploader.deleted)
		}
	})
}

func TestCreatePublicBookingErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"foreign slot", fmt.Errorf("%w: slot slot_9", services.ErrNotFound), http.StatusNotFound, "booking_not_found"},
		{"inactive slot", fmt.Errorf("%w: slot is not active", services.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{"pricing", fmt.Errorf("%w: total must be positive", services.ErrInvalidPricing), http.StatusBadRequest, "invalid_pricing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bookings := &stubBookingService{createFn: func(context.Context, services.CreateBookingCommand) (services.Booking, error) {
				return services.Booking{}, tc.err
			}}
			router := newBookingRouter(bookings, &stubStoreResolver{store: kopiStore()})
			rr := serve(t, router, jsonRequest(t, http.MethodPost, "/api/v1/bookings/public", sampleBookingBody()))
			if rr.Code != tc.status || errorCodeOf(t, rr) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestGetBookingRequiresStaff(t *testing.T) {
	router := newBookingRouter(&stubBookingService{}, &stubStoreResolver{})
	if rr := serve(t, router, jsonRequest(t, http.MethodGet, "/api/v1/bookings/bkg_1", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGetBooking(t *testing.T) {
	var gotStore string
	bookings := &stubBookingService{getFn: func(_ context.Context, storeID, bookingID string) (services.Booking, error) {
		gotStore = storeID
		if bookingID != "bkg_1" {
			return services.Booking{}, services.ErrNotFound
		}
		return sampleBooking(), nil
	}}
	router := newBookingRouter(bookings, &stubStoreResolver{})

	rr := serve(t, router, asStaff(jsonRequest(t, http.MethodGet, "/api/v1/bookings/bkg_1", nil)))
	if rr.Code != http.StatusOK || gotStore != "store_1" {
		t.Fatalf("expected 200 scoped to store_1, got %d (%s)", rr.Code, gotStore)
	}
	slot := decodeJSON(t, rr)["booking"].(map[string]any)["slot"].(map[string]any)
	if slot["name"] != "Studio hour" {
		t.Fatalf("unexpected slot %#v", slot)
	}

	rr = serve(t, router, asStaff(jsonRequest(t, http.MethodGet, "/api/v1/bookings/bkg_2", nil)))
	if rr.Code != http.StatusNotFound || errorCodeOf(t, rr) != "booking_not_found" {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestBookingStatusAndCancel(t *testing.T) {
	var status services.UpdateStatusCommand
	var cancel services.CancelCommand
	bookings := &stubBookingService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateStatusCommand) (services.Booking, error) {
			status = cmd
			booking := sampleBooking()
			booking.Status = domain.BookingStatusNoShow
			return booking, nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelCommand) (services.Booking, error) {
			cancel = cmd
			return services.Booking{}, fmt.Errorf("%w: booking is completed", services.ErrNotCancellable)
		},
	}
	router := newBookingRouter(bookings, &stubStoreResolver{})

	rr := serve(t, router, asStaff(jsonRequest(t, http.MethodPatch, "/api/v1/bookings/bkg_1/status", map[string]any{"status": "no_show"})))
	if rr.Code != http.StatusOK || status.Status != "no_show" || status.EntityID != "bkg_1" {
		t.Fatalf("unexpected status update %d %#v", rr.Code, status)
	}

	rr = serve(t, router, asStaff(jsonRequest(t, http.MethodPost, "/api/v1/bookings/bkg_1/cancel", map[string]any{"reason": "rain"})))
	if rr.Code != http.StatusBadRequest || errorCodeOf(t, rr) != "booking_not_cancellable" {
		t.Fatalf("expected 400 booking_not_cancellable, got %d", rr.Code)
	}
	if cancel.Reason != "rain" || cancel.StoreID != "store_1" {
		t.Fatalf("unexpected cancel command %#v", cancel)
	}
}

func TestBookingPaymentAndRefund(t *testing.T) {
	var payment services.UpdatePaymentCommand
	bookings := &stubBookingService{
		updatePaymentFn: func(_ context.Context, cmd services.UpdatePaymentCommand) (services.Booking, error) {
			payment = cmd
			booking := sampleBooking()
			booking.Status = domain.BookingStatusConfirmed
			booking.Payment.Status = domain.PaymentStatusCompleted
			return booking, nil
		},
		refundFn: func(_ context.Context, cmd services.RefundCommand) (services.Booking, services.Refund, error) {
			if cmd.Amount > 300 {
				return services.Booking{}, services.Refund{}, fmt.Errorf("%w: exceeds remaining", services.ErrInvalidRefundAmount)
			}
			return sampleBooking(), services.Refund{ID: "rfd_1", Amount: cmd.Amount}, nil
		},
	}
	router := newBookingRouter(bookings, &stubStoreResolver{})

	rr := serve(t, router, asStaff(jsonRequest(t, http.MethodPatch, "/api/v1/bookings/bkg_1/payment", map[string]any{"status": "completed"})))
	if rr.Code != http.StatusOK || payment.Status != "completed" {
		t.Fatalf("unexpected payment update %d %#v", rr.Code, payment)
	}
	if got := decodeJSON(t, rr)["booking"].(map[string]any)["status"]; got != "confirmed" {
		t.Fatalf("expected confirmed booking, got %v", got)
	}

	rr = serve(t, router, asStaff(jsonRequest(t, http.MethodPost, "/api/v1/bookings/bkg_1/refund", map[string]any{"amount": 100, "method": "cash"})))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if refund := decodeJSON(t, rr)["refund"].(map[string]any); refund["amount"] != float64(100) {
		t.Fatalf("unexpected refund %#v", refund)
	}

	rr = serve(t, router, asStaff(jsonRequest(t, http.MethodPost, "/api/v1/bookings/bkg_1/refund", map[string]any{"amount": 301})))
	if rr.Code != http.StatusBadRequest || errorCodeOf(t, rr) != "invalid_refund_amount" {
		t.Fatalf("expected 400 invalid_refund_amount, got %d", rr.Code)
	}
}
