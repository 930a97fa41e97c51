package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/storage"
	"github.com/sqaleshop/api/internal/services"
)

type stubOrderService struct {
	createFn        func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn           func(context.Context, string, string) (services.Order, error)
	listFn          func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateStatusFn  func(context.Context, services.UpdateStatusCommand) (services.Order, error)
	updatePaymentFn func(context.Context, services.UpdatePaymentCommand) (services.Order, error)
	cancelFn        func(context.Context, services.CancelCommand) (services.Order, error)
	refundFn        func(context.Context, services.RefundCommand) (services.Order, services.Refund, error)
	invoiceFn       func(context.Context, string, string) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, storeID, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, services.ErrNotFound
	}
	return s.getFn(ctx, storeID, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (services.Order, error) {
	if s.updateStatusFn == nil {
		return services.Order{}, nil
	}
	return s.updateStatusFn(ctx, cmd)
}

func (s *stubOrderService) UpdatePayment(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
	if s.updatePaymentFn == nil {
		return services.Order{}, nil
	}
	return s.updatePaymentFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) Refund(ctx context.Context, cmd services.RefundCommand) (services.Order, services.Refund, error) {
	if s.refundFn == nil {
		return services.Order{}, services.Refund{}, nil
	}
	return s.refundFn(ctx, cmd)
}

func (s *stubOrderService) GetInvoice(ctx context.Context, orderID, token string) (services.Order, error) {
	if s.invoiceFn == nil {
		return services.Order{}, services.ErrNotFound
	}
	return s.invoiceFn(ctx, orderID, token)
}

func (s *stubOrderService) InvoiceURL(order services.Order) string {
	return "https://api.example.com/api/v1/public/invoices/" + order.ID + "?token=" + order.InvoiceToken
}

type stubBookingService struct {
	createFn        func(context.Context, services.CreateBookingCommand) (services.Booking, error)
	getFn           func(context.Context, string, string) (services.Booking, error)
	updateStatusFn  func(context.Context, services.UpdateStatusCommand) (services.Booking, error)
	updatePaymentFn func(context.Context, services.UpdatePaymentCommand) (services.Booking, error)
	cancelFn        func(context.Context, services.CancelCommand) (services.Booking, error)
	refundFn        func(context.Context, services.RefundCommand) (services.Booking, services.Refund, error)
}

func (s *stubBookingService) CreateBooking(ctx context.Context, cmd services.CreateBookingCommand) (services.Booking, error) {
	if s.createFn == nil {
		return services.Booking{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubBookingService) GetBooking(ctx context.Context, storeID, bookingID string) (services.Booking, error) {
	if s.getFn == nil {
		return services.Booking{}, services.ErrNotFound
	}
	return s.getFn(ctx, storeID, bookingID)
}

func (s *stubBookingService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (services.Booking, error) {
	if s.updateStatusFn == nil {
		return services.Booking{}, nil
	}
	return s.updateStatusFn(ctx, cmd)
}

func (s *stubBookingService) UpdatePayment(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Booking, error) {
	if s.updatePaymentFn == nil {
		return services.Booking{}, nil
	}
	return s.updatePaymentFn(ctx, cmd)
}

func (s *stubBookingService) Cancel(ctx context.Context, cmd services.CancelCommand) (services.Booking, error) {
	if s.cancelFn == nil {
		return services.Booking{}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubBookingService) Refund(ctx context.Context, cmd services.RefundCommand) (services.Booking, services.Refund, error) {
	if s.refundFn == nil {
		return services.Booking{}, services.Refund{}, nil
	}
	return s.refundFn(ctx, cmd)
}

type stubStoreResolver struct {
	store    services.Store
	err      error
	received services.StoreLookup
}

func (s *stubStoreResolver) Resolve(_ context.Context, lookup services.StoreLookup) (services.Store, error) {
	s.received = lookup
	if s.err != nil {
		return services.Store{}, s.err
	}
	return s.store, nil
}

type stubUploader struct {
	upload    storage.ProofUpload
	body      []byte
	err       error
	deleted   []string
	deleteErr error
}

func (s *stubUploader) UploadPaymentProof(_ context.Context, upload storage.ProofUpload) (storage.UploadedObject, error) {
	s.upload = upload
	if upload.Body != nil {
		s.body, _ = io.ReadAll(upload.Body)
	}
	if s.err != nil {
		return storage.UploadedObject{}, s.err
	}
	return storage.UploadedObject{
		Bucket: "media",
		Object: "stores/" + upload.StoreID + "/payment-proofs/2026/03/proof.png",
		URL:    "https://storage.example.com/media/stores/" + upload.StoreID + "/payment-proofs/2026/03/proof.png",
	}, nil
}

func (s *stubUploader) DeletePaymentProof(_ context.Context, object string) error {
	s.deleted = append(s.deleted, object)
	return s.deleteErr
}

func (s *stubUploader) MaxBytes() int64 { return 1 << 20 }

type stubVerifier struct {
	claims map[string]interface{}
}

func (s stubVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	if token != "staff-token" {
		return nil, auth.ErrTokenInvalid
	}
	return &firebaseauth.Token{UID: "staff_1", Claims: s.claims}, nil
}

func staffAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubVerifier{claims: map[string]interface{}{
		"storeId": "store_1",
		"role":    "staff",
	}})
}

func kopiStore() services.Store {
	return services.Store{ID: "store_1", OwnerID: "owner_1", Name: "Kopi Kita", Status: domain.StoreStatusActive, Currency: "IDR"}
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asStaff(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer staff-token")
	return req
}

// multipartRequest builds a form with one JSON field and an optional image/png paymentProof.
func multipartRequest(t *testing.T, target, field string, payload any, proof []byte) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(field, string(raw)); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if proof != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="paymentProof"; filename="proof.png"`)
		header.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(proof); err != nil {
			t.Fatalf("write proof: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCodeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeJSON(t, rr)["error"].(string)
	return code
}
