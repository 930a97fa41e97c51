package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/httpx"
	"github.com/sqaleshop/api/internal/platform/requestctx"
	"github.com/sqaleshop/api/internal/platform/storage"
	"github.com/sqaleshop/api/internal/services"
)

const (
	paymentProofField   = "paymentProof"
	multipartMemory     = 8 << 20
	maxCommandBodyBytes = 16 * 1024
	proofDiscardTimeout = 10 * time.Second

	headerStoreID  = "store-id"
	headerStoreURL = "store-url"
)

// ProofUploader stores payment proofs submitted with orders and bookings.
type ProofUploader interface {
	UploadPaymentProof(ctx context.Context, upload storage.ProofUpload) (storage.UploadedObject, error)
	DeletePaymentProof(ctx context.Context, object string) error
	MaxBytes() int64
}

// proofFile is the optional paymentProof part of a multipart submission.
type proofFile struct {
	file        multipart.File
	filename    string
	contentType string
}

func (p *proofFile) Close() {
	if p != nil && p.file != nil {
		_ = p.file.Close()
	}
}

// readSubmission decodes either a JSON body or a multipart form whose jsonField holds the JSON document.
// The returned proof is nil unless a paymentProof file was attached; callers must Close it.
func readSubmission(w http.ResponseWriter, r *http.Request, jsonField string, dst any, maxProofBytes int64) (*proofFile, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, httpx.DecodeJSON(w, r, dst, httpx.DefaultMaxBodyBytes)
	}

	if maxProofBytes <= 0 {
		maxProofBytes = 5 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxProofBytes+httpx.DefaultMaxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, httpx.NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		}
		return nil, httpx.NewError("invalid_multipart", "request body must be valid multipart form data", http.StatusBadRequest)
	}

	raw := strings.TrimSpace(r.FormValue(jsonField))
	if raw == "" {
		return nil, httpx.NewError("invalid_request", fmt.Sprintf("%s field is required", jsonField), http.StatusBadRequest)
	}
	if err := httpx.DecodeJSONBytes(strings.NewReader(raw), dst); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile(paymentProofField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, httpx.NewError("invalid_multipart", "paymentProof could not be read", http.StatusBadRequest)
	}
	return &proofFile{
		file:        file,
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
	}, nil
}

// uploadProof stores the proof for storeID. The zero object is returned when no proof was attached.
func uploadProof(ctx context.Context, uploader ProofUploader, storeID string, proof *proofFile) (storage.UploadedObject, error) {
	if proof == nil {
		return storage.UploadedObject{}, nil
	}
	if uploader == nil {
		return storage.UploadedObject{}, httpx.NewError("uploads_unavailable", "payment proof uploads are not configured", http.StatusServiceUnavailable)
	}
	obj, err := uploader.UploadPaymentProof(ctx, storage.ProofUpload{
		StoreID:     storeID,
		FileName:    proof.filename,
		ContentType: proof.contentType,
		Body:        proof.file,
	})
	switch {
	case err == nil:
		return obj, nil
	case errors.Is(err, storage.ErrUnsupportedContentType):
		return storage.UploadedObject{}, httpx.NewError("unsupported_media_type", "payment proof must be a JPEG, PNG, WebP or PDF file", http.StatusUnsupportedMediaType)
	case errors.Is(err, storage.ErrTooLarge):
		return storage.UploadedObject{}, httpx.NewError("payload_too_large", fmt.Sprintf("payment proof exceeds %d bytes", uploader.MaxBytes()), http.StatusRequestEntityTooLarge)
	case errors.Is(err, storage.ErrEmptyUpload):
		return storage.UploadedObject{}, httpx.NewError("invalid_request", "payment proof is empty", http.StatusBadRequest)
	default:
		return storage.UploadedObject{}, fmt.Errorf("upload payment proof: %w", err)
	}
}

// discardProof deletes a stored proof whose order or booking was never created.
func discardProof(ctx context.Context, uploader ProofUploader, obj storage.UploadedObject) {
	if uploader == nil || obj.Object == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), proofDiscardTimeout)
	defer cancel()
	if err := uploader.DeletePaymentProof(ctx, obj.Object); err != nil {
		requestctx.Logger(ctx).Warn("payment proof cleanup failed",
			zap.String("object", obj.Object),
			zap.Error(err),
		)
	}
}

// storeLookup collects the store hints of a request in resolver priority order.
func storeLookup(r *http.Request) services.StoreLookup {
	return services.StoreLookup{
		SessionStoreID: auth.SessionStoreID(r.Context()),
		HeaderStoreID:  strings.TrimSpace(r.Header.Get(headerStoreID)),
		HeaderStoreURL: strings.TrimSpace(r.Header.Get(headerStoreURL)),
	}
}

// sessionActor returns the verified staff uid, or "" for anonymous callers.
func sessionActor(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		return strings.TrimSpace(identity.UID)
	}
	return ""
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a *addressRequest) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	addr := domain.Address{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	if addr.IsZero() {
		return nil
	}
	return &addr
}

type contactRequest struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Phone   string          `json:"phone"`
	Address *addressRequest `json:"address"`
}

func (c contactRequest) toInput() services.ContactInput {
	return services.ContactInput{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Phone:   strings.TrimSpace(c.Phone),
		Address: c.Address.toDomain(),
	}
}

type paymentRequest struct {
	Method string `json:"method"`
}

type statusRequest struct {
	Status         string `json:"status"`
	Note           string `json:"note"`
	NotifyCustomer bool   `json:"notifyCustomer"`
}

type paymentUpdateRequest struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

type cancelRequest struct {
	Reason       string   `json:"reason"`
	RefundAmount *float64 `json:"refundAmount"`
}

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
	Method string  `json:"method"`
}

// parseDate accepts a calendar date or an RFC3339 timestamp.
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, httpx.NewError("invalid_request", fmt.Sprintf("%s must be YYYY-MM-DD or RFC3339", field), http.StatusBadRequest)
	}
	return t, nil
}
