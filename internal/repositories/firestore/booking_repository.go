package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

const bookingsCollection = "bookings"

type slotSnapshotDocument struct {
	ID           string  `firestore:"id"`
	Name         string  `firestore:"name"`
	Type         string  `firestore:"type,omitempty"`
	Price        float64 `firestore:"price"`
	Capacity     int     `firestore:"capacity"`
	Duration     int     `firestore:"duration,omitempty"`
	DurationUnit string  `firestore:"durationUnit,omitempty"`
}

type bookingDetailsDocument struct {
	StartDate time.Time `firestore:"startDate"`
	EndDate   time.Time `firestore:"endDate"`
	StartTime string    `firestore:"startTime,omitempty"`
	EndTime   string    `firestore:"endTime,omitempty"`
	Quantity  int       `firestore:"quantity"`
	Notes     string    `firestore:"notes,omitempty"`
}

type bookingDocument struct {
	TenantID      string                   `firestore:"tenantId"`
	StoreID       string                   `firestore:"storeId"`
	BookingNumber string                   `firestore:"bookingNumber"`
	CustomerID    string                   `firestore:"customerId"`
	Customer      customerSnapshotDocument `firestore:"customer"`
	Slot          slotSnapshotDocument     `firestore:"slot"`
	Details       bookingDetailsDocument   `firestore:"details"`
	Pricing       pricingDocument          `firestore:"pricing"`
	Status        string                   `firestore:"status"`
	Timeline      []timelineDocument       `firestore:"timeline"`
	Payment       paymentDocument          `firestore:"payment"`
	Metadata      map[string]any           `firestore:"metadata,omitempty"`
	CancelReason  string                   `firestore:"cancelReason,omitempty"`
	CancelledAt   *time.Time               `firestore:"cancelledAt,omitempty"`
	CreatedAt     time.Time                `firestore:"createdAt"`
	UpdatedAt     time.Time                `firestore:"updatedAt"`
}

// BookingRepository persists bookings.
type BookingRepository struct {
	base *pfirestore.BaseRepository[bookingDocument]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{base: pfirestore.NewBaseRepository[bookingDocument](provider, bookingsCollection)}, nil
}

func (r *BookingRepository) Insert(ctx context.Context, booking domain.Booking) error {
	if r == nil || r.base == nil {
		return errors.New("booking repository not initialised")
	}
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return repositories.MissingField("booking", "booking id")
	}
	return r.base.Create(ctx, id, encodeBookingDocument(booking))
}

func (r *BookingRepository) Update(ctx context.Context, booking domain.Booking) error {
	if r == nil || r.base == nil {
		return errors.New("booking repository not initialised")
	}
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return repositories.MissingField("booking", "booking id")
	}
	return r.base.Set(ctx, id, encodeBookingDocument(booking))
}

func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	if r == nil || r.base == nil {
		return domain.Booking{}, errors.New("booking repository not initialised")
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.Booking{}, repositories.MissingField("booking", "booking id")
	}
	doc, err := r.base.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	return decodeBookingDocument(doc.ID, doc.Data), nil
}

func encodeBookingDocument(b domain.Booking) bookingDocument {
	return bookingDocument{
		TenantID:      b.TenantID,
		StoreID:       b.StoreID,
		BookingNumber: b.BookingNumber,
		CustomerID:    b.CustomerID,
		Customer:      encodeCustomerSnapshot(b.Customer),
		Slot:          slotSnapshotDocument(b.Slot),
		Details: bookingDetailsDocument{
			StartDate: b.Details.StartDate.UTC(),
			EndDate:   b.Details.EndDate.UTC(),
			StartTime: b.Details.StartTime,
			EndTime:   b.Details.EndTime,
			Quantity:  b.Details.Quantity,
			Notes:     b.Details.Notes,
		},
		Pricing:      encodePricing(b.Pricing),
		Status:       string(b.Status),
		Timeline:     encodeTimeline(b.Timeline),
		Payment:      encodePayment(b.Payment),
		Metadata:     cloneMetadata(b.Metadata),
		CancelReason: b.CancelReason,
		CancelledAt:  utcPtr(b.CancelledAt),
		CreatedAt:    b.CreatedAt.UTC(),
		UpdatedAt:    b.UpdatedAt.UTC(),
	}
}

func decodeBookingDocument(id string, doc bookingDocument) domain.Booking {
	return domain.Booking{
		ID:            id,
		TenantID:      doc.TenantID,
		StoreID:       doc.StoreID,
		BookingNumber: doc.BookingNumber,
		CustomerID:    doc.CustomerID,
		Customer:      decodeCustomerSnapshot(doc.Customer),
		Slot:          domain.SlotSnapshot(doc.Slot),
		Details: domain.BookingDetails{
			StartDate: doc.Details.StartDate.UTC(),
			EndDate:   doc.Details.EndDate.UTC(),
			StartTime: doc.Details.StartTime,
			EndTime:   doc.Details.EndTime,
			Quantity:  doc.Details.Quantity,
			Notes:     doc.Details.Notes,
		},
		Pricing:      decodePricing(doc.Pricing),
		Status:       domain.BookingStatus(doc.Status),
		Timeline:     decodeTimeline(doc.Timeline),
		Payment:      decodePayment(doc.Payment),
		Metadata:     cloneMetadata(doc.Metadata),
		CancelReason: doc.CancelReason,
		CancelledAt:  utcPtr(doc.CancelledAt),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}
