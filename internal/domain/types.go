package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// StoreStatusActive marks a storefront that accepts orders and bookings.
const StoreStatusActive = "active"

// Store is the tenant-owned storefront that orders and bookings belong to.
type Store struct {
	ID                   string
	OwnerID              string
	Name                 string
	Slug                 string
	Status               string
	Currency             string
	OrderPrefix          string
	ContactEmail         string
	ContactPhone         string
	BookingSettings      BookingSettings
	NotificationSettings NotificationSettings
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BookingSettings captures store level defaults for the booking flow.
type BookingSettings struct {
	Enabled             bool
	RequirePaymentProof bool
	Timezone            string
}

// NotificationSettings toggles outbound channels for a store.
type NotificationSettings struct {
	Email         bool
	SMS           bool
	WhatsApp      bool
	InternalEmail string
	InternalPhone string
}

// Product is a catalog entry whose stock is owned by the inventory ledger.
type Product struct {
	ID                string
	StoreID           string
	Name              string
	SKU               string
	Price             float64
	Images            []string
	Inventory         int
	LowStockThreshold int
	Variants          []ProductVariant
	Status            string
	UpdatedAt         time.Time
	// Revision is the store's last write time. Stock writes carrying it fail when the
	// product changed since it was read; a zero value writes unconditionally.
	Revision time.Time
}

// ProductVariant is an embedded purchasable unit with its own stock counter.
type ProductVariant struct {
	ID                string
	Name              string
	SKU               string
	Price             float64
	Inventory         int
	LowStockThreshold int
	Options           map[string]string
}

// SlotStatusActive marks a booking slot that can be reserved.
const SlotStatusActive = "active"

// BookingSlot is a bookable unit such as a room, vehicle or appointment.
type BookingSlot struct {
	ID           string
	StoreID      string
	Name         string
	Type         string
	Price        float64
	Capacity     int
	Duration     int
	DurationUnit string
	Status       string
	UpdatedAt    time.Time
}

// Address is a postal address captured on customers and deliveries.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.String()) == ""
}

// String joins the non-empty address components with commas.
func (a Address) String() string {
	parts := make([]string, 0, 6)
	for _, part := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

// Customer is the per-tenant contact identity, unique on (TenantID, Email).
type Customer struct {
	ID        string
	TenantID  string
	Email     string
	Name      string
	Phone     string
	Address   *Address
	Metadata  map[string]any
	Stats     CustomerStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerStats aggregates purchase activity for a customer.
type CustomerStats struct {
	OrderCount    int
	BookingCount  int
	TotalSpent    float64
	LastOrderAt   *time.Time
	LastBookingAt *time.Time
}

// CustomerSnapshot is the contact information frozen onto an order or booking.
type CustomerSnapshot struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Address *Address
}

// Pricing is the reconciled monetary block persisted on orders and bookings.
type Pricing struct {
	Subtotal     float64
	Tax          float64
	Shipping     float64
	Discount     float64
	Total        float64
	Currency     string
	DiscountCode string
}

// TimelineEntry is one append-only audit record of a status transition.
type TimelineEntry struct {
	Status    string
	Timestamp time.Time
	Note      string
	UpdatedBy string
}

// Refund records a single refund applied to a payment.
type Refund struct {
	ID          string
	Amount      float64
	Reason      string
	Method      string
	ProviderRef string
	ProcessedAt time.Time
	ProcessedBy string
}

// Payment tracks the payment lifecycle independently from the entity status.
type Payment struct {
	Method         string
	Status         PaymentStatus
	Amount         float64
	RefundedAmount float64
	Refunds        []Refund
	ProofURL       string
	Reference      string
	Provider       string
	PaidAt         *time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status       string
	Checks       map[string]SystemHealthCheck
	Version      string
	CommitSHA    string
	Environment  string
	Uptime       time.Duration
	GeneratedAt  time.Time
	Capabilities map[string]string
}
