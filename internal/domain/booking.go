package domain

import "time"

// Booking reserves a slot for a date range instead of purchasing line items.
type Booking struct {
	ID            string
	TenantID      string
	StoreID       string
	BookingNumber string
	CustomerID    string
	Customer      CustomerSnapshot
	Slot          SlotSnapshot
	Details       BookingDetails
	Pricing       Pricing
	Status        BookingStatus
	Timeline      []TimelineEntry
	Payment       Payment
	Metadata      map[string]any
	CancelReason  string
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SlotSnapshot freezes the slot attributes at booking time.
type SlotSnapshot struct {
	ID           string
	Name         string
	Type         string
	Price        float64
	Capacity     int
	Duration     int
	DurationUnit string
}

// BookingDetails is the reserved date range and party size.
type BookingDetails struct {
	StartDate time.Time
	EndDate   time.Time
	StartTime string
	EndTime   string
	Quantity  int
	Notes     string
}
