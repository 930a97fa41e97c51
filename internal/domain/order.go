package domain

import "time"

// Order is a single purchase placed against a store.
type Order struct {
	ID           string
	TenantID     string
	StoreID      string
	OrderNumber  string
	InvoiceToken string
	CustomerID   string
	Customer     CustomerSnapshot
	Items        []OrderItem
	Delivery     Delivery
	Pricing      Pricing
	Status       OrderStatus
	Timeline     []TimelineEntry
	Payment      Payment
	Notes        string
	Source       string
	Metadata     map[string]any
	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem freezes the catalog data of a purchased line at the time of sale.
type OrderItem struct {
	ProductID   string
	VariantID   string
	Name        string
	VariantName string
	SKU         string
	Images      []string
	Quantity    int
	UnitPrice   float64
	TotalPrice  float64
	// StockTracked is false for lines whose variant could not be resolved; no stock was taken for them.
	StockTracked bool
}

// Delivery describes how an order reaches the customer.
type Delivery struct {
	Method  string
	Address *Address
	Fee     float64
	Notes   string
}
