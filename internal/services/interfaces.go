package services

import (
	"context"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Store              = domain.Store
	Product            = domain.Product
	BookingSlot        = domain.BookingSlot
	Address            = domain.Address
	Customer           = domain.Customer
	CustomerSnapshot   = domain.CustomerSnapshot
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	Delivery           = domain.Delivery
	Booking            = domain.Booking
	SlotSnapshot       = domain.SlotSnapshot
	BookingDetails     = domain.BookingDetails
	Pricing            = domain.Pricing
	Payment            = domain.Payment
	Refund             = domain.Refund
	TimelineEntry      = domain.TimelineEntry
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order lifecycle from checkout to refund.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, storeID, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error)
	UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundCommand) (Order, Refund, error)
	// GetInvoice returns the order only when token matches its invoice token exactly.
	GetInvoice(ctx context.Context, orderID, token string) (Order, error)
	InvoiceURL(order Order) string
}

// BookingService owns the booking lifecycle.
type BookingService interface {
	CreateBooking(ctx context.Context, cmd CreateBookingCommand) (Booking, error)
	GetBooking(ctx context.Context, storeID, bookingID string) (Booking, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Booking, error)
	UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Booking, error)
	Cancel(ctx context.Context, cmd CancelCommand) (Booking, error)
	Refund(ctx context.Context, cmd RefundCommand) (Booking, Refund, error)
}

// StoreResolver identifies the acting store of a request.
type StoreResolver interface {
	Resolve(ctx context.Context, lookup StoreLookup) (Store, error)
}

// SystemService aggregates health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// InventoryLedger owns the stock counters embedded in products.
type InventoryLedger interface {
	Reserve(ctx context.Context, storeID string, demands []StockDemand) ([]OrderItem, error)
	Restore(ctx context.Context, storeID string, items []OrderItem) error
}

// CustomerResolver finds or creates the customer for a (tenant, email) identity.
type CustomerResolver interface {
	Resolve(ctx context.Context, input CustomerInput) (Customer, error)
}

// NotificationDispatcher delivers customer and staff notifications. Callers treat every error as best-effort.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, order Order, store Store) error
	SendOrderStatusUpdate(ctx context.Context, order Order, store Store, oldStatus string) error
	SendOrderCancellation(ctx context.Context, order Order, store Store) error
	SendOrderRefundConfirmation(ctx context.Context, order Order, store Store, refund Refund) error
	SendInternalOrderNotification(ctx context.Context, order Order, store Store) error
	SendBookingConfirmation(ctx context.Context, booking Booking, store Store) error
	SendBookingStatusUpdate(ctx context.Context, booking Booking, store Store, oldStatus string) error
	SendBookingCancellation(ctx context.Context, booking Booking, store Store) error
	SendBookingRefundConfirmation(ctx context.Context, booking Booking, store Store, refund Refund) error
	SendInternalBookingNotification(ctx context.Context, booking Booking, store Store) error
}

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// PaymentGateway executes refunds at the payment service provider.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// DomainEvent is the envelope published for order and booking changes.
type DomainEvent struct {
	Type           string
	StoreID        string
	EntityID       string
	EntityNumber   string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Command and DTO definitions ------------------------------------------------

// ContactInput is the customer block submitted with an order or booking.
type ContactInput struct {
	Name    string
	Email   string
	Phone   string
	Address *Address
}

// CustomerActivity describes the purchase that triggered a customer resolution.
type CustomerActivity struct {
	Kind   string
	Amount float64
	At     time.Time
}

const (
	ActivityOrder   = "order"
	ActivityBooking = "booking"
)

type CustomerInput struct {
	TenantID string
	Email    string
	Name     string
	Phone    string
	Address  *Address
	Guest    bool
	Activity *CustomerActivity
}

// StockDemand is one requested line before variant resolution.
type StockDemand struct {
	ProductID string
	VariantID string
	SKU       string
	Quantity  int
}

type CreateOrderCommand struct {
	Store           Store
	Customer        ContactInput
	Items           []StockDemand
	Delivery        Delivery
	PaymentMethod   string
	Discount        float64
	DiscountCode    string
	ClientSubtotal  *float64
	ClientTotal     *float64
	Notes           string
	Source          string
	PaymentProofURL string
	Guest           bool
	ActorID         string
	Metadata        map[string]any
}

type CreateBookingCommand struct {
	Store           Store
	Customer        ContactInput
	SlotID          string
	Details         BookingDetails
	Discount        float64
	ClientTotal     *float64
	PaymentMethod   string
	PaymentProofURL string
	Guest           bool
	ActorID         string
	Metadata        map[string]any
}

type OrderListFilter struct {
	StoreID    string
	Status     []string
	Pagination Pagination
}

type UpdateStatusCommand struct {
	StoreID        string
	EntityID       string
	Status         string
	Note           string
	ActorID        string
	NotifyCustomer bool
}

type UpdatePaymentCommand struct {
	StoreID   string
	EntityID  string
	Status    string
	Reference string
	Note      string
	ActorID   string
}

type CancelCommand struct {
	StoreID      string
	EntityID     string
	Reason       string
	RefundAmount *float64
	ActorID      string
}

type RefundCommand struct {
	StoreID  string
	EntityID string
	Amount   float64
	Reason   string
	Method   string
	ActorID  string
}

// StoreLookup carries every store hint a request may present, in priority order.
type StoreLookup struct {
	SessionStoreID string
	HeaderStoreID  string
	HeaderStoreURL string
}
