package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/payments"
	"github.com/sqaleshop/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentUpdated = "order.payment.updated"
	orderEventCancelled      = "order.cancelled"
	orderEventRefunded       = "order.refunded"

	refundIDPrefix        = "rfd_"
	defaultInvoiceBaseURL = "/api/v1"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Builder       OrderBuilder
	Orders        repositories.OrderRepository
	Stores        repositories.StoreRepository
	Ledger        InventoryLedger
	UnitOfWork    repositories.UnitOfWork
	Payments      PaymentGateway
	Notifications NotificationDispatcher
	Events        EventPublisher
	// InvoiceBaseURL prefixes public invoice links, e.g. https://api.example.com/api/v1.
	InvoiceBaseURL string
	NotifyTimeout  time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	builder     OrderBuilder
	orders      repositories.OrderRepository
	ledger      InventoryLedger
	unitOfWork  repositories.UnitOfWork
	payments    PaymentGateway
	events      EventPublisher
	notifier    *asyncNotifier
	machine     StatusMachine
	invoiceBase string
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Builder == nil {
		return nil, errors.New("order service: order builder is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	base := strings.TrimRight(strings.TrimSpace(deps.InvoiceBaseURL), "/")
	if base == "" {
		base = defaultInvoiceBaseURL
	}

	return &orderService{
		builder:     deps.Builder,
		orders:      deps.Orders,
		ledger:      deps.Ledger,
		unitOfWork:  unit,
		payments:    deps.Payments,
		events:      deps.Events,
		notifier:    newAsyncNotifier(deps.Notifications, deps.Stores, deps.NotifyTimeout, logger),
		machine:     NewStatusMachine(func() string { return refundIDPrefix + idGen() }),
		invoiceBase: base,
		clock:       utcClock(deps.Clock),
		newID:       idGen,
		logger:      logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	order, err := s.builder.Build(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	s.notifier.send(ctx, "order.confirmation", order.ID, cmd.Store, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendOrderConfirmation(ctx, order, store)
	})
	s.notifier.send(ctx, "order.internal", order.ID, cmd.Store, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendInternalOrderNotification(ctx, order, store)
	})

	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:          orderEventCreated,
		StoreID:       order.StoreID,
		EntityID:      order.ID,
		EntityNumber:  order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.ActorID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"total":    order.Pricing.Total,
			"currency": order.Pricing.Currency,
			"items":    len(order.Items),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, storeID, orderID string) (Order, error) {
	return s.loadOwned(ctx, storeID, orderID)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	storeID := strings.TrimSpace(filter.StoreID)
	if storeID == "" {
		return domain.CursorPage[Order]{}, ErrStoreResolution
	}
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		status = strings.TrimSpace(status)
		if status == "" {
			continue
		}
		if !domain.OrderStatus(status).Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
		}
		statuses = append(statuses, status)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		StoreID:    storeID,
		Status:     statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error) {
	now := s.clock()
	var order Order
	var previous string
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOwned(txCtx, cmd.StoreID, cmd.EntityID)
		if err != nil {
			return err
		}
		previous = string(loaded.Status)
		if err := s.machine.SetOrderStatus(&loaded, cmd.Status, cmd.Note, cmd.ActorID, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.NotifyCustomer {
		s.notifier.send(ctx, "order.status", order.ID, Store{ID: order.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
			return d.SendOrderStatusUpdate(ctx, order, store, previous)
		})
	}
	s.publishStatus(ctx, orderEventStatusChanged, order, previous, cmd.ActorID, now, map[string]any{"note": order.Timeline[len(order.Timeline)-1].Note})
	return order, nil
}

func (s *orderService) UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Order, error) {
	now := s.clock()
	var order Order
	var previous string
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOwned(txCtx, cmd.StoreID, cmd.EntityID)
		if err != nil {
			return err
		}
		previous = string(loaded.Status)
		if err := s.machine.SetOrderPayment(&loaded, cmd, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatus(ctx, orderEventPaymentUpdated, order, previous, cmd.ActorID, now, map[string]any{
		"paymentStatus": string(order.Payment.Status),
		"reference":     order.Payment.Reference,
	})
	if previous != string(order.Status) {
		s.publishStatus(ctx, orderEventStatusChanged, order, previous, cmd.ActorID, now, map[string]any{"note": "Payment confirmed"})
	}
	return order, nil
}

// Cancel restores stock and marks the order cancelled in one unit of work.
func (s *orderService) Cancel(ctx context.Context, cmd CancelCommand) (Order, error) {
	now := s.clock()
	var order Order
	var previous string
	var refund *Refund
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOwned(txCtx, cmd.StoreID, cmd.EntityID)
		if err != nil {
			return err
		}
		previous = string(loaded.Status)
		recorded, err := s.machine.CancelOrder(&loaded, cmd, now)
		if err != nil {
			return err
		}
		if err := s.ledger.Restore(txCtx, loaded.StoreID, loaded.Items); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		order = loaded
		refund = recorded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.notifier.send(ctx, "order.cancellation", order.ID, Store{ID: order.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendOrderCancellation(ctx, order, store)
	})
	metadata := map[string]any{"reason": order.CancelReason}
	if refund != nil {
		metadata["refundAmount"] = refund.Amount
		metadata["paymentStatus"] = string(order.Payment.Status)
	}
	s.publishStatus(ctx, orderEventCancelled, order, previous, cmd.ActorID, now, metadata)
	return order, nil
}

// Refund executes card refunds at the PSP first; a PSP failure leaves the order untouched.
func (s *orderService) Refund(ctx context.Context, cmd RefundCommand) (Order, Refund, error) {
	current, err := s.loadOwned(ctx, cmd.StoreID, cmd.EntityID)
	if err != nil {
		return Order{}, Refund{}, err
	}
	if !CanRefundOrder(current) {
		return Order{}, Refund{}, fmt.Errorf("%w: order status %q, payment status %q", ErrNotRefundable, current.Status, current.Payment.Status)
	}
	if err := checkRefundAmount(current.Payment, cmd.Amount); err != nil {
		return Order{}, Refund{}, err
	}

	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		method = current.Payment.Method
	}
	refundID := refundIDPrefix + s.newID()
	providerRef, err := executeProviderRefund(ctx, s.payments, providerRefund{
		RefundID:  refundID,
		EntityID:  current.ID,
		StoreID:   current.StoreID,
		Method:    method,
		Payment:   current.Payment,
		Currency:  current.Pricing.Currency,
		Amount:    cmd.Amount,
		Reason:    cmd.Reason,
		EntityKey: "orderId",
	})
	if err != nil {
		return Order{}, Refund{}, err
	}

	now := s.clock()
	var order Order
	var refund Refund
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOwned(txCtx, cmd.StoreID, cmd.EntityID)
		if err != nil {
			return err
		}
		applied, err := s.machine.RefundOrder(&loaded, RefundRequest{
			ID:          refundID,
			Amount:      cmd.Amount,
			Reason:      cmd.Reason,
			Method:      method,
			ProviderRef: providerRef,
			Actor:       cmd.ActorID,
		}, now)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return mapRepositoryError(err)
		}
		order = loaded
		refund = applied
		return nil
	})
	if err != nil {
		if providerRef != "" {
			s.logger(ctx, "order.refund.persist_failed", map[string]any{
				"orderId":     current.ID,
				"refundId":    refundID,
				"providerRef": providerRef,
				"error":       err.Error(),
			})
		}
		return Order{}, Refund{}, err
	}

	s.notifier.send(ctx, "order.refund", order.ID, Store{ID: order.StoreID}, func(ctx context.Context, d NotificationDispatcher, store Store) error {
		return d.SendOrderRefundConfirmation(ctx, order, store, refund)
	})
	s.publishStatus(ctx, orderEventRefunded, order, string(current.Status), cmd.ActorID, now, map[string]any{
		"refundId":       refund.ID,
		"amount":         refund.Amount,
		"refundedAmount": order.Payment.RefundedAmount,
	})
	return order, refund, nil
}

func (s *orderService) GetInvoice(ctx context.Context, orderID, token string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || token == "" {
		return Order{}, ErrNotFound
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.InvoiceToken == "" || subtle.ConstantTimeCompare([]byte(order.InvoiceToken), []byte(token)) != 1 {
		return Order{}, fmt.Errorf("%w: invoice %s", ErrNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) InvoiceURL(order Order) string {
	return fmt.Sprintf("%s/public/invoices/%s?token=%s", s.invoiceBase, url.PathEscape(order.ID), url.QueryEscape(order.InvoiceToken))
}

// loadOwned hides orders of other stores behind ErrNotFound.
func (s *orderService) loadOwned(ctx context.Context, storeID, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if storeID = strings.TrimSpace(storeID); storeID != "" && order.StoreID != storeID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) publishStatus(ctx context.Context, eventType string, order Order, previous, actor string, at time.Time, metadata map[string]any) {
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           eventType,
		StoreID:        order.StoreID,
		EntityID:       order.ID,
		EntityNumber:   order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(actor),
		OccurredAt:     at,
		Metadata:       metadata,
	})
}

func checkRefundAmount(payment Payment, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRefundAmount)
	}
	if remaining := RemainingRefundable(payment); amount > remaining {
		return fmt.Errorf("%w: %.2f exceeds refundable %.2f", ErrInvalidRefundAmount, amount, remaining)
	}
	return nil
}

type providerRefund struct {
	RefundID  string
	EntityID  string
	EntityKey string
	StoreID   string
	Method    string
	Payment   Payment
	Currency  string
	Amount    float64
	Reason    string
}

// executeProviderRefund refunds card payments that carry a PSP reference and returns the
// provider's refund id. Other methods are recorded without a PSP call.
func executeProviderRefund(ctx context.Context, gateway PaymentGateway, req providerRefund) (string, error) {
	switch strings.ToLower(req.Method) {
	case "card", "stripe":
	default:
		return "", nil
	}
	reference := strings.TrimSpace(req.Payment.Reference)
	if reference == "" {
		return "", nil
	}
	if gateway == nil {
		return "", fmt.Errorf("%w: no payment provider configured", ErrPaymentProvider)
	}
	amount := payments.ToMinorUnits(req.Amount, req.Currency)
	details, err := gateway.Refund(ctx, payments.PaymentContext{
		PreferredProvider: req.Payment.Provider,
		Currency:          req.Currency,
	}, payments.RefundRequest{
		Reference:      reference,
		Amount:         &amount,
		Reason:         req.Reason,
		IdempotencyKey: req.RefundID,
		Metadata: map[string]string{
			req.EntityKey: req.EntityID,
			"storeId":     req.StoreID,
			"refundId":    req.RefundID,
			"reason":      req.Reason,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	if details.RefundID != "" {
		return details.RefundID, nil
	}
	return reference, nil
}
