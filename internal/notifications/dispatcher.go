// Package notifications fans order and booking notifications out to email jobs and Twilio messages.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sqaleshop/api/internal/platform/jobs"
	"github.com/sqaleshop/api/internal/services"
)

var (
	e164Pattern     = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// EmailPublisher enqueues email jobs for the mail worker.
type EmailPublisher interface {
	PublishEmailJob(ctx context.Context, job jobs.EmailJob) (string, error)
}

// MessageSender is the Twilio messages API.
type MessageSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// NewTwilioSender returns the messages API of a Twilio REST client.
func NewTwilioSender(accountSID, authToken string) MessageSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api
}

// Deps configures the dispatcher. Emails and Messages are optional; a missing channel is skipped.
type Deps struct {
	Emails       EmailPublisher
	Messages     MessageSender
	FromNumber   string
	WhatsAppFrom string
	// InvoiceURL renders the public invoice link included in order emails.
	InvoiceURL  func(services.Order) string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Dispatcher implements services.NotificationDispatcher.
//
// Customer emails are always queued when an address is present. SMS and WhatsApp follow the store's
// NotificationSettings. Merchant alerts go to the internal contacts when Email or SMS is enabled.
type Dispatcher struct {
	emails       EmailPublisher
	messages     MessageSender
	fromNumber   string
	whatsAppFrom string
	invoiceURL   func(services.Order) string
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ services.NotificationDispatcher = (*Dispatcher)(nil)

// NewDispatcher validates deps and fills defaults.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Messages != nil && strings.TrimSpace(deps.FromNumber) == "" && strings.TrimSpace(deps.WhatsAppFrom) == "" {
		return nil, errors.New("notifications: twilio sender requires a from number")
	}
	d := &Dispatcher{
		emails:       deps.Emails,
		messages:     deps.Messages,
		fromNumber:   strings.TrimSpace(deps.FromNumber),
		whatsAppFrom: strings.TrimPrefix(strings.TrimSpace(deps.WhatsAppFrom), "whatsapp:"),
		invoiceURL:   deps.InvoiceURL,
		clock:        deps.Clock,
		newID:        deps.IDGenerator,
		logger:       deps.Logger,
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.newID == nil {
		d.newID = func() string { return ulid.Make().String() }
	}
	if d.logger == nil {
		d.logger = func(context.Context, string, map[string]any) {}
	}
	return d, nil
}

// message is one notification rendered for every channel.
type message struct {
	template string
	subject  string
	sms      string
	entityID string
	email    string
	phone    string
	data     map[string]any
	internal bool
}

func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, order services.Order, store services.Store) error {
	msg := d.orderMessage(order, store, "order_confirmation",
		fmt.Sprintf("Order %s received", order.OrderNumber),
		fmt.Sprintf("%s: we received order %s, total %s.", store.Name, order.OrderNumber, money(order.Pricing.Total, order.Pricing.Currency)))
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendOrderStatusUpdate(ctx context.Context, order services.Order, store services.Store, oldStatus string) error {
	msg := d.orderMessage(order, store, "order_status_update",
		fmt.Sprintf("Order %s is now %s", order.OrderNumber, humanize(string(order.Status))),
		fmt.Sprintf("%s: order %s is now %s.", store.Name, order.OrderNumber, humanize(string(order.Status))))
	msg.data["previousStatus"] = oldStatus
	if n := len(order.Timeline); n > 0 {
		msg.data["note"] = order.Timeline[n-1].Note
	}
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendOrderCancellation(ctx context.Context, order services.Order, store services.Store) error {
	msg := d.orderMessage(order, store, "order_cancellation",
		fmt.Sprintf("Order %s cancelled", order.OrderNumber),
		fmt.Sprintf("%s: order %s was cancelled.", store.Name, order.OrderNumber))
	msg.data["reason"] = order.CancelReason
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendOrderRefundConfirmation(ctx context.Context, order services.Order, store services.Store, refund services.Refund) error {
	amount := money(refund.Amount, order.Pricing.Currency)
	msg := d.orderMessage(order, store, "order_refund",
		fmt.Sprintf("Refund for order %s", order.OrderNumber),
		fmt.Sprintf("%s: a refund of %s for order %s was processed.", store.Name, amount, order.OrderNumber))
	msg.data["refundId"] = refund.ID
	msg.data["refundAmount"] = refund.Amount
	msg.data["refundedTotal"] = order.Payment.RefundedAmount
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendInternalOrderNotification(ctx context.Context, order services.Order, store services.Store) error {
	msg := d.orderMessage(order, store, "order_internal",
		fmt.Sprintf("New order %s", order.OrderNumber),
		fmt.Sprintf("New order %s from %s: %s.", order.OrderNumber, order.Customer.Name, money(order.Pricing.Total, order.Pricing.Currency)))
	msg.internal = true
	msg.email, msg.phone = internalContacts(store)
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, booking services.Booking, store services.Store) error {
	msg := d.bookingMessage(booking, store, "booking_confirmation",
		fmt.Sprintf("Booking %s received", booking.BookingNumber),
		fmt.Sprintf("%s: booking %s for %s on %s is received.", store.Name, booking.BookingNumber, booking.Slot.Name, booking.Details.StartDate.Format(time.DateOnly)))
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendBookingStatusUpdate(ctx context.Context, booking services.Booking, store services.Store, oldStatus string) error {
	msg := d.bookingMessage(booking, store, "booking_status_update",
		fmt.Sprintf("Booking %s is now %s", booking.BookingNumber, humanize(string(booking.Status))),
		fmt.Sprintf("%s: booking %s is now %s.", store.Name, booking.BookingNumber, humanize(string(booking.Status))))
	msg.data["previousStatus"] = oldStatus
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendBookingCancellation(ctx context.Context, booking services.Booking, store services.Store) error {
	msg := d.bookingMessage(booking, store, "booking_cancellation",
		fmt.Sprintf("Booking %s cancelled", booking.BookingNumber),
		fmt.Sprintf("%s: booking %s was cancelled.", store.Name, booking.BookingNumber))
	msg.data["reason"] = booking.CancelReason
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendBookingRefundConfirmation(ctx context.Context, booking services.Booking, store services.Store, refund services.Refund) error {
	msg := d.bookingMessage(booking, store, "booking_refund",
		fmt.Sprintf("Refund for booking %s", booking.BookingNumber),
		fmt.Sprintf("%s: a refund of %s for booking %s was processed.", store.Name, money(refund.Amount, booking.Pricing.Currency), booking.BookingNumber))
	msg.data["refundId"] = refund.ID
	msg.data["refundAmount"] = refund.Amount
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) SendInternalBookingNotification(ctx context.Context, booking services.Booking, store services.Store) error {
	msg := d.bookingMessage(booking, store, "booking_internal",
		fmt.Sprintf("New booking %s", booking.BookingNumber),
		fmt.Sprintf("New booking %s: %s on %s.", booking.BookingNumber, booking.Slot.Name, booking.Details.StartDate.Format(time.DateOnly)))
	msg.internal = true
	msg.email, msg.phone = internalContacts(store)
	return d.deliver(ctx, store, msg)
}

func (d *Dispatcher) orderMessage(order services.Order, store services.Store, template, subject, sms string) message {
	data := map[string]any{
		"storeName":   store.Name,
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
		"customer":    order.Customer.Name,
		"itemCount":   len(order.Items),
		"total":       order.Pricing.Total,
		"currency":    order.Pricing.Currency,
		"payment":     string(order.Payment.Status),
	}
	if d.invoiceURL != nil && order.InvoiceToken != "" {
		data["invoiceUrl"] = d.invoiceURL(order)
	}
	return message{
		template: template,
		subject:  subject,
		sms:      sms,
		entityID: order.ID,
		email:    order.Customer.Email,
		phone:    order.Customer.Phone,
		data:     data,
	}
}

func (d *Dispatcher) bookingMessage(booking services.Booking, store services.Store, template, subject, sms string) message {
	return message{
		template: template,
		subject:  subject,
		sms:      sms,
		entityID: booking.ID,
		email:    booking.Customer.Email,
		phone:    booking.Customer.Phone,
		data: map[string]any{
			"storeName":     store.Name,
			"bookingId":     booking.ID,
			"bookingNumber": booking.BookingNumber,
			"status":        string(booking.Status),
			"customer":      booking.Customer.Name,
			"slot":          booking.Slot.Name,
			"startDate":     booking.Details.StartDate.Format(time.DateOnly),
			"startTime":     booking.Details.StartTime,
			"quantity":      booking.Details.Quantity,
			"total":         booking.Pricing.Total,
			"currency":      booking.Pricing.Currency,
		},
	}
}

// deliver sends msg on every enabled channel and joins the channel errors.
func (d *Dispatcher) deliver(ctx context.Context, store services.Store, msg message) error {
	settings := store.NotificationSettings
	var errs []error

	sendEmail := msg.email != "" && (!msg.internal || settings.Email)
	if sendEmail && d.emails != nil {
		job := jobs.EmailJob{
			JobID:    "ej_" + d.newID(),
			Template: msg.template,
			To:       []string{msg.email},
			ReplyTo:  store.ContactEmail,
			Subject:  msg.subject,
			StoreID:  store.ID,
			EntityID: msg.entityID,
			Data:     msg.data,
			QueuedAt: d.clock().UTC(),
		}
		if _, err := d.emails.PublishEmailJob(ctx, job); err != nil {
			errs = append(errs, d.channelFailed(ctx, "email", msg, err))
		}
	}

	phone, ok := normalizePhone(msg.phone)
	if d.messages == nil || !ok {
		return errors.Join(errs...)
	}
	if settings.SMS && d.fromNumber != "" {
		if err := d.sendMessage(phone, d.fromNumber, msg.sms); err != nil {
			errs = append(errs, d.channelFailed(ctx, "sms", msg, err))
		}
	}
	if settings.WhatsApp && !msg.internal && d.whatsAppFrom != "" {
		if err := d.sendMessage("whatsapp:"+phone, "whatsapp:"+d.whatsAppFrom, msg.sms); err != nil {
			errs = append(errs, d.channelFailed(ctx, "whatsapp", msg, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) sendMessage(to, from, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)
	_, err := d.messages.CreateMessage(params)
	return err
}

func (d *Dispatcher) channelFailed(ctx context.Context, channel string, msg message, err error) error {
	d.logger(ctx, "notification.channel.failed", map[string]any{
		"channel":  channel,
		"template": msg.template,
		"entityId": msg.entityID,
		"error":    err.Error(),
	})
	return fmt.Errorf("%s %s: %w", channel, msg.template, err)
}

func internalContacts(store services.Store) (string, string) {
	email := strings.TrimSpace(store.NotificationSettings.InternalEmail)
	if email == "" {
		email = strings.TrimSpace(store.ContactEmail)
	}
	phone := strings.TrimSpace(store.NotificationSettings.InternalPhone)
	if phone == "" {
		phone = strings.TrimSpace(store.ContactPhone)
	}
	return email, phone
}

// normalizePhone strips common separators and reports whether the result is E.164.
func normalizePhone(raw string) (string, bool) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	return phone, e164Pattern.MatchString(phone)
}

func money(amount float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%s %.2f", currency, amount)
}

func humanize(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}
