package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/platform/jobs"
	"github.com/sqaleshop/api/internal/services"
)

type fakeEmails struct {
	mu   sync.Mutex
	jobs []jobs.EmailJob
	err  error
}

func (f *fakeEmails) PublishEmailJob(_ context.Context, job jobs.EmailJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, job)
	return "msg-1", nil
}

type sentMessage struct {
	to, from, body string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{to: *params.To, from: *params.From, body: *params.Body})
	sid := "SM1"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

type recordedLog struct {
	event  string
	fields map[string]any
}

func newTestDispatcher(t *testing.T, emails *fakeEmails, sender *fakeSender, logs *[]recordedLog) *Dispatcher {
	t.Helper()
	deps := Deps{
		Emails:       emails,
		FromNumber:   "+15550001111",
		WhatsAppFrom: "whatsapp:+15550002222",
		InvoiceURL:   func(o services.Order) string { return "https://api.example.com/public/invoices/" + o.ID },
		Clock:        func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) },
		IDGenerator:  func() string { return "01J" },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if logs != nil {
				*logs = append(*logs, recordedLog{event: event, fields: fields})
			}
		},
	}
	if sender != nil {
		deps.Messages = sender
	}
	d, err := NewDispatcher(deps)
	require.NoError(t, err)
	return d
}

func sampleStore(settings domain.NotificationSettings) services.Store {
	return services.Store{
		ID:                   "store_1",
		Name:                 "Kopi Kita",
		ContactEmail:         "owner@kopi.example",
		ContactPhone:         "+62 812 000 111",
		NotificationSettings: settings,
	}
}

func sampleOrder() services.Order {
	return services.Order{
		ID:           "ord_1",
		StoreID:      "store_1",
		OrderNumber:  "KOP26030001",
		InvoiceToken: "tok",
		Customer:     services.CustomerSnapshot{Name: "Ada", Email: "ada@example.com", Phone: "+62 (812) 555-0100"},
		Items:        []services.OrderItem{{ProductID: "p1", Quantity: 2}},
		Pricing:      services.Pricing{Total: 2700, Currency: "IDR"},
		Status:       domain.OrderStatusPending,
	}
}

func TestDispatcherOrderConfirmationQueuesEmail(t *testing.T) {
	emails := &fakeEmails{}
	d := newTestDispatcher(t, emails, nil, nil)

	require.NoError(t, d.SendOrderConfirmation(context.Background(), sampleOrder(), sampleStore(domain.NotificationSettings{})))
	require.Len(t, emails.jobs, 1)

	job := emails.jobs[0]
	assert.Equal(t, "ej_01J", job.JobID)
	assert.Equal(t, "order_confirmation", job.Template)
	assert.Equal(t, []string{"ada@example.com"}, job.To)
	assert.Equal(t, "owner@kopi.example", job.ReplyTo)
	assert.Equal(t, "Order KOP26030001 received", job.Subject)
	assert.Equal(t, "https://api.example.com/public/invoices/ord_1", job.Data["invoiceUrl"])
	assert.Equal(t, 1, job.Data["itemCount"])
}

func TestDispatcherSendsSMSAndWhatsAppWhenEnabled(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(t, &fakeEmails{}, sender, nil)
	store := sampleStore(domain.NotificationSettings{SMS: true, WhatsApp: true})

	order := sampleOrder()
	order.Status = domain.OrderStatusShipped
	require.NoError(t, d.SendOrderStatusUpdate(context.Background(), order, store, "processing"))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, sentMessage{to: "+628125550100", from: "+15550001111", body: "Kopi Kita: order KOP26030001 is now shipped."}, sender.sent[0])
	assert.Equal(t, "whatsapp:+628125550100", sender.sent[1].to)
	assert.Equal(t, "whatsapp:+15550002222", sender.sent[1].from)
}

func TestDispatcherSkipsNonE164Phones(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(t, &fakeEmails{}, sender, nil)
	order := sampleOrder()
	order.Customer.Phone = "0812 555 0100"

	require.NoError(t, d.SendOrderCancellation(context.Background(), order, sampleStore(domain.NotificationSettings{SMS: true})))
	assert.Empty(t, sender.sent)
}

func TestDispatcherJoinsChannelErrors(t *testing.T) {
	emailErr := errors.New("pubsub unavailable")
	smsErr := errors.New("twilio 21211")
	var logs []recordedLog
	d := newTestDispatcher(t, &fakeEmails{err: emailErr}, &fakeSender{err: smsErr}, &logs)

	err := d.SendOrderRefundConfirmation(context.Background(), sampleOrder(), sampleStore(domain.NotificationSettings{SMS: true}), services.Refund{ID: "rfd_1", Amount: 700})
	require.Error(t, err)
	assert.ErrorIs(t, err, emailErr)
	assert.ErrorIs(t, err, smsErr)
	require.Len(t, logs, 2)
	assert.Equal(t, "notification.channel.failed", logs[0].event)
	assert.Equal(t, "email", logs[0].fields["channel"])
	assert.Equal(t, "sms", logs[1].fields["channel"])
}

func TestDispatcherInternalNotificationsFollowStoreSettings(t *testing.T) {
	emails := &fakeEmails{}
	sender := &fakeSender{}
	d := newTestDispatcher(t, emails, sender, nil)

	require.NoError(t, d.SendInternalOrderNotification(context.Background(), sampleOrder(), sampleStore(domain.NotificationSettings{})))
	assert.Empty(t, emails.jobs)

	store := sampleStore(domain.NotificationSettings{Email: true, SMS: true, WhatsApp: true, InternalEmail: "ops@kopi.example"})
	require.NoError(t, d.SendInternalOrderNotification(context.Background(), sampleOrder(), store))
	require.Len(t, emails.jobs, 1)
	assert.Equal(t, []string{"ops@kopi.example"}, emails.jobs[0].To)
	require.Len(t, sender.sent, 1, "internal alerts use SMS only")
	assert.Equal(t, "+62812000111", sender.sent[0].to)
}

func TestDispatcherBookingConfirmation(t *testing.T) {
	emails := &fakeEmails{}
	d := newTestDispatcher(t, emails, nil, nil)
	booking := services.Booking{
		ID:            "bkg_1",
		BookingNumber: "KOPB26030001",
		Customer:      services.CustomerSnapshot{Email: "grace@example.com"},
		Slot:          services.SlotSnapshot{Name: "Studio hour"},
		Details:       services.BookingDetails{StartDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), StartTime: "09:00", Quantity: 1},
	}

	require.NoError(t, d.SendBookingConfirmation(context.Background(), booking, sampleStore(domain.NotificationSettings{})))
	require.Len(t, emails.jobs, 1)
	assert.Equal(t, "booking_confirmation", emails.jobs[0].Template)
	assert.Equal(t, "2026-03-20", emails.jobs[0].Data["startDate"])
}

func TestNewDispatcherRequiresSenderNumber(t *testing.T) {
	_, err := NewDispatcher(Deps{Messages: &fakeSender{}})
	assert.Error(t, err)
}
