package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/payments"
	"github.com/sqaleshop/api/internal/repositories"
)

type repoErr struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErr) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	}
	return "repository error"
}

func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

var (
	errRepoNotFound = repoErr{notFound: true}
	errRepoConflict = repoErr{conflict: true}
)

// memProducts rejects stock writes whose revision is stale, like the conditional Firestore update.
// beforeSave runs ahead of each write so a test can slip in a competing change.
type memProducts struct {
	mu         sync.Mutex
	items      map[string]domain.Product
	saves      int
	saveErrs   map[string]error
	beforeSave func(productID string)
}

func newMemProducts(products ...domain.Product) *memProducts {
	m := &memProducts{items: map[string]domain.Product{}, saveErrs: map[string]error{}}
	for _, p := range products {
		m.items[p.ID] = p
	}
	return m
}

func (m *memProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return domain.Product{}, errRepoNotFound
	}
	p.Variants = slices.Clone(p.Variants)
	return p, nil
}

func (m *memProducts) SaveStock(_ context.Context, product domain.Product) error {
	if hook := m.beforeSave; hook != nil {
		m.beforeSave = nil
		hook(product.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErrs[product.ID]; err != nil {
		return err
	}
	if !product.Revision.IsZero() && !product.Revision.Equal(m.items[product.ID].Revision) {
		return errRepoConflict
	}
	m.saves++
	product.Variants = slices.Clone(product.Variants)
	product.Revision = time.Unix(0, int64(m.saves))
	m.items[product.ID] = product
	return nil
}

// bump simulates a write from another request.
func (m *memProducts) bump(productID string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[productID]
	p.Inventory += delta
	m.saves++
	p.Revision = time.Unix(0, int64(m.saves))
	m.items[productID] = p
}

func (m *memProducts) stock(productID, variantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[productID]
	if variantID == "" {
		return p.Inventory
	}
	for _, v := range p.Variants {
		if v.ID == variantID {
			return v.Inventory
		}
	}
	return -1
}

// memCustomers enforces (tenant, email) uniqueness like the deterministic document id does.
type memCustomers struct {
	mu     sync.Mutex
	items  map[string]domain.Customer
	seq    int
	onMiss func()
	onHit  func()
}

func newMemCustomers(customers ...domain.Customer) *memCustomers {
	m := &memCustomers{items: map[string]domain.Customer{}}
	for _, c := range customers {
		m.items[c.ID] = c
	}
	return m
}

func (m *memCustomers) FindByTenantEmail(_ context.Context, tenantID, email string) (domain.Customer, error) {
	m.mu.Lock()
	for _, c := range m.items {
		if c.TenantID == tenantID && c.Email == email {
			hook := m.onHit
			m.mu.Unlock()
			if hook != nil {
				hook()
			}
			return c, nil
		}
	}
	hook := m.onMiss
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return domain.Customer{}, errRepoNotFound
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.Email == email {
			return c, nil
		}
	}
	return domain.Customer{}, errRepoNotFound
}

func (m *memCustomers) Insert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.TenantID == customer.TenantID && c.Email == customer.Email {
			return domain.Customer{}, errRepoConflict
		}
	}
	m.seq++
	customer.ID = fmt.Sprintf("cus_%d", m.seq)
	m.items[customer.ID] = customer
	return customer, nil
}

// Update keeps the stored stats and adds delta like the field-path update does.
func (m *memCustomers) Update(_ context.Context, customer domain.Customer, delta repositories.CustomerStatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[customer.ID]
	if !ok {
		return errRepoNotFound
	}
	customer.Stats = stored.Stats
	customer.Stats.OrderCount += delta.Orders
	customer.Stats.BookingCount += delta.Bookings
	customer.Stats.TotalSpent += delta.Spent
	if delta.LastOrderAt != nil {
		customer.Stats.LastOrderAt = delta.LastOrderAt
	}
	if delta.LastBookingAt != nil {
		customer.Stats.LastBookingAt = delta.LastBookingAt
	}
	m.items[customer.ID] = customer
	return nil
}

func (m *memCustomers) get(id string) domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memCustomers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memOrders struct {
	mu        sync.Mutex
	items     map[string]domain.Order
	insertErr error
	updateErr error
	updates   int
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{items: map[string]domain.Order{}}
	for _, o := range orders {
		m.items[o.ID] = o
	}
	return m
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.items[order.ID] = order
	return nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.items[order.ID] = order
	m.updates++
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	o.Timeline = slices.Clone(o.Timeline)
	o.Payment.Refunds = slices.Clone(o.Payment.Refunds)
	return o, nil
}

func (m *memOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page domain.CursorPage[domain.Order]
	for _, o := range m.items {
		if o.StoreID == filter.StoreID {
			page.Items = append(page.Items, o)
		}
	}
	return page, nil
}

type memBookings struct {
	mu        sync.Mutex
	items     map[string]domain.Booking
	insertErr error
}

func newMemBookings(bookings ...domain.Booking) *memBookings {
	m := &memBookings{items: map[string]domain.Booking{}}
	for _, b := range bookings {
		m.items[b.ID] = b
	}
	return m
}

func (m *memBookings) Insert(_ context.Context, booking domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.items[booking.ID] = booking
	return nil
}

func (m *memBookings) Update(_ context.Context, booking domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[booking.ID] = booking
	return nil
}

func (m *memBookings) FindByID(_ context.Context, id string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return domain.Booking{}, errRepoNotFound
	}
	b.Timeline = slices.Clone(b.Timeline)
	b.Payment.Refunds = slices.Clone(b.Payment.Refunds)
	return b, nil
}

type memCounters struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func newMemCounters() *memCounters {
	return &memCounters{values: map[string]int64{}}
}

func (m *memCounters) Next(_ context.Context, id string, step int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.values[id] += step
	return m.values[id], nil
}

type stubSlotRepo struct {
	findFn func(context.Context, string) (domain.BookingSlot, error)
}

func (s *stubSlotRepo) FindByID(ctx context.Context, id string) (domain.BookingSlot, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.BookingSlot{}, errRepoNotFound
}

type stubStoreRepo struct {
	byID   map[string]domain.Store
	bySlug map[string]domain.Store
	err    error
}

func (s *stubStoreRepo) FindByID(_ context.Context, id string) (domain.Store, error) {
	if s.err != nil {
		return domain.Store{}, s.err
	}
	store, ok := s.byID[id]
	if !ok {
		return domain.Store{}, errRepoNotFound
	}
	return store, nil
}

func (s *stubStoreRepo) FindBySlug(_ context.Context, slug string) (domain.Store, error) {
	if s.err != nil {
		return domain.Store{}, s.err
	}
	store, ok := s.bySlug[slug]
	if !ok {
		return domain.Store{}, errRepoNotFound
	}
	return store, nil
}

// scriptedUnitOfWork returns the queued errors in order before delegating to fn. With
// stall set every call blocks until its context ends.
type scriptedUnitOfWork struct {
	mu    sync.Mutex
	calls int
	errs  []error
	stall bool
}

func (u *scriptedUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.mu.Lock()
	u.calls++
	var err error
	if len(u.errs) > 0 {
		err, u.errs = u.errs[0], u.errs[1:]
	}
	stall := u.stall
	u.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return fn(ctx)
}

type recordingNotifications struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingNotifications) record(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, kind)
	return r.err
}

func (r *recordingNotifications) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.calls)
	slices.Sort(out)
	return out
}

func (r *recordingNotifications) SendOrderConfirmation(context.Context, Order, Store) error {
	return r.record("order.confirmation")
}

func (r *recordingNotifications) SendOrderStatusUpdate(_ context.Context, _ Order, _ Store, old string) error {
	return r.record("order.status:" + old)
}

func (r *recordingNotifications) SendOrderCancellation(context.Context, Order, Store) error {
	return r.record("order.cancellation")
}

func (r *recordingNotifications) SendOrderRefundConfirmation(context.Context, Order, Store, Refund) error {
	return r.record("order.refund")
}

func (r *recordingNotifications) SendInternalOrderNotification(context.Context, Order, Store) error {
	return r.record("order.internal")
}

func (r *recordingNotifications) SendBookingConfirmation(context.Context, Booking, Store) error {
	return r.record("booking.confirmation")
}

func (r *recordingNotifications) SendBookingStatusUpdate(_ context.Context, _ Booking, _ Store, old string) error {
	return r.record("booking.status:" + old)
}

func (r *recordingNotifications) SendBookingCancellation(context.Context, Booking, Store) error {
	return r.record("booking.cancellation")
}

func (r *recordingNotifications) SendBookingRefundConfirmation(context.Context, Booking, Store, Refund) error {
	return r.record("booking.refund")
}

func (r *recordingNotifications) SendInternalBookingNotification(context.Context, Booking, Store) error {
	return r.record("booking.internal")
}

type captureEvents struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (c *captureEvents) Publish(_ context.Context, event DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type stubGateway struct {
	refundFn func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error)
	calls    int
}

func (s *stubGateway) Refund(ctx context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	s.calls++
	if s.refundFn != nil {
		return s.refundFn(ctx, pc, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.event == event {
			return true
		}
	}
	return false
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%02d", prefix, n)
	}
}

var (
	_ repositories.ProductRepository  = (*memProducts)(nil)
	_ repositories.CustomerRepository = (*memCustomers)(nil)
	_ repositories.OrderRepository    = (*memOrders)(nil)
	_ repositories.BookingRepository  = (*memBookings)(nil)
	_ repositories.CounterRepository  = (*memCounters)(nil)
	_ repositories.SlotRepository     = (*stubSlotRepo)(nil)
	_ repositories.StoreRepository    = (*stubStoreRepo)(nil)
	_ NotificationDispatcher          = (*recordingNotifications)(nil)
	_ EventPublisher                  = (*captureEvents)(nil)
	_ PaymentGateway                  = (*stubGateway)(nil)
)
