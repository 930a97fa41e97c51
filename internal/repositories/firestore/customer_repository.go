package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sqaleshop/api/internal/domain"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

const customersCollection = "customers"

type customerStatsDocument struct {
	OrderCount    int        `firestore:"orderCount"`
	BookingCount  int        `firestore:"bookingCount"`
	TotalSpent    float64    `firestore:"totalSpent"`
	LastOrderAt   *time.Time `firestore:"lastOrderAt,omitempty"`
	LastBookingAt *time.Time `firestore:"lastBookingAt,omitempty"`
}

type customerDocument struct {
	TenantID  string                `firestore:"tenantId"`
	Email     string                `firestore:"email"`
	Name      string                `firestore:"name"`
	Phone     string                `firestore:"phone,omitempty"`
	Address   *addressDocument      `firestore:"address,omitempty"`
	Metadata  map[string]any        `firestore:"metadata,omitempty"`
	Stats     customerStatsDocument `firestore:"stats"`
	CreatedAt time.Time             `firestore:"createdAt"`
	UpdatedAt time.Time             `firestore:"updatedAt"`
}

// CustomerRepository stores customers under an id derived from (tenant, email) so that
// concurrent inserts of the same identity collide on the document id.
type CustomerRepository struct {
	base *pfirestore.BaseRepository[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{base: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection)}, nil
}

// CustomerDocumentID derives the document id for a tenant scoped email.
func CustomerDocumentID(tenantID, email string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(tenantID) + "|" + normaliseEmail(email)))
	return "cus_" + hex.EncodeToString(sum[:])[:24]
}

// FindByTenantEmail reads the derived document first and falls back to a query for
// customers that were moved to this tenant after creation.
func (r *CustomerRepository) FindByTenantEmail(ctx context.Context, tenantID, email string) (domain.Customer, error) {
	tenantID = strings.TrimSpace(tenantID)
	email = normaliseEmail(email)
	if tenantID == "" || email == "" {
		return domain.Customer{}, repositories.InvalidField("customer", "tenant id and email", "are required")
	}

	doc, err := r.base.Get(ctx, CustomerDocumentID(tenantID, email))
	if err == nil && doc.Data.TenantID == tenantID {
		return decodeCustomerDocument(doc.ID, doc.Data), nil
	}
	if err != nil && !isRepoNotFound(err) {
		return domain.Customer{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, pfirestore.NotFoundError("customers.find_by_tenant_email", "customer not found")
	}
	return decodeCustomerDocument(docs[0].ID, docs[0].Data), nil
}

// FindByEmail returns a customer with the email in any tenant.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	email = normaliseEmail(email)
	if email == "" {
		return domain.Customer{}, repositories.MissingField("customer", "email")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, pfirestore.NotFoundError("customers.find_by_email", "customer not found")
	}
	return decodeCustomerDocument(docs[0].ID, docs[0].Data), nil
}

// Insert creates the customer under its derived id. An existing identity yields a conflict.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(customer.TenantID) == "" || normaliseEmail(customer.Email) == "" {
		return domain.Customer{}, repositories.InvalidField("customer", "tenant id and email", "are required")
	}
	customer.ID = CustomerDocumentID(customer.TenantID, customer.Email)
	customer.Email = normaliseEmail(customer.Email)
	if err := r.base.Create(ctx, customer.ID, encodeCustomerDocument(customer)); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// Update rewrites the contact fields of an existing customer and increments its stats server
// side, so concurrent purchases are all counted.
func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer, delta repositories.CustomerStatsDelta) error {
	id := strings.TrimSpace(customer.ID)
	if id == "" {
		return repositories.MissingField("customer", "customer id")
	}
	doc := encodeCustomerDocument(customer)
	updates := []firestore.Update{
		{Path: "tenantId", Value: doc.TenantID},
		{Path: "email", Value: doc.Email},
		{Path: "name", Value: doc.Name},
		{Path: "phone", Value: doc.Phone},
		{Path: "address", Value: doc.Address},
		{Path: "metadata", Value: doc.Metadata},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	return r.base.Update(ctx, id, append(updates, statsUpdates(delta)...))
}

func statsUpdates(delta repositories.CustomerStatsDelta) []firestore.Update {
	var updates []firestore.Update
	if delta.Orders != 0 {
		updates = append(updates, firestore.Update{Path: "stats.orderCount", Value: firestore.Increment(delta.Orders)})
	}
	if delta.Bookings != 0 {
		updates = append(updates, firestore.Update{Path: "stats.bookingCount", Value: firestore.Increment(delta.Bookings)})
	}
	if delta.Spent != 0 {
		updates = append(updates, firestore.Update{Path: "stats.totalSpent", Value: firestore.Increment(delta.Spent)})
	}
	if delta.LastOrderAt != nil {
		updates = append(updates, firestore.Update{Path: "stats.lastOrderAt", Value: delta.LastOrderAt.UTC()})
	}
	if delta.LastBookingAt != nil {
		updates = append(updates, firestore.Update{Path: "stats.lastBookingAt", Value: delta.LastBookingAt.UTC()})
	}
	return updates
}

func encodeCustomerDocument(c domain.Customer) customerDocument {
	return customerDocument{
		TenantID: strings.TrimSpace(c.TenantID),
		Email:    normaliseEmail(c.Email),
		Name:     c.Name,
		Phone:    c.Phone,
		Address:  encodeAddress(c.Address),
		Metadata: cloneMetadata(c.Metadata),
		Stats: customerStatsDocument{
			OrderCount:    c.Stats.OrderCount,
			BookingCount:  c.Stats.BookingCount,
			TotalSpent:    c.Stats.TotalSpent,
			LastOrderAt:   utcPtr(c.Stats.LastOrderAt),
			LastBookingAt: utcPtr(c.Stats.LastBookingAt),
		},
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func decodeCustomerDocument(id string, doc customerDocument) domain.Customer {
	return domain.Customer{
		ID:       id,
		TenantID: doc.TenantID,
		Email:    doc.Email,
		Name:     doc.Name,
		Phone:    doc.Phone,
		Address:  decodeAddress(doc.Address),
		Metadata: cloneMetadata(doc.Metadata),
		Stats: domain.CustomerStats{
			OrderCount:    doc.Stats.OrderCount,
			BookingCount:  doc.Stats.BookingCount,
			TotalSpent:    doc.Stats.TotalSpent,
			LastOrderAt:   utcPtr(doc.Stats.LastOrderAt),
			LastBookingAt: utcPtr(doc.Stats.LastBookingAt),
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
