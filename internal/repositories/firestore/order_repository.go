package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sqaleshop/api/internal/domain"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/platform/pagination"
	"github.com/sqaleshop/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ProductID    string   `firestore:"productId"`
	VariantID    string   `firestore:"variantId,omitempty"`
	Name         string   `firestore:"name"`
	VariantName  string   `firestore:"variantName,omitempty"`
	SKU          string   `firestore:"sku,omitempty"`
	Images       []string `firestore:"images,omitempty"`
	Quantity     int      `firestore:"quantity"`
	UnitPrice    float64  `firestore:"unitPrice"`
	TotalPrice   float64  `firestore:"totalPrice"`
	StockTracked bool     `firestore:"stockTracked"`
}

type deliveryDocument struct {
	Method  string           `firestore:"method"`
	Address *addressDocument `firestore:"address,omitempty"`
	Fee     float64          `firestore:"fee"`
	Notes   string           `firestore:"notes,omitempty"`
}

type orderDocument struct {
	TenantID     string                   `firestore:"tenantId"`
	StoreID      string                   `firestore:"storeId"`
	OrderNumber  string                   `firestore:"orderNumber"`
	InvoiceToken string                   `firestore:"invoiceToken"`
	CustomerID   string                   `firestore:"customerId"`
	Customer     customerSnapshotDocument `firestore:"customer"`
	Items        []orderItemDocument      `firestore:"items"`
	Delivery     deliveryDocument         `firestore:"delivery"`
	Pricing      pricingDocument          `firestore:"pricing"`
	Status       string                   `firestore:"status"`
	Timeline     []timelineDocument       `firestore:"timeline"`
	Payment      paymentDocument          `firestore:"payment"`
	Notes        string                   `firestore:"notes,omitempty"`
	Source       string                   `firestore:"source,omitempty"`
	Metadata     map[string]any           `firestore:"metadata,omitempty"`
	CancelReason string                   `firestore:"cancelReason,omitempty"`
	CancelledAt  *time.Time               `firestore:"cancelledAt,omitempty"`
	CreatedAt    time.Time                `firestore:"createdAt"`
	UpdatedAt    time.Time                `firestore:"updatedAt"`
}

// OrderRepository persists orders in the top level orders collection.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order document and fails with a conflict when the id is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.MissingField("order", "order id")
	}
	return r.base.Create(ctx, id, encodeOrderDocument(order))
}

// Update replaces the stored order with the supplied state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.MissingField("order", "order id")
	}
	return r.base.Set(ctx, id, encodeOrderDocument(order))
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.MissingField("order", "order id")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// List returns a store's orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	storeID := strings.TrimSpace(filter.StoreID)
	if storeID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.MissingField("order", "store id")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.InvalidField("order", "page token", "is malformed: %v", err)
		}
		startAfter = []any{cursor.CreatedAt, cursor.ID}
	}
	statuses := normaliseStatuses(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("storeId", "==", storeID)
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[limit-1]
		nextToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt, ID: last.ID})
		docs = docs[:limit]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:    item.ProductID,
			VariantID:    item.VariantID,
			Name:         item.Name,
			VariantName:  item.VariantName,
			SKU:          item.SKU,
			Images:       append([]string(nil), item.Images...),
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
			StockTracked: item.StockTracked,
		})
	}
	return orderDocument{
		TenantID:     order.TenantID,
		StoreID:      order.StoreID,
		OrderNumber:  order.OrderNumber,
		InvoiceToken: order.InvoiceToken,
		CustomerID:   order.CustomerID,
		Customer:     encodeCustomerSnapshot(order.Customer),
		Items:        items,
		Delivery: deliveryDocument{
			Method:  order.Delivery.Method,
			Address: encodeAddress(order.Delivery.Address),
			Fee:     order.Delivery.Fee,
			Notes:   order.Delivery.Notes,
		},
		Pricing:      encodePricing(order.Pricing),
		Status:       string(order.Status),
		Timeline:     encodeTimeline(order.Timeline),
		Payment:      encodePayment(order.Payment),
		Notes:        order.Notes,
		Source:       order.Source,
		Metadata:     cloneMetadata(order.Metadata),
		CancelReason: order.CancelReason,
		CancelledAt:  utcPtr(order.CancelledAt),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:    item.ProductID,
			VariantID:    item.VariantID,
			Name:         item.Name,
			VariantName:  item.VariantName,
			SKU:          item.SKU,
			Images:       append([]string(nil), item.Images...),
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
			StockTracked: item.StockTracked,
		})
	}
	return domain.Order{
		ID:           id,
		TenantID:     doc.TenantID,
		StoreID:      doc.StoreID,
		OrderNumber:  doc.OrderNumber,
		InvoiceToken: doc.InvoiceToken,
		CustomerID:   doc.CustomerID,
		Customer:     decodeCustomerSnapshot(doc.Customer),
		Items:        items,
		Delivery: domain.Delivery{
			Method:  doc.Delivery.Method,
			Address: decodeAddress(doc.Delivery.Address),
			Fee:     doc.Delivery.Fee,
			Notes:   doc.Delivery.Notes,
		},
		Pricing:      decodePricing(doc.Pricing),
		Status:       domain.OrderStatus(doc.Status),
		Timeline:     decodeTimeline(doc.Timeline),
		Payment:      decodePayment(doc.Payment),
		Notes:        doc.Notes,
		Source:       doc.Source,
		Metadata:     cloneMetadata(doc.Metadata),
		CancelReason: doc.CancelReason,
		CancelledAt:  utcPtr(doc.CancelledAt),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}
