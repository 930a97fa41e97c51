package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sqaleshop/api/internal/domain"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/repositories"
)

const (
	storesCollection   = "stores"
	productsCollection = "products"
	slotsCollection    = "bookingSlots"
)

type storeDocument struct {
	OwnerID       string `firestore:"ownerId"`
	Name          string `firestore:"name"`
	Slug          string `firestore:"slug"`
	Status        string `firestore:"status"`
	Currency      string `firestore:"currency"`
	OrderPrefix   string `firestore:"orderPrefix,omitempty"`
	ContactEmail  string `firestore:"contactEmail,omitempty"`
	ContactPhone  string `firestore:"contactPhone,omitempty"`
	BookingConfig struct {
		Enabled             bool   `firestore:"enabled"`
		RequirePaymentProof bool   `firestore:"requirePaymentProof"`
		Timezone            string `firestore:"timezone,omitempty"`
	} `firestore:"bookingSettings"`
	Notifications struct {
		Email         bool   `firestore:"email"`
		SMS           bool   `firestore:"sms"`
		WhatsApp      bool   `firestore:"whatsapp"`
		InternalEmail string `firestore:"internalEmail,omitempty"`
		InternalPhone string `firestore:"internalPhone,omitempty"`
	} `firestore:"notificationSettings"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type variantDocument struct {
	ID                string            `firestore:"id"`
	Name              string            `firestore:"name"`
	SKU               string            `firestore:"sku,omitempty"`
	Price             float64           `firestore:"price"`
	Inventory         int               `firestore:"inventory"`
	LowStockThreshold int               `firestore:"lowStockThreshold,omitempty"`
	Options           map[string]string `firestore:"options,omitempty"`
}

type productDocument struct {
	StoreID           string            `firestore:"storeId"`
	Name              string            `firestore:"name"`
	SKU               string            `firestore:"sku,omitempty"`
	Price             float64           `firestore:"price"`
	Images            []string          `firestore:"images,omitempty"`
	Inventory         int               `firestore:"inventory"`
	LowStockThreshold int               `firestore:"lowStockThreshold,omitempty"`
	Variants          []variantDocument `firestore:"variants,omitempty"`
	Status            string            `firestore:"status"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

type slotDocument struct {
	StoreID      string    `firestore:"storeId"`
	Name         string    `firestore:"name"`
	Type         string    `firestore:"type,omitempty"`
	Price        float64   `firestore:"price"`
	Capacity     int       `firestore:"capacity"`
	Duration     int       `firestore:"duration,omitempty"`
	DurationUnit string    `firestore:"durationUnit,omitempty"`
	Status       string    `firestore:"status"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// StoreRepository reads storefronts.
type StoreRepository struct {
	base *pfirestore.BaseRepository[storeDocument]
}

var _ repositories.StoreRepository = (*StoreRepository)(nil)

// NewStoreRepository constructs a Firestore-backed store repository.
func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository requires firestore provider")
	}
	return &StoreRepository{base: pfirestore.NewBaseRepository[storeDocument](provider, storesCollection)}, nil
}

func (r *StoreRepository) FindByID(ctx context.Context, storeID string) (domain.Store, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return domain.Store{}, repositories.MissingField("store", "store id")
	}
	doc, err := r.base.Get(ctx, storeID)
	if err != nil {
		return domain.Store{}, err
	}
	return decodeStoreDocument(doc.ID, doc.Data), nil
}

func (r *StoreRepository) FindBySlug(ctx context.Context, slug string) (domain.Store, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Store{}, repositories.MissingField("store", "slug")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Store{}, err
	}
	if len(docs) == 0 {
		return domain.Store{}, pfirestore.NotFoundError("stores.find_by_slug", "store "+slug+" not found")
	}
	return decodeStoreDocument(docs[0].ID, docs[0].Data), nil
}

func decodeStoreDocument(id string, doc storeDocument) domain.Store {
	return domain.Store{
		ID:           id,
		OwnerID:      doc.OwnerID,
		Name:         doc.Name,
		Slug:         doc.Slug,
		Status:       doc.Status,
		Currency:     doc.Currency,
		OrderPrefix:  doc.OrderPrefix,
		ContactEmail: doc.ContactEmail,
		ContactPhone: doc.ContactPhone,
		BookingSettings: domain.BookingSettings{
			Enabled:             doc.BookingConfig.Enabled,
			RequirePaymentProof: doc.BookingConfig.RequirePaymentProof,
			Timezone:            doc.BookingConfig.Timezone,
		},
		NotificationSettings: domain.NotificationSettings{
			Email:         doc.Notifications.Email,
			SMS:           doc.Notifications.SMS,
			WhatsApp:      doc.Notifications.WhatsApp,
			InternalEmail: doc.Notifications.InternalEmail,
			InternalPhone: doc.Notifications.InternalPhone,
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

// ProductRepository reads products and writes back their stock counters.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
	now  func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.MissingField("product", "product id")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := decodeProductDocument(doc.ID, doc.Data)
	product.Revision = doc.UpdateTime
	return product, nil
}

// SaveStock writes only the stock fields. When the product carries a revision the write is
// conditional on it, so a stale copy can neither undo a concurrent stock change nor revert
// a catalog edit to the variants.
func (r *ProductRepository) SaveStock(ctx context.Context, product domain.Product) error {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return repositories.MissingField("product", "product id")
	}
	variants := make([]variantDocument, 0, len(product.Variants))
	for _, v := range product.Variants {
		variants = append(variants, encodeVariant(v))
	}
	var preconds []firestore.Precondition
	if !product.Revision.IsZero() {
		preconds = append(preconds, firestore.LastUpdateTime(product.Revision))
	}
	return r.base.Update(ctx, id, []firestore.Update{
		{Path: "inventory", Value: product.Inventory},
		{Path: "variants", Value: variants},
		{Path: "updatedAt", Value: r.now()},
	}, preconds...)
}

func encodeVariant(v domain.ProductVariant) variantDocument {
	return variantDocument{
		ID:                v.ID,
		Name:              v.Name,
		SKU:               v.SKU,
		Price:             v.Price,
		Inventory:         v.Inventory,
		LowStockThreshold: v.LowStockThreshold,
		Options:           v.Options,
	}
}

func decodeProductDocument(id string, doc productDocument) domain.Product {
	variants := make([]domain.ProductVariant, 0, len(doc.Variants))
	for _, v := range doc.Variants {
		variants = append(variants, domain.ProductVariant{
			ID:                v.ID,
			Name:              v.Name,
			SKU:               v.SKU,
			Price:             v.Price,
			Inventory:         v.Inventory,
			LowStockThreshold: v.LowStockThreshold,
			Options:           v.Options,
		})
	}
	return domain.Product{
		ID:                id,
		StoreID:           doc.StoreID,
		Name:              doc.Name,
		SKU:               doc.SKU,
		Price:             doc.Price,
		Images:            append([]string(nil), doc.Images...),
		Inventory:         doc.Inventory,
		LowStockThreshold: doc.LowStockThreshold,
		Variants:          variants,
		Status:            doc.Status,
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}
}

// SlotRepository reads booking slots.
type SlotRepository struct {
	base *pfirestore.BaseRepository[slotDocument]
}

var _ repositories.SlotRepository = (*SlotRepository)(nil)

// NewSlotRepository constructs a Firestore-backed slot repository.
func NewSlotRepository(provider *pfirestore.Provider) (*SlotRepository, error) {
	if provider == nil {
		return nil, errors.New("slot repository requires firestore provider")
	}
	return &SlotRepository{base: pfirestore.NewBaseRepository[slotDocument](provider, slotsCollection)}, nil
}

func (r *SlotRepository) FindByID(ctx context.Context, slotID string) (domain.BookingSlot, error) {
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return domain.BookingSlot{}, repositories.MissingField("slot", "slot id")
	}
	doc, err := r.base.Get(ctx, slotID)
	if err != nil {
		return domain.BookingSlot{}, err
	}
	return domain.BookingSlot{
		ID:           doc.ID,
		StoreID:      doc.Data.StoreID,
		Name:         doc.Data.Name,
		Type:         doc.Data.Type,
		Price:        doc.Data.Price,
		Capacity:     doc.Data.Capacity,
		Duration:     doc.Data.Duration,
		DurationUnit: doc.Data.DurationUnit,
		Status:       doc.Data.Status,
		UpdatedAt:    doc.Data.UpdatedAt.UTC(),
	}, nil
}
