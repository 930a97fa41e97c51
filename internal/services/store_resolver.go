package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/repositories"
)

type storeResolver struct {
	stores repositories.StoreRepository
}

// NewStoreResolver resolves request store hints against the store repository.
func NewStoreResolver(stores repositories.StoreRepository) (StoreResolver, error) {
	if stores == nil {
		return nil, errors.New("store resolver: store repository is required")
	}
	return &storeResolver{stores: stores}, nil
}

// Resolve tries the session store, then the store-id header, then the store-url header.
func (r *storeResolver) Resolve(ctx context.Context, lookup StoreLookup) (Store, error) {
	var (
		store Store
		err   error
	)
	switch {
	case strings.TrimSpace(lookup.SessionStoreID) != "":
		store, err = r.stores.FindByID(ctx, strings.TrimSpace(lookup.SessionStoreID))
	case strings.TrimSpace(lookup.HeaderStoreID) != "":
		store, err = r.stores.FindByID(ctx, strings.TrimSpace(lookup.HeaderStoreID))
	case strings.TrimSpace(lookup.HeaderStoreURL) != "":
		slug := StoreSlugFromURL(lookup.HeaderStoreURL)
		if slug == "" {
			return Store{}, fmt.Errorf("%w: store-url %q has no slug", ErrStoreResolution, lookup.HeaderStoreURL)
		}
		store, err = r.stores.FindBySlug(ctx, slug)
	default:
		return Store{}, ErrStoreResolution
	}
	if err != nil {
		return Store{}, mapRepositoryError(err)
	}
	if store.Status != domain.StoreStatusActive {
		return Store{}, fmt.Errorf("%w: store %s is not active", ErrNotFound, store.ID)
	}
	return store, nil
}

// StoreSlugFromURL returns the first path segment of a URL, else its first host label.
// Bare values are treated as slugs. The result is lower-cased.
func StoreSlugFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		if !strings.ContainsAny(raw, "/.") {
			return strings.ToLower(raw)
		}
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, segment := range strings.Split(parsed.Path, "/") {
		if segment = strings.TrimSpace(segment); segment != "" {
			return strings.ToLower(segment)
		}
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if label, _, _ := strings.Cut(host, "."); label != "" {
		return strings.ToLower(label)
	}
	return ""
}
