package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqaleshop/api/internal/repositories"
)

var (
	// ErrValidation signals missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound signals a missing store, product, slot, order, booking or customer.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientInventory signals that a resolved stock counter cannot cover the requested quantity.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrInvalidPricing signals non-positive prices or totals.
	ErrInvalidPricing = errors.New("invalid pricing")
	// ErrCustomerResolution signals that no customer could be found or created for an identity.
	ErrCustomerResolution = errors.New("customer resolution failed")
	// ErrInvalidRefundAmount signals a refund that is not positive or exceeds the refundable balance.
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
	// ErrTransientStore marks retryable persistence failures.
	ErrTransientStore = errors.New("transient store error")
	// ErrStoreResolution signals that the request did not identify a store.
	ErrStoreResolution = errors.New("store could not be resolved")
	// ErrNotCancellable signals a cancellation attempt outside pending or confirmed.
	ErrNotCancellable = errors.New("entity cannot be cancelled")
	// ErrNotRefundable signals a refund attempt the entity status or payment does not allow.
	ErrNotRefundable = errors.New("entity cannot be refunded")
	// ErrPaymentProvider signals a payment service provider failure.
	ErrPaymentProvider = errors.New("payment provider error")
)

// mapRepositoryError classifies repository failures into service sentinels.
// Conflicts and outages both become ErrTransientStore so the builders retry them.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsInvalidArgument(err) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict(), repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrTransientStore, err)
		}
	}
	return err
}

// isTransient reports whether a failed unit of work is worth another attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientStore) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict() || repoErr.IsUnavailable()
	}
	return false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
