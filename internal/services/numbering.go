package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/sqaleshop/api/internal/repositories"
)

const defaultOrderPrefix = "ORD"

// StorePrefix returns the configured order prefix, else the first three ASCII letters or digits
// of the store name upper-cased, else ORD.
func StorePrefix(store Store) string {
	if prefix := strings.TrimSpace(store.OrderPrefix); prefix != "" {
		return strings.ToUpper(prefix)
	}
	var b strings.Builder
	for _, r := range store.Name {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return defaultOrderPrefix
	}
	return b.String()
}

// sequenceNumberer formats per store, per month sequences.
type sequenceNumberer struct {
	counters repositories.CounterRepository
}

// next returns {prefix}{marker}{YY}{MM}{seq:04d} from counter {scope}-{storeID}-{YYMM}.
func (n sequenceNumberer) next(ctx context.Context, scope, marker string, store Store, now time.Time) (string, error) {
	period := now.Format("0601")
	seq, err := n.counters.Next(ctx, fmt.Sprintf("%s-%s-%s", scope, store.ID, period), 1)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return fmt.Sprintf("%s%s%s%04d", StorePrefix(store), marker, period, seq), nil
}

// newInvoiceToken returns 32 random hex characters.
func newInvoiceToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func tenantOf(store Store) string {
	if owner := strings.TrimSpace(store.OwnerID); owner != "" {
		return owner
	}
	return store.ID
}
