package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposePaymentProof AssetPurpose = "payment-proof"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	StoreID   string
	ObjectID  string
	Extension string
	At        time.Time
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposePaymentProof: buildPaymentProofPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

// stores/{storeId}/payment-proofs/{yyyy}/{mm}/{objectId}{ext}
func buildPaymentProofPath(params PathParams) (string, error) {
	storeID, err := validateSegment("storeID", params.StoreID)
	if err != nil {
		return "", err
	}
	objectID, err := validateSegment("objectID", params.ObjectID)
	if err != nil {
		return "", err
	}
	if params.At.IsZero() {
		return "", fmt.Errorf("storage: upload time is required")
	}
	ext := strings.TrimSpace(params.Extension)
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, err := validateSegment("extension", ext); err != nil {
			return "", err
		}
	}
	at := params.At.UTC()
	return fmt.Sprintf("stores/%s/payment-proofs/%04d/%02d/%s%s", storeID, at.Year(), int(at.Month()), objectID, ext), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
