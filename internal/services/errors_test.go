package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sqaleshop/api/internal/repositories"
)

func TestMapRepositoryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: repoErr{notFound: true}, want: ErrNotFound},
		{name: "conflict", err: repoErr{conflict: true}, want: ErrTransientStore},
		{name: "unavailable", err: fmt.Errorf("wrapped: %w", repoErr{unavailable: true}), want: ErrTransientStore},
		{name: "invalid argument", err: repositories.MissingField("order", "order id"), want: ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapRepositoryError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	plain := errors.New("boom")
	if got := mapRepositoryError(plain); got != plain {
		t.Fatalf("expected unclassified error returned as is, got %v", got)
	}
	if mapRepositoryError(nil) != nil {
		t.Fatalf("expected nil for nil")
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(repoErr{conflict: true}) {
		t.Fatalf("conflict should be retried")
	}
	if !isTransient(fmt.Errorf("tx: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline should be retried")
	}
	if isTransient(repoErr{notFound: true}) {
		t.Fatalf("not found should not be retried")
	}
	if isTransient(ErrValidation) {
		t.Fatalf("validation should not be retried")
	}
}
