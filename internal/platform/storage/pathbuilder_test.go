package storage

import (
	"testing"
	"time"
)

func TestBuildPaymentProofPath(t *testing.T) {
	path, err := BuildObjectPath(PurposePaymentProof, PathParams{
		StoreID:   "store_1",
		ObjectID:  "01HZX0000000000000000000AB",
		Extension: ".png",
		At:        time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "stores/store_1/payment-proofs/2026/03/01HZX0000000000000000000AB.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildPaymentProofPathAddsDot(t *testing.T) {
	path, err := BuildObjectPath(PurposePaymentProof, PathParams{
		StoreID:   "s",
		ObjectID:  "o",
		Extension: "pdf",
		At:        time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "stores/s/payment-proofs/2026/12/o.pdf" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	cases := []PathParams{
		{StoreID: "../bad", ObjectID: "o", At: time.Now()},
		{StoreID: "s", ObjectID: "a/b", At: time.Now()},
		{StoreID: "s", ObjectID: "o"},
		{StoreID: "", ObjectID: "o", At: time.Now()},
	}
	for _, params := range cases {
		if _, err := BuildObjectPath(PurposePaymentProof, params); err == nil {
			t.Fatalf("expected error for %#v", params)
		}
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	if _, err := BuildObjectPath("receipt", PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
