//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/sqaleshop/api/internal/platform/config"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type stockLevel struct {
	SKU    string `firestore:"sku"`
	OnHand int    `firestore:"onHand"`
}

func TestBaseRepositoryAgainstEmulator(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !provider.SupportsTransactions(ctx) {
		t.Fatalf("emulator should accept the transaction probe")
	}
	stock := pfirestore.NewBaseRepository[stockLevel](provider, fmt.Sprintf("stock_%d", time.Now().UnixNano()))

	t.Run("create then classify duplicate and missing", func(t *testing.T) {
		if err := stock.Create(ctx, "kopi-250", stockLevel{SKU: "KOPI-250", OnHand: 4}); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := stock.Create(ctx, "kopi-250", stockLevel{SKU: "KOPI-250"})
		var conflict interface{ IsConflict() bool }
		if !errors.As(err, &conflict) || !conflict.IsConflict() {
			t.Fatalf("expected conflict, got %v", err)
		}
		_, err = stock.Get(ctx, "teh-100")
		var notFound interface{ IsNotFound() bool }
		if !errors.As(err, &notFound) || !notFound.IsNotFound() {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		if err := stock.Update(ctx, "kopi-250", []firestore.Update{{Path: "onHand", Value: 5}}); err != nil {
			t.Fatalf("update: %v", err)
		}
		doc, err := stock.Get(ctx, "kopi-250")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc.Data.OnHand != 5 || doc.Data.SKU != "KOPI-250" || doc.UpdateTime.IsZero() {
			t.Fatalf("unexpected document %+v", doc)
		}
	})

	t.Run("transaction reads see committed state and writes land together", func(t *testing.T) {
		err := provider.RunInTx(ctx, func(ctx context.Context) error {
			current, err := stock.Get(ctx, "kopi-250")
			if err != nil {
				return err
			}
			current.Data.OnHand -= 2
			if err := stock.Set(ctx, "kopi-250", current.Data); err != nil {
				return err
			}
			if err := stock.Create(ctx, "teh-100", stockLevel{SKU: "TEH-100", OnHand: 1}); err != nil {
				return err
			}
			// queued writes are not visible until commit
			docs, err := stock.Query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where("sku", "==", "TEH-100")
			})
			if err != nil {
				return err
			}
			if len(docs) != 0 {
				return fmt.Errorf("expected uncommitted create to be invisible, got %d", len(docs))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		doc, err := stock.Get(ctx, "kopi-250")
		if err != nil || doc.Data.OnHand != 3 {
			t.Fatalf("expected onHand 3, got %+v (%v)", doc.Data, err)
		}
		if _, err := stock.Get(ctx, "teh-100"); err != nil {
			t.Fatalf("expected committed create: %v", err)
		}
	})

	t.Run("nested call joins the outer transaction", func(t *testing.T) {
		errSoldOut := errors.New("sold out")
		err := provider.RunInTx(ctx, func(ctx context.Context) error {
			if err := stock.Set(ctx, "kopi-250", stockLevel{SKU: "KOPI-250", OnHand: 0}); err != nil {
				return err
			}
			return provider.RunInTx(ctx, func(ctx context.Context) error {
				if _, ok := pfirestore.TxFromContext(ctx); !ok {
					return errors.New("nested call lost the transaction")
				}
				return errSoldOut
			})
		})
		if !errors.Is(err, errSoldOut) {
			t.Fatalf("expected callback error to pass through, got %v", err)
		}
		doc, _ := stock.Get(ctx, "kopi-250")
		if doc.Data.OnHand != 3 {
			t.Fatalf("expected rollback to keep onHand 3, got %d", doc.Data.OnHand)
		}
	})

	t.Run("cancelled context surfaces as context error", func(t *testing.T) {
		cancelled, stop := context.WithCancel(context.Background())
		stop()
		err := provider.RunInTx(cancelled, func(context.Context) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

// emulatorProvider uses FIRESTORE_EMULATOR_HOST when set and otherwise starts the emulator in docker.
func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	endpoint := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if endpoint == "" {
		endpoint = runDockerEmulator(t)
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "sqale-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func runDockerEmulator(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", id) })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return endpoint
		}
		if time.Now().After(deadline) {
			t.Fatalf("emulator not ready: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}
