package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the native retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the wall-clock duration of a transaction.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type txKey struct{}

// Tx is the transaction handle shared by repositories through the context.
// Firestore requires every read to happen before the first write, so writes are
// buffered and applied in order once the unit of work returns.
type Tx struct {
	tx     *firestore.Transaction
	writes []func(*firestore.Transaction) error
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// Get reads a document within the transaction.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return t.tx.Get(ref)
}

// Query runs a query within the transaction and returns every matching snapshot.
func (t *Tx) Query(q firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	return t.tx.Documents(q).GetAll()
}

// Create queues a create that fails at commit when the document exists.
func (t *Tx) Create(ref *firestore.DocumentRef, data any) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Create(ref, data)
	})
}

// Set queues an upsert.
func (t *Tx) Set(ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Set(ref, data, opts...)
	})
}

// Update queues a partial update.
func (t *Tx) Update(ref *firestore.DocumentRef, updates []firestore.Update, preconds ...firestore.Precondition) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Update(ref, updates, preconds...)
	})
}

func (t *Tx) flush() error {
	for _, write := range t.writes {
		if err := write(t.tx); err != nil {
			return err
		}
	}
	t.writes = nil
	return nil
}

// RunInTx executes fn inside a Firestore transaction bound to the returned context.
// A call made while a transaction is already bound to ctx joins it instead of nesting.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	var fnErr error
	err = client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		handle := &Tx{tx: tx}
		if fnErr = fn(context.WithValue(ctx, txKey{}, handle)); fnErr != nil {
			return fnErr
		}
		return handle.flush()
	}, firestore.MaxAttempts(cfg.attempts))

	// errors raised by fn are domain failures and pass through untouched
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}

// SupportsTransactions probes the backend once with an empty read-only transaction.
func (p *Provider) SupportsTransactions(ctx context.Context) bool {
	client, err := p.Client(ctx)
	if err != nil {
		return false
	}
	err = client.RunTransaction(ctx, func(context.Context, *firestore.Transaction) error {
		return nil
	}, firestore.ReadOnly, firestore.MaxAttempts(1))
	return err == nil
}

// UnitOfWork adapts the provider to repositories.UnitOfWork with fixed transaction options.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds transaction options to a unit of work.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx executes fn atomically.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore: unit of work not initialised")
	}
	return u.provider.RunInTx(ctx, fn, u.opts...)
}
