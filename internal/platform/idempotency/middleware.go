package idempotency

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sqaleshop/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger receives persistence failures that cannot be reported to the client.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

var defaultMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

type guard struct {
	store    Store
	next     http.Handler
	header   string
	ttl      time.Duration
	methods  map[string]bool
	optional bool
	maxBody  int64
	clock    clockFunc
	logger   Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*guard)

// WithHeader names the request header carrying the client key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL is how long a completed response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods (POST, PUT, PATCH and DELETE by default).
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]bool, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithOptionalKey serves requests without a key unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

// WithMaxBodyBytes rejects guarded requests whose body exceeds n; the body is
// buffered in memory to fingerprint it.
func WithMaxBodyBytes(n int64) MiddlewareOption {
	return func(g *guard) {
		if n > 0 {
			g.maxBody = n
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware replays the stored response for a repeated key and refuses concurrent
// or mismatched reuse. A nil store disables it.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	base := guard{store: store, header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	WithMethods(defaultMethods...)(&base)
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return func(next http.Handler) http.Handler {
		g := base
		g.next = next
		return &g
	}
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.methods[r.Method] {
		g.next.ServeHTTP(w, r)
		return
	}
	clientKey := strings.TrimSpace(r.Header.Get(g.header))
	if clientKey == "" {
		if g.optional {
			g.next.ServeHTTP(w, r)
			return
		}
		fail(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
		return
	}

	req, err := describe(r, clientKey, g.maxBody)
	switch {
	case errors.Is(err, errBodyTooLarge):
		fail(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	case err != nil:
		fail(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	reservation, err := g.store.Reserve(r.Context(), req.key, req.fingerprint, g.clock().UTC(), g.ttl)
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			fail(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
			return
		}
		g.logf("idempotency: reserve %s: %v", clientKey, err)
		fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		fail(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	rec := newCapture(w)
	g.next.ServeHTTP(rec, r)
	resp := rec.response()

	// 5xx responses release the key so the client can retry with it
	if resp.Status >= http.StatusInternalServerError {
		g.release(r, req, clientKey)
		g.flush(rec, clientKey)
		return
	}
	if err := g.store.SaveResponse(r.Context(), req.key, req.fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: save response %s (%s): %v", clientKey, req.requester, err)
		g.release(r, req, clientKey)
		fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(rec, clientKey)
}

func (g *guard) release(r *http.Request, req request, clientKey string) {
	if err := g.store.Release(r.Context(), req.key, req.fingerprint); err != nil {
		g.logf("idempotency: release %s: %v", clientKey, err)
	}
}

func (g *guard) flush(c *capture, clientKey string) {
	if err := c.commit(); err != nil {
		g.logf("idempotency: write response %s: %v", clientKey, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	clear(header)
	for name, values := range record.Header() {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
