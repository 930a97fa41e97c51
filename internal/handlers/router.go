package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sqaleshop/api/internal/platform/httpx"
)

// RouteRegistrar adds a handler set's routes to its group.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// routeGroup is one mount point under /api/v1. Groups without a registrar answer 501
// so clients can tell a disabled surface from a typo.
type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option configures NewRouter.
type Option func(*routerConfig)

var groupOrder = []string{"public", "orders", "bookings", "webhooks", "internal"}

// NewRouter builds the HTTP surface: probes at the root and the route groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultRequestTimeout, groups: map[string]*routeGroup{}}
	for _, name := range groupOrder {
		cfg.groups[name] = &routeGroup{path: "/" + name}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			api.Route(group.path, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.register == nil {
					notImplemented(sub, name)
					return
				}
				group.register(sub)
			})
		}
	})
	return r
}

// WithMiddlewares runs mw on every request after the request id and real ip middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds each request's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name].register = reg
	}
}

// WithPublicRoutes mounts unauthenticated reads such as invoices.
func WithPublicRoutes(reg RouteRegistrar) Option { return withGroup("public", reg) }

func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

func WithBookingRoutes(reg RouteRegistrar) Option { return withGroup("bookings", reg) }

// WithWebhookRoutes mounts the HMAC signed PSP callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("webhooks", reg) }

// WithInternalRoutes mounts scheduler driven maintenance endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("internal", reg) }

// WithInternalMiddlewares guards the internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups["internal"]
		group.middlewares = append(group.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
			fmt.Sprintf("%s routes are not enabled", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
