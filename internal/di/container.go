package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sqaleshop/api/internal/handlers"
	"github.com/sqaleshop/api/internal/notifications"
	"github.com/sqaleshop/api/internal/payments"
	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/config"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/platform/idempotency"
	"github.com/sqaleshop/api/internal/platform/jobs"
	"github.com/sqaleshop/api/internal/platform/observability"
	"github.com/sqaleshop/api/internal/platform/storage"
	"github.com/sqaleshop/api/internal/repositories"
	"github.com/sqaleshop/api/internal/services"
)

const (
	janitorTimeout = 2 * time.Minute
	healthCacheTTL = 2 * time.Second
	// room for the order fields sent next to a proof file
	multipartAllowance = 1 << 20
)

// Infrastructure carries the clients opened by main. Nil clients switch off the
// features that need them, which lets tests build a container from fakes.
type Infrastructure struct {
	Logger    *zap.Logger
	Build     services.BuildInfo
	Verifier  auth.TokenVerifier
	Firestore *pfirestore.Provider
	Storage   *cloudstorage.Client
	PubSub    *pubsub.Client
	Redis     *redis.Client
	// Probes are extra readiness checks, e.g. Secret Manager.
	Probes []repositories.DependencyCheck
	Clock  func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Bookings services.BookingService
	Stores   services.StoreResolver
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Router       http.Handler
	Janitor      *idempotency.Janitor

	logger  *zap.Logger
	cron    *cron.Cron
	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies over reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	c := &Container{
		Config:       cfg,
		Repositories: reg,
		logger:       infra.Logger,
	}
	fail := func(err error) (*Container, error) {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.closeResources(closeCtx)
		return nil, err
	}

	svc, err := c.buildServices(ctx, cfg, reg, infra)
	if err != nil {
		return fail(err)
	}
	c.Services = svc

	router, err := c.buildRouter(ctx, cfg, infra)
	if err != nil {
		return fail(err)
	}
	c.Router = router
	return c, nil
}

// Start launches background jobs.
func (c *Container) Start() {
	if c != nil && c.cron != nil {
		c.cron.Start()
	}
}

// Close stops background jobs and releases clients opened by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cron != nil {
		stopped := c.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	err := c.closeResources(ctx)
	if c.Repositories != nil {
		err = errors.Join(err, c.Repositories.Close(ctx))
	}
	return err
}

func (c *Container) closeResources(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	logEvent := observability.EventLogger(infra.Logger.Named("services"))

	transactional := useTransactions(ctx, cfg.Orders.Transactions, reg)
	infra.Logger.Info("order builders configured", zap.Bool("transactional", transactional))
	builderUnit, serviceUnit := unitsOfWork(reg, transactional)
	retry := services.RetryPolicy{
		Attempts:    cfg.Orders.TxAttempts,
		BackoffBase: cfg.Orders.BackoffBase,
		BackoffCap:  cfg.Orders.BackoffCap,
		TxTimeout:   cfg.Orders.TxTimeout,
	}

	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Products: reg.Products(),
		Logger:   logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	customers, err := services.NewCustomerResolver(services.CustomerResolverDeps{
		Customers: reg.Customers(),
		Clock:     infra.Clock,
		Logger:    logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer resolver: %w", err)
	}
	pricing := services.NewPricingReconciler(logEvent)

	orderBuilder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		Ledger:        ledger,
		Customers:     customers,
		Pricing:       pricing,
		Orders:        reg.Orders(),
		Counters:      reg.Counters(),
		UnitOfWork:    builderUnit,
		Transactional: transactional,
		Retry:         retry,
		Clock:         infra.Clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order builder: %w", err)
	}
	bookingBuilder, err := services.NewBookingBuilder(services.BookingBuilderDeps{
		Slots:         reg.Slots(),
		Customers:     customers,
		Pricing:       pricing,
		Bookings:      reg.Bookings(),
		Counters:      reg.Counters(),
		UnitOfWork:    builderUnit,
		Transactional: transactional,
		Retry:         retry,
		Clock:         infra.Clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking builder: %w", err)
	}

	events, err := c.buildEventPublisher(cfg.Events, infra)
	if err != nil {
		return Services{}, err
	}
	gateway, err := buildPaymentGateway(cfg.PSP, infra)
	if err != nil {
		return Services{}, err
	}

	// the dispatcher renders invoice links through the order service built below
	var orders services.OrderService
	dispatcher, err := c.buildDispatcher(cfg.Notifications, infra, func(order services.Order) string {
		if orders == nil {
			return ""
		}
		return orders.InvoiceURL(order)
	})
	if err != nil {
		return Services{}, err
	}

	orders, err = services.NewOrderService(services.OrderServiceDeps{
		Builder:        orderBuilder,
		Orders:         reg.Orders(),
		Stores:         reg.Stores(),
		Ledger:         ledger,
		UnitOfWork:     serviceUnit,
		Payments:       gateway,
		Notifications:  dispatcher,
		Events:         events,
		InvoiceBaseURL: cfg.Orders.InvoiceBaseURL,
		NotifyTimeout:  cfg.Orders.NotifyTimeout,
		Clock:          infra.Clock,
		Logger:         logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	svc.Bookings, err = services.NewBookingService(services.BookingServiceDeps{
		Builder:       bookingBuilder,
		Bookings:      reg.Bookings(),
		Stores:        reg.Stores(),
		UnitOfWork:    serviceUnit,
		Payments:      gateway,
		Notifications: dispatcher,
		Events:        events,
		NotifyTimeout: cfg.Orders.NotifyTimeout,
		Clock:         infra.Clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}

	svc.Stores, err = services.NewStoreResolver(reg.Stores())
	if err != nil {
		return Services{}, fmt.Errorf("build store resolver: %w", err)
	}

	health := reg.Health()
	if health == nil {
		health, err = buildHealthRepository(infra)
		if err != nil {
			infra.Logger.Warn("health: readiness probes disabled", zap.Error(err))
		}
	}
	if health != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            infra.Clock,
			Build:            infra.Build,
			Capabilities:     capabilities(cfg, transactional, gateway != nil),
			CacheTTL:         healthCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}
	return svc, nil
}

// capabilities summarises the optional integrations for /readyz.
func capabilities(cfg config.Config, transactional, hasPSP bool) map[string]string {
	onOff := map[bool]string{true: "on", false: "off"}
	caps := map[string]string{
		"transactions": onOff[transactional],
		"events":       cfg.Events.Backend,
		"payments":     "none",
		"idempotency":  cfg.Idempotency.Backend,
	}
	if caps["events"] == "" {
		caps["events"] = config.EventsBackendNone
	}
	if hasPSP {
		caps["payments"] = "stripe"
	}
	var channels []string
	if strings.TrimSpace(cfg.Notifications.EmailTopic) != "" {
		channels = append(channels, "email")
	}
	if cfg.Notifications.TwilioAccountSID != "" && cfg.Notifications.TwilioAuthToken != "" {
		channels = append(channels, "sms")
	}
	caps["notifications"] = "none"
	if len(channels) > 0 {
		caps["notifications"] = strings.Join(channels, ",")
	}
	return caps
}

// unitsOfWork returns nil units when transactions are off, so services write directly.
// Builder transactions run a single attempt; the builder's retrier does the retrying.
func unitsOfWork(reg repositories.Registry, transactional bool) (builder, service repositories.UnitOfWork) {
	if !transactional {
		return nil, nil
	}
	scoped, ok := reg.(interface {
		UnitOfWork(opts ...pfirestore.TxOption) repositories.UnitOfWork
	})
	if !ok {
		return reg, reg
	}
	return scoped.UnitOfWork(pfirestore.WithTxAttempts(1)), reg
}

// useTransactions resolves the configured mode; auto probes the backend once.
func useTransactions(ctx context.Context, mode string, reg repositories.Registry) bool {
	switch mode {
	case config.TransactionsOn:
		return true
	case config.TransactionsOff:
		return false
	}
	prober, ok := reg.(interface {
		SupportsTransactions(ctx context.Context) bool
	})
	return ok && prober.SupportsTransactions(ctx)
}

func (c *Container) buildEventPublisher(cfg config.EventsConfig, infra Infrastructure) (services.EventPublisher, error) {
	switch cfg.Backend {
	case config.EventsBackendPubSub:
		if infra.PubSub == nil {
			return nil, errors.New("events: pubsub client is required")
		}
		topic := infra.PubSub.Topic(cfg.PubSubTopic)
		publisher, err := jobs.NewPubSubEventPublisher(topic)
		if err != nil {
			return nil, fmt.Errorf("build pubsub event publisher: %w", err)
		}
		c.onClose(func(context.Context) error {
			topic.Stop()
			return nil
		})
		return publisher, nil
	case config.EventsBackendKafka:
		publisher, err := jobs.NewKafkaEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("build kafka event publisher: %w", err)
		}
		c.onClose(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, nil
	}
}

// buildPaymentGateway returns nil when no PSP is configured; provider refunds then fail with ErrPaymentProvider.
func buildPaymentGateway(cfg config.PSPConfig, infra Infrastructure) (services.PaymentGateway, error) {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		infra.Logger.Warn("payments: stripe api key not configured; card refunds are disabled")
		return nil, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.StripeAPIKey,
		AccountID: cfg.StripeAccountID,
		Logger:    observability.EventLogger(infra.Logger.Named("payments")),
		Clock:     infra.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildDispatcher(cfg config.NotificationsConfig, infra Infrastructure, invoiceURL func(services.Order) string) (services.NotificationDispatcher, error) {
	deps := notifications.Deps{
		FromNumber:   cfg.TwilioFromNumber,
		WhatsAppFrom: cfg.WhatsAppFrom,
		InvoiceURL:   invoiceURL,
		Clock:        infra.Clock,
		Logger:       observability.EventLogger(infra.Logger.Named("notifications")),
	}
	if topicName := strings.TrimSpace(cfg.EmailTopic); topicName != "" {
		if infra.PubSub == nil {
			return nil, errors.New("notifications: pubsub client is required for the email topic")
		}
		topic := infra.PubSub.Topic(topicName)
		emails, err := jobs.NewPubSubEmailPublisher(topic)
		if err != nil {
			return nil, fmt.Errorf("build email publisher: %w", err)
		}
		c.onClose(func(context.Context) error {
			topic.Stop()
			return nil
		})
		deps.Emails = emails
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		deps.Messages = notifications.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	}
	if deps.Emails == nil && deps.Messages == nil {
		infra.Logger.Warn("notifications: no channel configured; notifications are skipped")
		return nil, nil
	}
	dispatcher, err := notifications.NewDispatcher(deps)
	if err != nil {
		return nil, fmt.Errorf("build notification dispatcher: %w", err)
	}
	return dispatcher, nil
}

func buildHealthRepository(infra Infrastructure) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2+len(infra.Probes))
	if infra.Firestore != nil {
		provider := infra.Firestore
		checks = append(checks, repositories.DependencyCheck{
			Name:  "firestore",
			Check: provider.Ping,
		})
	}
	if infra.Redis != nil {
		client := infra.Redis
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}
	checks = append(checks, infra.Probes...)
	return repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(infra.Clock))
}

func (c *Container) buildRouter(ctx context.Context, cfg config.Config, infra Infrastructure) (http.Handler, error) {
	httpLogger := infra.Logger.Named("http")
	authLogger := observability.NewPrintfAdapter(infra.Logger.Named("auth"))
	authenticator := auth.NewAuthenticator(infra.Verifier)

	store, err := buildIdempotencyStore(ctx, cfg, infra)
	if err != nil {
		return nil, err
	}
	idemLogger := observability.NewPrintfAdapter(infra.Logger.Named("idempotency"))
	idem := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithOptionalKey(),
		idempotency.WithMaxBodyBytes(cfg.Storage.ProofMaxBytes+multipartAllowance),
		idempotency.WithLogger(idemLogger),
	)
	janitor, err := idempotency.NewJanitor(store, cfg.Idempotency.CleanupBatchSize, idemLogger)
	if err != nil {
		return nil, err
	}
	c.Janitor = janitor
	if cfg.Idempotency.Backend != config.IdempotencyBackendRedis && cfg.Idempotency.CleanupSchedule != "" {
		c.cron = cron.New()
		if _, err := janitor.Schedule(c.cron, cfg.Idempotency.CleanupSchedule, janitorTimeout); err != nil {
			return nil, fmt.Errorf("schedule idempotency cleanup: %w", err)
		}
	}

	// one limiter shared by both public submission routes
	limit := handlers.RateLimit(cfg.Server.PublicRateLimit, cfg.Server.PublicRateWindow, infra.Clock)

	orderOpts := []handlers.OrderOption{handlers.WithOrderCreateMiddlewares(limit, idem)}
	bookingOpts := []handlers.BookingOption{handlers.WithBookingCreateMiddlewares(limit, idem)}
	if infra.Storage != nil && cfg.Storage.MediaBucket != "" {
		bucket, err := storage.NewGCSBucket(infra.Storage, cfg.Storage.MediaBucket)
		if err != nil {
			return nil, fmt.Errorf("build media bucket: %w", err)
		}
		uploader, err := storage.NewMediaUploader(bucket, cfg.Storage.PublicBaseURL, cfg.Storage.ProofMaxBytes)
		if err != nil {
			return nil, fmt.Errorf("build media uploader: %w", err)
		}
		orderOpts = append(orderOpts, handlers.WithOrderProofUploader(uploader))
		bookingOpts = append(bookingOpts, handlers.WithBookingProofUploader(uploader))
	} else {
		infra.Logger.Warn("storage: media bucket not configured; payment proof uploads are disabled")
	}

	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if infra.Redis != nil {
		shared, err := auth.NewRedisNonceStore(infra.Redis)
		if err != nil {
			return nil, err
		}
		nonces = shared
	}
	hmacCfg := cfg.Security.HMAC
	hmacValidator := auth.NewHMACValidator(auth.StaticSecrets(hmacCfg.Secrets), nonces,
		auth.WithHMACLogger(authLogger),
		auth.WithHMACHeaders(hmacCfg.SignatureHeader, hmacCfg.TimestampHeader, hmacCfg.NonceHeader),
		auth.WithHMACClockSkew(hmacCfg.ClockSkew),
		auth.WithHMACNonceTTL(hmacCfg.NonceTTL),
	)

	oidcCfg := cfg.Security.OIDC
	if oidcCfg.Audience == "" {
		infra.Logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	jwks := auth.NewJWKSCache(oidcCfg.JWKSURL, auth.WithJWKSLogger(authLogger))
	oidc := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(authLogger))

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(infra.Build)}
	if c.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(c.Services.System))
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, c.Services.Orders, c.Services.Stores, orderOpts...)
	bookingHandlers := handlers.NewBookingHandlers(authenticator, c.Services.Bookings, c.Services.Stores, bookingOpts...)
	invoiceHandlers := handlers.NewInvoiceHandlers(c.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(hmacValidator, c.Services.Orders, c.Services.Bookings)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(janitor)

	return handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(
			observability.Trace(traceProjectID(cfg)),
			observability.RequestLogger(httpLogger),
			observability.Recoverer(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithPublicRoutes(invoiceHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithBookingRoutes(bookingHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
		handlers.WithInternalMiddlewares(oidc.RequireOIDC(oidcCfg.Audience, oidcCfg.Issuers)),
	), nil
}

func buildIdempotencyStore(ctx context.Context, cfg config.Config, infra Infrastructure) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendMemory:
		return idempotency.NewMemoryStore(), nil
	case config.IdempotencyBackendRedis:
		if infra.Redis == nil {
			return nil, errors.New("idempotency: redis client is required")
		}
		return idempotency.NewRedisStore(infra.Redis)
	default:
		if infra.Firestore == nil {
			return nil, errors.New("idempotency: firestore provider is required")
		}
		client, err := infra.Firestore.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("idempotency: %w", err)
		}
		return idempotency.NewFirestoreStore(client), nil
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
