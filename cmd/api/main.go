package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sqaleshop/api/internal/di"
	"github.com/sqaleshop/api/internal/platform/auth"
	"github.com/sqaleshop/api/internal/platform/config"
	pfirestore "github.com/sqaleshop/api/internal/platform/firestore"
	"github.com/sqaleshop/api/internal/platform/observability"
	"github.com/sqaleshop/api/internal/platform/secrets"
	"github.com/sqaleshop/api/internal/repositories"
	firestoreRepo "github.com/sqaleshop/api/internal/repositories/firestore"
	"github.com/sqaleshop/api/internal/services"
)

const (
	shutdownTimeout       = 15 * time.Second
	secretHealthReference = "secret://system-healthz"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, nil,
		pfirestore.WithTxAttempts(cfg.Orders.TxAttempts),
		pfirestore.WithTxTimeout(cfg.Orders.TxTimeout),
	)
	if err != nil {
		return fmt.Errorf("initialise repositories: %w", err)
	}

	infra := di.Infrastructure{
		Logger:    logger,
		Build:     buildInfoFromEnv(envValues, cfg, startedAt),
		Firestore: firestoreProvider,
		Probes:    []repositories.DependencyCheck{secretManagerProbe(fetcher)},
	}

	infra.Verifier, err = auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}

	if cfg.Storage.MediaBucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			return fmt.Errorf("initialise storage client: %w", err)
		}
		defer closeQuietly(logger, "storage", storageClient.Close)
		infra.Storage = storageClient
	}

	if cfg.Events.Backend == config.EventsBackendPubSub || cfg.Notifications.EmailTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID, clientOpts...)
		if err != nil {
			return fmt.Errorf("initialise pubsub client: %w", err)
		}
		defer closeQuietly(logger, "pubsub", pubsubClient.Close)
		infra.PubSub = pubsubClient
	}

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer closeQuietly(logger, "redis", redisClient.Close)
		infra.Redis = redisClient
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	container.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("api listening",
			zap.String("version", infra.Build.Version),
			zap.String("environment", infra.Build.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			serverLogger.Error("http server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	return nil
}

func closeQuietly(logger *zap.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close error", zap.String("client", name), zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// secretManagerProbe treats a missing probe secret as healthy; only transport failures count.
func secretManagerProbe(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			if st, ok := status.FromError(errors.Unwrap(err)); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value. Optional
// integrations only become required once their variable is set.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	optional := map[string]string{
		"API_PSP_STRIPE_API_KEY":              "PSP.StripeAPIKey",
		"API_NOTIFICATIONS_TWILIO_AUTH_TOKEN": "Notifications.TwilioAuthToken",
		"API_REDIS_PASSWORD":                  "Redis.Password",
	}
	for key, name := range optional {
		if strings.TrimSpace(env[key]) != "" {
			required = append(required, name)
		}
	}
	for _, key := range hmacSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	sort.Strings(required)
	return required
}

func hmacSecretKeys(raw string) []string {
	var keys []string
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" || strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, name)
	}
	return keys
}
