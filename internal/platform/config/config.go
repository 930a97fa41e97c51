package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 90 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 60 * time.Second
	defaultPublicRateLimit      = 30
	defaultPublicRateWindow     = time.Minute
	defaultPublicBaseURL        = "https://storage.googleapis.com"
	defaultProofMaxBytes        = 5 << 20
	defaultEventsBackend        = EventsBackendNone
	defaultTransactionsMode     = TransactionsAuto
	defaultTxAttempts           = 3
	defaultBackoffBase          = time.Second
	defaultBackoffCap           = 5 * time.Second
	defaultTxTimeout            = 60 * time.Second
	defaultNotifyTimeout        = 30 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultHMACSignatureHeader  = "X-Signature"
	defaultHMACTimestampHeader  = "X-Signature-Timestamp"
	defaultHMACNonceHeader      = "X-Signature-Nonce"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultIdempotencyBackend   = IdempotencyBackendFirestore
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencySchedule  = "@every 1h"
	defaultIdempotencyBatchSize = 200
)

// Event sink backends.
const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Transaction modes for the order and booking builders.
const (
	TransactionsAuto = "auto"
	TransactionsOn   = "on"
	TransactionsOff  = "off"
)

// Idempotency store backends.
const (
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	Events        EventsConfig
	Notifications NotificationsConfig
	PSP           PSPConfig
	Orders        OrdersConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Redis         RedisConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RequestTimeout cancels handler contexts; keep it below WriteTimeout.
	RequestTimeout time.Duration
	// PublicRateLimit caps public submissions per client and store within
	// PublicRateWindow. Zero disables the limiter.
	PublicRateLimit  int
	PublicRateWindow time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked costs one Auth API round trip per staff request.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig controls where payment proofs are written.
type StorageConfig struct {
	MediaBucket   string
	PublicBaseURL string
	ProofMaxBytes int64
}

// EventsConfig selects the sink for order and booking domain events.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// NotificationsConfig configures outbound customer and merchant notifications.
type NotificationsConfig struct {
	EmailTopic       string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	WhatsAppFrom     string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
	// StripeAccountID refunds on behalf of a Connect account when set.
	StripeAccountID string
}

// OrdersConfig tunes the transactional order and booking builders.
type OrdersConfig struct {
	Transactions   string
	TxAttempts     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	TxTimeout      time.Duration
	InvoiceBaseURL string
	NotifyTimeout  time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig captures webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupSchedule  string
	CleanupBatchSize int
}

// RedisConfig points at the optional Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory
// (e.g. "PSP.StripeAPIKey" or "Security.HMAC.Secrets[payments]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// EnvironmentValues returns the effective environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envLookup(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	})

	cfg := Config{
		Server: ServerConfig{
			Port:           env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:    env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: env.duration("API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),

			PublicRateLimit:  env.integer("API_SERVER_PUBLIC_RATE_LIMIT", defaultPublicRateLimit),
			PublicRateWindow: env.duration("API_SERVER_PUBLIC_RATE_WINDOW", defaultPublicRateWindow),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    env.boolean("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			MediaBucket:   env.str("API_STORAGE_MEDIA_BUCKET", ""),
			PublicBaseURL: strings.TrimRight(env.str("API_STORAGE_PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
			ProofMaxBytes: int64(env.integer("API_STORAGE_PAYMENT_PROOF_MAX_BYTES", defaultProofMaxBytes)),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(env.str("API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubTopic:  env.str("API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: env.csv("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   env.str("API_EVENTS_KAFKA_TOPIC", ""),
		},
		Notifications: NotificationsConfig{
			EmailTopic:       env.str("API_NOTIFICATIONS_EMAIL_TOPIC", ""),
			TwilioAccountSID: env.str("API_NOTIFICATIONS_TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  env.str("API_NOTIFICATIONS_TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber: env.str("API_NOTIFICATIONS_TWILIO_FROM", ""),
			WhatsAppFrom:     env.str("API_NOTIFICATIONS_WHATSAPP_FROM", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:    env.str("API_PSP_STRIPE_API_KEY", ""),
			StripeAccountID: env.str("API_PSP_STRIPE_ACCOUNT_ID", ""),
		},
		Orders: OrdersConfig{
			Transactions:   strings.ToLower(env.str("API_ORDERS_TRANSACTIONS", defaultTransactionsMode)),
			TxAttempts:     env.integer("API_ORDERS_TX_ATTEMPTS", defaultTxAttempts),
			BackoffBase:    env.duration("API_ORDERS_BACKOFF_BASE", defaultBackoffBase),
			BackoffCap:     env.duration("API_ORDERS_BACKOFF_CAP", defaultBackoffCap),
			TxTimeout:      env.duration("API_ORDERS_TX_TIMEOUT", defaultTxTimeout),
			InvoiceBaseURL: strings.TrimRight(env.str("API_ORDERS_INVOICE_BASE_URL", ""), "/"),
			NotifyTimeout:  env.duration("API_ORDERS_NOTIFY_TIMEOUT", defaultNotifyTimeout),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.keyValues("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.csv("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         env.keyValues("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: env.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: env.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     env.str("API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       env.duration("API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        env.duration("API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(env.str("API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupSchedule:  env.str("API_IDEMPOTENCY_CLEANUP_SCHEDULE", defaultIdempotencySchedule),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Redis: RedisConfig{
			Addr:     env.str("API_REDIS_ADDR", ""),
			Password: env.str("API_REDIS_PASSWORD", ""),
			DB:       env.integer("API_REDIS_DB", 0),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	resolver := options.secret
	for key, value := range cfg.Security.HMAC.Secrets {
		secret, err := resolveSecret(ctx, value, resolver)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = secret
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = strings.TrimSpace(secret)
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Notifications.TwilioAuthToken", &cfg.Notifications.TwilioAuthToken},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		secret, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = secret
		resolved[target.name] = strings.TrimSpace(secret)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Server.RequestTimeout <= 0 || (cfg.Server.WriteTimeout > 0 && cfg.Server.RequestTimeout > cfg.Server.WriteTimeout) {
		invalid = append(invalid, "Server.RequestTimeout")
	}
	if cfg.Server.PublicRateLimit < 0 || (cfg.Server.PublicRateLimit > 0 && cfg.Server.PublicRateWindow <= 0) {
		invalid = append(invalid, "Server.PublicRateWindow")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}
	if cfg.Storage.MediaBucket == "" {
		invalid = append(invalid, "Storage.MediaBucket")
	}
	if cfg.Storage.ProofMaxBytes <= 0 {
		invalid = append(invalid, "Storage.ProofMaxBytes")
	}
	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		if cfg.Events.PubSubTopic == "" {
			invalid = append(invalid, "Events.PubSubTopic")
		}
	case EventsBackendKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			invalid = append(invalid, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			invalid = append(invalid, "Events.KafkaTopic")
		}
	default:
		invalid = append(invalid, "Events.Backend")
	}
	switch cfg.Orders.Transactions {
	case TransactionsAuto, TransactionsOn, TransactionsOff:
	default:
		invalid = append(invalid, "Orders.Transactions")
	}
	if cfg.Orders.TxAttempts <= 0 {
		invalid = append(invalid, "Orders.TxAttempts")
	}
	if cfg.Orders.BackoffBase <= 0 || cfg.Orders.BackoffCap < cfg.Orders.BackoffBase {
		invalid = append(invalid, "Orders.BackoffCap")
	}
	if cfg.Orders.TxTimeout <= 0 {
		invalid = append(invalid, "Orders.TxTimeout")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendFirestore, IdempotencyBackendMemory:
	case IdempotencyBackendRedis:
		if cfg.Redis.Addr == "" {
			invalid = append(invalid, "Redis.Addr")
		}
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
