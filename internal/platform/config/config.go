package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultPlatformFeePercent  = 5.0
	defaultReservationTTL      = 30 * time.Minute
	defaultSweepInterval       = 10 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultAdapterTimeout      = 30 * time.Second
	defaultAdapterRetries      = 3
	defaultEventTopic          = "repshare-order-events"
	defaultUnleashedBaseURL    = "https://api.unleashedsoftware.com"
	defaultALMConnectBaseURL   = "https://api.almconnect.com.au/v1"
	defaultGeoOpBaseURL        = "https://api.geoop.com/v3"
	defaultIdempotencyInterval = time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Events      EventsConfig
	Platform    PlatformConfig
	Idempotency IdempotencyConfig
	Unleashed   UnleashedConfig
	ALMConnect  ALMConnectConfig
	GeoOp       GeoOpConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// EventsConfig configures the Pub/Sub domain event topic.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// PlatformConfig holds marketplace-wide commercial settings.
type PlatformConfig struct {
	DefaultFeePercent float64
	ReservationTTL    time.Duration
	SweepInterval     time.Duration
}

// IdempotencyConfig controls replay protection on mutating order routes.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// UnleashedConfig holds inventory-of-record adapter credentials.
type UnleashedConfig struct {
	BaseURL string
	APIID   string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// ALMConnectConfig holds wholesale routing adapter credentials.
type ALMConnectConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	AccountID string
	Timeout   time.Duration
	Retries   int
}

// GeoOpConfig holds field-job adapter credentials.
type GeoOpConfig struct {
	BaseURL string
	Token   string
}

// Option customises configuration loading.
type Option func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the .env file consulted for missing variables.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithLookup overrides the environment lookup, used by tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) { l.lookup = lookup }
}

// Load reads configuration from the environment, falling back to an optional
// .env file for unset variables.
func Load(opts ...Option) (Config, error) {
	l := loader{envFile: defaultEnvFile, lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&l)
		}
	}

	fileVals, err := readEnvFile(l.envFile)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string {
		if v, ok := l.lookup(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileVals[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         firstNonEmpty(get("PORT"), defaultPort),
			ReadTimeout:  durationOr(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Events: EventsConfig{
			ProjectID: firstNonEmpty(get("PUBSUB_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			Topic:     firstNonEmpty(get("PUBSUB_ORDER_EVENTS_TOPIC"), defaultEventTopic),
		},
		Platform: PlatformConfig{
			DefaultFeePercent: floatOr(get("PLATFORM_DEFAULT_FEE_PERCENT"), defaultPlatformFeePercent),
			ReservationTTL:    durationOr(get("STOCK_RESERVATION_TTL"), defaultReservationTTL),
			SweepInterval:     durationOr(get("STOCK_RESERVATION_SWEEP_INTERVAL"), defaultSweepInterval),
		},
		Idempotency: IdempotencyConfig{
			Header:          firstNonEmpty(get("IDEMPOTENCY_HEADER"), defaultIdempotencyHeader),
			TTL:             durationOr(get("IDEMPOTENCY_TTL"), defaultIdempotencyTTL),
			CleanupInterval: durationOr(get("IDEMPOTENCY_CLEANUP_INTERVAL"), defaultIdempotencyInterval),
		},
		Unleashed: UnleashedConfig{
			BaseURL: firstNonEmpty(get("UNLEASHED_BASE_URL"), defaultUnleashedBaseURL),
			APIID:   get("UNLEASHED_API_ID"),
			APIKey:  get("UNLEASHED_API_KEY"),
			Timeout: durationOr(get("UNLEASHED_TIMEOUT"), defaultAdapterTimeout),
			Retries: intOr(get("UNLEASHED_RETRIES"), defaultAdapterRetries),
		},
		ALMConnect: ALMConnectConfig{
			BaseURL:   firstNonEmpty(get("ALM_CONNECT_BASE_URL"), defaultALMConnectBaseURL),
			APIKey:    get("ALM_CONNECT_API_KEY"),
			APISecret: get("ALM_CONNECT_API_SECRET"),
			AccountID: get("ALM_CONNECT_ACCOUNT_ID"),
			Timeout:   durationOr(get("ALM_CONNECT_TIMEOUT"), defaultAdapterTimeout),
			Retries:   intOr(get("ALM_CONNECT_RETRIES"), defaultAdapterRetries),
		},
		GeoOp: GeoOpConfig{
			BaseURL: firstNonEmpty(get("GEOOP_BASE_URL"), defaultGeoOpBaseURL),
			Token:   get("GEOOP_TOKEN"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Platform.DefaultFeePercent < 0 || c.Platform.DefaultFeePercent > 100 {
		return fmt.Errorf("config: platform default fee percent must be within [0,100], got %v", c.Platform.DefaultFeePercent)
	}
	if c.Platform.ReservationTTL <= 0 {
		return fmt.Errorf("config: stock reservation ttl must be positive, got %v", c.Platform.ReservationTTL)
	}
	if c.Platform.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep interval must be positive, got %v", c.Platform.SweepInterval)
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines; missing files are not an error.
func readEnvFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func floatOr(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func intOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
