// Package config provides configuration loading and validation for the
// SmartPlant binaries. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// Config holds all configuration values.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Sighting store
	StoreBackend   string `koanf:"store_backend"`
	DatabaseURL    string `koanf:"database_url"`
	DynamoTable    string `koanf:"dynamo_table"`
	DynamoKeyTable string `koanf:"dynamo_key_table"`
	DynamoEndpoint string `koanf:"dynamo_endpoint"`
	AWSRegion      string `koanf:"aws_region"`

	// Object storage (S3 or an S3-compatible endpoint)
	S3Bucket          string        `koanf:"s3_bucket"`
	S3Endpoint        string        `koanf:"s3_endpoint"`
	S3AccessKeyID     string        `koanf:"s3_access_key_id"`
	S3SecretAccessKey string        `koanf:"s3_secret_access_key"`
	TicketTTL         time.Duration `koanf:"ticket_ttl"`

	// Identification service
	IdentifyURL     string        `koanf:"identify_url"`
	IdentifyTimeout time.Duration `koanf:"identify_timeout"`

	// Taxonomy catalog override (YAML). Empty uses the embedded catalog.
	TaxonomyPath string `koanf:"taxonomy_path"`

	// Redis backs rate limiting, idempotency and the job queue. Empty keeps
	// rate limiting and idempotency in memory.
	RedisURL string `koanf:"redis_url"`

	// Rate limits, requests per minute
	RateLimitGlobal   int `koanf:"rate_limit_global"`
	RateLimitIdentify int `koanf:"rate_limit_identify"`
	RateLimitPresign  int `koanf:"rate_limit_presign"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSampleRate   float64 `koanf:"tracing_sample_rate"`
	TracingInsecureMode bool    `koanf:"tracing_insecure"`

	// Orphan sweep
	SweepGrace    time.Duration `koanf:"sweep_grace"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepDryRun   bool          `koanf:"sweep_dry_run"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required for the postgres store")
	ErrMissingJWTSecret    = errors.New("JWT_SECRET is required")
	ErrMissingS3Bucket     = errors.New("S3_BUCKET is required")
	ErrMissingIdentifyURL  = errors.New("IDENTIFY_URL is required")
	ErrMissingDynamoTable  = errors.New("DYNAMO_TABLE and DYNAMO_KEY_TABLE are required for the dynamodb store")
	ErrMissingS3Secret     = errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	ErrInvalidStoreBackend = errors.New("STORE_BACKEND must be memory, postgres or dynamodb")
	ErrInvalidPort         = errors.New("PORT must be a valid integer")
	ErrInvalidDuration     = errors.New("must be a valid duration")
	ErrInvalidSampleRate   = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidRateLimit    = errors.New("rate limits must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultStoreBackend      = StoreMemory
	DefaultDynamoTable       = "PlantRecords"
	DefaultDynamoKeyTable    = "PlantRecordKeys"
	DefaultAWSRegion         = "us-east-1"
	DefaultS3Bucket          = "smartplant-raw-uploads"
	DefaultTicketTTL         = 300 * time.Second
	DefaultIdentifyTimeout   = 30 * time.Second
	DefaultRateLimitGlobal   = 100
	DefaultRateLimitIdentify = 10
	DefaultRateLimitPresign  = 30
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
	DefaultSweepGrace        = 24 * time.Hour
	DefaultSweepInterval     = time.Hour
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	// Try SMARTPLANT_PORT first, then PORT
	port, err := getEnvIntOrDefaultMulti([]string{"SMARTPLANT_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	rateGlobal, err := getEnvIntOrDefault("RATE_LIMIT_GLOBAL", k.Int("rate_limit_global"), DefaultRateLimitGlobal)
	collect(err)
	rateIdentify, err := getEnvIntOrDefault("RATE_LIMIT_IDENTIFY", k.Int("rate_limit_identify"), DefaultRateLimitIdentify)
	collect(err)
	ratePresign, err := getEnvIntOrDefault("RATE_LIMIT_PRESIGN", k.Int("rate_limit_presign"), DefaultRateLimitPresign)
	collect(err)

	ticketTTL, err := getEnvDurationOrDefault("TICKET_TTL", k, "ticket_ttl", DefaultTicketTTL)
	collect(err)
	identifyTimeout, err := getEnvDurationOrDefault("IDENTIFY_TIMEOUT", k, "identify_timeout", DefaultIdentifyTimeout)
	collect(err)
	sweepGrace, err := getEnvDurationOrDefault("SWEEP_GRACE", k, "sweep_grace", DefaultSweepGrace)
	collect(err)
	sweepInterval, err := getEnvDurationOrDefault("SWEEP_INTERVAL", k, "sweep_interval", DefaultSweepInterval)
	collect(err)

	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	collect(err)

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"SMARTPLANT_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		StoreBackend:   strings.ToLower(getEnvOrDefault("STORE_BACKEND", k.String("store_backend"), DefaultStoreBackend)),
		DatabaseURL:    getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		DynamoTable:    getEnvOrDefaultMulti([]string{"DYNAMO_TABLE", "TABLE_PLANTS"}, k.String("dynamo_table"), DefaultDynamoTable),
		DynamoKeyTable: getEnvOrDefault("DYNAMO_KEY_TABLE", k.String("dynamo_key_table"), DefaultDynamoKeyTable),
		DynamoEndpoint: getEnvOrKoanf("DYNAMO_ENDPOINT", k, "dynamo_endpoint"),
		AWSRegion:      getEnvOrDefaultMulti([]string{"AWS_REGION", "REGION"}, k.String("aws_region"), DefaultAWSRegion),

		S3Bucket:          getEnvOrDefault("S3_BUCKET", k.String("s3_bucket"), DefaultS3Bucket),
		S3Endpoint:        getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3AccessKeyID:     getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey: getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		TicketTTL:         ticketTTL,

		IdentifyURL:     getEnvOrKoanf("IDENTIFY_URL", k, "identify_url"),
		IdentifyTimeout: identifyTimeout,
		TaxonomyPath:    getEnvOrKoanf("TAXONOMY_PATH", k, "taxonomy_path"),
		RedisURL:        getEnvOrKoanf("REDIS_URL", k, "redis_url"),

		RateLimitGlobal:   rateGlobal,
		RateLimitIdentify: rateIdentify,
		RateLimitPresign:  ratePresign,

		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:   sampleRate,
		TracingInsecureMode: getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),

		SweepGrace:    sweepGrace,
		SweepInterval: sweepInterval,
		SweepDryRun:   getEnvBoolOrDefault("SWEEP_DRY_RUN", k, "sweep_dry_run", false),

		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	return getEnvIntOrDefaultMulti([]string{envKey}, koanfVal, defaultVal)
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Note: a 0 from a YAML file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				if key == "PORT" || strings.HasSuffix(key, "_PORT") {
					return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
				}
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses a Go duration ("90s", "24h") from the
// environment, then the file, then falls back to defaultVal.
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = k.String(koanfKey)
	}
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultVal, fmt.Errorf("%s %w: %q", envKey, ErrInvalidDuration, raw)
	}
	return d, nil
}

// getEnvBoolOrDefault reads a boolean flag. Unrecognised env values are ignored.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvListOrKoanf reads a comma-separated env value or a YAML list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.S3Bucket == "" {
		errs = append(errs, ErrMissingS3Bucket)
	}
	if c.IdentifyURL == "" {
		errs = append(errs, ErrMissingIdentifyURL)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	case StoreDynamoDB:
		if c.DynamoTable == "" || c.DynamoKeyTable == "" {
			errs = append(errs, ErrMissingDynamoTable)
		}
	default:
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidStoreBackend, c.StoreBackend))
	}

	// Static S3 credentials are optional; without them the SDK default chain is used.
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		errs = append(errs, ErrMissingS3Secret)
	}
	if c.RateLimitGlobal <= 0 || c.RateLimitIdentify <= 0 || c.RateLimitPresign <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 strconv.Itoa(c.Port),
		"env":                  c.Env,
		"jwt_secret":           maskSecret(c.JWTSecret),
		"jwt_previous_secret":  maskSecret(c.JWTPreviousSecret),
		"store_backend":        c.StoreBackend,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"dynamo_table":         c.DynamoTable,
		"dynamo_key_table":     c.DynamoKeyTable,
		"dynamo_endpoint":      c.DynamoEndpoint,
		"aws_region":           c.AWSRegion,
		"s3_bucket":            c.S3Bucket,
		"s3_endpoint":          c.S3Endpoint,
		"s3_access_key_id":     maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key": maskSecret(c.S3SecretAccessKey),
		"ticket_ttl":           c.TicketTTL.String(),
		"identify_url":         c.IdentifyURL,
		"identify_timeout":     c.IdentifyTimeout.String(),
		"taxonomy_path":        c.TaxonomyPath,
		"redis_url":            maskDatabaseURL(c.RedisURL),
		"rate_limit_global":    strconv.Itoa(c.RateLimitGlobal),
		"rate_limit_identify":  strconv.Itoa(c.RateLimitIdentify),
		"rate_limit_presign":   strconv.Itoa(c.RateLimitPresign),
		"tracing_enabled":      strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":     c.TracingExporter,
		"tracing_endpoint":     c.TracingEndpoint,
		"tracing_sample_rate":  strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
		"sweep_grace":          c.SweepGrace.String(),
		"sweep_interval":       c.SweepInterval.String(),
		"sweep_dry_run":        strconv.FormatBool(c.SweepDryRun),
		"cors_allowed_origins": strings.Join(c.CORSAllowedOrigins, ","),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// alike.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
