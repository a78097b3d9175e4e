package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
)

// Config holds all service settings, populated from an optional .env file,
// an optional YAML provider file, and environment variables, in increasing
// order of precedence.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// InstanceID identifies this alert stream to the fetch worker and keys
	// published notifications.
	InstanceID string

	// Fetch worker. An empty FetcherURL runs the worker in-process.
	FetcherURL    string
	FetcherAddr   string
	FetchTimeout  time.Duration
	FetchRetryMax int

	// Kafka publishing of WEATHER_ALERTS_UPDATED notifications.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	Provider provider.Config

	// Fallback is used when the provider configuration names no location.
	Fallback *domain.Location
}

// fileConfig is the YAML shape read from CONFIG_FILE.
type fileConfig struct {
	provider.Config `yaml:",inline"`
	Fallback        *domain.Location `yaml:"fallback"`
}

// Load reads configuration, applying defaults where unset.
func Load() (*Config, error) {
	envFile := sharedcfg.EnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	fetchRetryMax, err := parseIntRange("FETCH_RETRY_MAX", 3, 0, 10)
	if err != nil {
		return nil, err
	}

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	pcfg, err := applyProviderEnv(file.Config)
	if err != nil {
		return nil, err
	}

	fallback, err := parseFallback(file.Fallback)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	kafkaBrokers := sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		InstanceID:      sharedcfg.EnvOrDefault("INSTANCE_ID", "weather-alerts"),

		FetcherURL:    os.Getenv("FETCHER_URL"),
		FetcherAddr:   sharedcfg.EnvOrDefault("FETCHER_ADDR", ":8081"),
		FetchTimeout:  fetchTimeout,
		FetchRetryMax: fetchRetryMax,

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "weather-alerts-updated"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		Provider: pcfg.WithDefaults(provider.Defaults),
		Fallback: fallback,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.FetcherURL != "" && !strings.HasPrefix(c.FetcherURL, "ws://") && !strings.HasPrefix(c.FetcherURL, "wss://") {
		return errors.New("invalid FETCHER_URL: must start with ws:// or wss://")
	}
	if c.InstanceID == "" {
		return errors.New("INSTANCE_ID is required")
	}
	if !strings.EqualFold(c.Provider.Type, provider.TypeAlerts) {
		return fmt.Errorf("invalid ALERT_TYPE %q: must be %q", c.Provider.Type, provider.TypeAlerts)
	}
	if (c.Provider.Lat == nil) != (c.Provider.Lon == nil) {
		return errors.New("LAT and LON must be set together")
	}
	if c.Provider.UpdateInterval <= 0 {
		return errors.New("invalid UPDATE_INTERVAL: must be positive")
	}
	if c.Provider.InitialLoadDelay < 0 {
		return errors.New("invalid INITIAL_LOAD_DELAY: must not be negative")
	}
	if c.Provider.MaxNumberOfAlerts < 0 {
		return errors.New("invalid MAX_NUMBER_OF_ALERTS: must not be negative")
	}
	return nil
}

// loadFile reads the YAML provider file. An empty path yields an empty config.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	return fc, nil
}

// applyProviderEnv overlays provider environment variables on cfg.
func applyProviderEnv(cfg provider.Config) (provider.Config, error) {
	setString(&cfg.Provider, "PROVIDER")
	setString(&cfg.Type, "ALERT_TYPE")
	setString(&cfg.Location, "LOCATION")
	setString(&cfg.LocationID, "LOCATION_ID")
	setString(&cfg.APIKey, "API_KEY")
	setString(&cfg.Lang, "ALERT_LANG")
	setString(&cfg.Units, "UNITS")
	setString(&cfg.APIBase, "API_BASE")
	setString(&cfg.APIVersion, "API_VERSION")
	setString(&cfg.WeatherEndpoint, "WEATHER_ENDPOINT")
	setString(&cfg.MockData, "MOCK_DATA")
	cfg.Provider = strings.ToLower(cfg.Provider)

	var err error
	if cfg.Lat, err = parseFloatEnv("LAT", cfg.Lat); err != nil {
		return cfg, err
	}
	if cfg.Lon, err = parseFloatEnv("LON", cfg.Lon); err != nil {
		return cfg, err
	}
	if cfg.UpdateInterval, err = parseInterval("UPDATE_INTERVAL", cfg.UpdateInterval); err != nil {
		return cfg, err
	}
	// Zero would be replaced by the provider default, so reject it here.
	if os.Getenv("UPDATE_INTERVAL") != "" && cfg.UpdateInterval <= 0 {
		return cfg, errors.New("invalid UPDATE_INTERVAL: must be positive")
	}
	if cfg.InitialLoadDelay, err = parseInterval("INITIAL_LOAD_DELAY", cfg.InitialLoadDelay); err != nil {
		return cfg, err
	}
	if s := os.Getenv("MAX_NUMBER_OF_ALERTS"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, errors.New("invalid MAX_NUMBER_OF_ALERTS: must be an integer")
		}
		cfg.MaxNumberOfAlerts = n
	}
	return cfg, nil
}

// parseFallback overlays FALLBACK_LAT, FALLBACK_LON and FALLBACK_LOCATION on
// the file's fallback section. Returns nil when nothing is configured.
func parseFallback(loc *domain.Location) (*domain.Location, error) {
	var out domain.Location
	if loc != nil {
		out = *loc
	}

	lat, err := parseFloatEnv("FALLBACK_LAT", nil)
	if err != nil {
		return nil, err
	}
	lon, err := parseFloatEnv("FALLBACK_LON", nil)
	if err != nil {
		return nil, err
	}
	if (lat == nil) != (lon == nil) {
		return nil, errors.New("FALLBACK_LAT and FALLBACK_LON must be set together")
	}
	if lat != nil {
		out.Geo = &domain.Geo{Lat: *lat, Lon: *lon}
	}
	setString(&out.Name, "FALLBACK_LOCATION")

	if out.IsZero() {
		return nil, nil
	}
	return &out, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseFloatEnv(key string, current *float64) (*float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return current, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: must be a number", key)
	}
	return &v, nil
}

// parseInterval accepts integer milliseconds ("600000") or a Go duration
// ("10m").
func parseInterval(key string, current time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return current, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be milliseconds or a duration", key)
	}
	return d, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
