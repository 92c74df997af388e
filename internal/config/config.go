package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/product"
)

// Backends.
const (
	BackendArchive = "archive"
	BackendRemote  = "remote"
)

const maxBackendAttempts = 20

// Config holds all run settings, populated from environment variables.
type Config struct {
	Product    product.Product
	WeeksFile  string
	AOIFile    string
	YearLabel  string
	OutputFile string
	Resolution float64
	Statistics []domain.Statistic

	Backend          string
	ArchiveDir       string
	ArchiveCacheSize int
	ArchiveNoData    *float64 // stored no-data marker; nil when unset
	GeoAPIURL        string
	GeoAPIToken      string

	// Retry policy for backend calls.
	BackendTimeout        time.Duration
	BackendMaxAttempts    int
	BackendBackoffInitial time.Duration
	BackendBackoffMax     time.Duration

	HTTPAddr        string
	MetricsEnabled  bool
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	prod, err := product.Lookup(sharedcfg.EnvOrDefault("PRODUCT", product.Precipitation.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid PRODUCT: %w", err)
	}

	resolution, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("RESOLUTION", "1000"), 64)
	if err != nil || !(resolution > 0) {
		return nil, errors.New("invalid RESOLUTION: must be a positive number")
	}

	stats := domain.AllStatistics()
	if v := os.Getenv("STATISTICS"); v != "" {
		stats, err = domain.ParseStatistics(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STATISTICS: %w", err)
		}
		if len(stats) == 0 {
			return nil, errors.New("invalid STATISTICS: no statistic named")
		}
	}

	cacheSize, err := parsePositiveInt("ARCHIVE_CACHE_SIZE", "64")
	if err != nil {
		return nil, err
	}
	var noData *float64
	if v := os.Getenv("ARCHIVE_NODATA"); v != "" {
		raw, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(raw) {
			return nil, errors.New("invalid ARCHIVE_NODATA: must be a number")
		}
		noData = &raw
	}
	attempts, err := parsePositiveInt("BACKEND_MAX_ATTEMPTS", "4")
	if err != nil {
		return nil, err
	}
	if attempts > maxBackendAttempts {
		return nil, fmt.Errorf("invalid BACKEND_MAX_ATTEMPTS: must be at most %d", maxBackendAttempts)
	}
	timeout, err := parseDuration("BACKEND_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	backoffInitial, err := parseDuration("BACKEND_BACKOFF_INITIAL", "500ms")
	if err != nil {
		return nil, err
	}
	backoffMax, err := parseDuration("BACKEND_BACKOFF_MAX", "10s")
	if err != nil {
		return nil, err
	}
	if backoffMax < backoffInitial {
		return nil, errors.New("BACKEND_BACKOFF_MAX must not be less than BACKEND_BACKOFF_INITIAL")
	}

	yearLabel := sharedcfg.EnvOrDefault("YEAR_LABEL", "2024")
	cfg := &Config{
		Product:    prod,
		WeeksFile:  sharedcfg.EnvOrDefault("WEEKS_FILE", "data/SE_2024.xlsx"),
		AOIFile:    sharedcfg.EnvOrDefault("AOI_FILE", "data/aoi.geojson"),
		YearLabel:  yearLabel,
		OutputFile: sharedcfg.EnvOrDefault("OUTPUT_FILE", prod.DefaultOutputFile(yearLabel)),
		Resolution: resolution,
		Statistics: stats,

		Backend:          strings.ToLower(sharedcfg.EnvOrDefault("BACKEND", BackendArchive)),
		ArchiveDir:       sharedcfg.EnvOrDefault("ARCHIVE_DIR", "data/archive"),
		ArchiveCacheSize: cacheSize,
		ArchiveNoData:    noData,
		GeoAPIURL:        os.Getenv("GEOAPI_URL"),
		GeoAPIToken:      os.Getenv("GEOAPI_TOKEN"),

		BackendTimeout:        timeout,
		BackendMaxAttempts:    attempts,
		BackendBackoffInitial: backoffInitial,
		BackendBackoffMax:     backoffMax,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		MetricsEnabled:  sharedcfg.EnvOrDefault("METRICS_ENABLED", "true") == "true",
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled: sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "epiweek-climate-stats"),
	}

	switch cfg.Backend {
	case BackendArchive:
		if cfg.ArchiveDir == "" {
			return nil, errors.New("ARCHIVE_DIR is required when BACKEND=archive")
		}
	case BackendRemote:
		if cfg.GeoAPIURL == "" {
			return nil, errors.New("GEOAPI_URL is required when BACKEND=remote")
		}
	default:
		return nil, fmt.Errorf("invalid BACKEND %q: want %s or %s", cfg.Backend, BackendArchive, BackendRemote)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parsePositiveInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
