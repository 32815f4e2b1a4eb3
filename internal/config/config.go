package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig           `yaml:"store" mapstructure:"store"`
	Server      ServerConfig          `yaml:"server" mapstructure:"server"`
	Log         LogConfig             `yaml:"log" mapstructure:"log"`
	Suitability SuitabilityConfig     `yaml:"suitability" mapstructure:"suitability"`
	Isochrone   IsochroneConfig       `yaml:"isochrone" mapstructure:"isochrone"`
	Cache       CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Filters     FiltersConfig         `yaml:"filters" mapstructure:"filters"`
	Overpass    OverpassConfig        `yaml:"overpass" mapstructure:"overpass"`
	Areas       map[string]AreaConfig `yaml:"areas" mapstructure:"areas"`
}

// StoreConfig configures the database backend. Driver selects the isochrone
// cache store ("postgres" or "sqlite"); layers are always read from PostGIS.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int `yaml:"port" mapstructure:"port"`
	ListingLimit       int `yaml:"listing_limit" mapstructure:"listing_limit"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SuitabilityConfig holds the buffer distances and kernel settings of the
// site-suitability engine. Distances are ground metres.
type SuitabilityConfig struct {
	AccessDistanceM    float64 `yaml:"access_distance_m" mapstructure:"access_distance_m"`
	CorridorDistanceM  float64 `yaml:"corridor_distance_m" mapstructure:"corridor_distance_m"`
	StopDistanceM      float64 `yaml:"stop_distance_m" mapstructure:"stop_distance_m"`
	ExclusionDistanceM float64 `yaml:"exclusion_distance_m" mapstructure:"exclusion_distance_m"`
	MaxResults         int     `yaml:"max_results" mapstructure:"max_results"`
	RangeSeconds       int     `yaml:"range_seconds" mapstructure:"range_seconds"`
	Workers            int     `yaml:"workers" mapstructure:"workers"`
	Tolerance          float64 `yaml:"tolerance" mapstructure:"tolerance"`
	QuadrantSegments   int     `yaml:"quadrant_segments" mapstructure:"quadrant_segments"`
	Projection         string  `yaml:"projection" mapstructure:"projection"`
	BufferMemo         bool    `yaml:"buffer_memo" mapstructure:"buffer_memo"`
}

// IsochroneConfig configures the openrouteservice isochrone importer.
type IsochroneConfig struct {
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Profile           string `yaml:"profile" mapstructure:"profile"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchPauseMs      int    `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxAttempts       int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryAfterSecs    int    `yaml:"retry_after_secs" mapstructure:"retry_after_secs"`
}

// CacheConfig configures the suitability response cache.
type CacheConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs       int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// FiltersConfig points at an optional tag filter table file.
type FiltersConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OverpassConfig configures the Overpass API layer source.
type OverpassConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AreaConfig is a named WGS84 bounding box served by /geodb/area.
type AreaConfig struct {
	MinLng float64 `yaml:"min_lng" mapstructure:"min_lng"`
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLng float64 `yaml:"max_lng" mapstructure:"max_lng"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
}

// Load reads configuration from .env, file and environment. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, eris.Wrap(err, "config: read file")
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SHOPSITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "shopsite.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.listing_limit", 1000)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("suitability.access_distance_m", 400.0)
	v.SetDefault("suitability.corridor_distance_m", 50.0)
	v.SetDefault("suitability.stop_distance_m", 50.0)
	v.SetDefault("suitability.exclusion_distance_m", 250.0)
	v.SetDefault("suitability.max_results", 0)
	v.SetDefault("suitability.range_seconds", 300)
	v.SetDefault("suitability.workers", 4)
	v.SetDefault("suitability.tolerance", 1e-6)
	v.SetDefault("suitability.quadrant_segments", 8)
	v.SetDefault("suitability.projection", "webmercator")
	v.SetDefault("suitability.buffer_memo", true)
	v.SetDefault("isochrone.base_url", "https://api.openrouteservice.org")
	v.SetDefault("isochrone.profile", "foot-walking")
	v.SetDefault("isochrone.batch_size", 2)
	v.SetDefault("isochrone.batch_pause_ms", 2000)
	v.SetDefault("isochrone.requests_per_minute", 20)
	v.SetDefault("isochrone.max_attempts", 5)
	v.SetDefault("isochrone.retry_after_secs", 60)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 64)
	v.SetDefault("cache.ttl_secs", 600)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_secs", 60)
	v.SetDefault("areas", map[string]any{
		"szeged": map[string]any{
			"min_lng": 20.05, "min_lat": 46.20,
			"max_lng": 20.25, "max_lat": 46.30,
		},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by the given command mode: "serve",
// "area", "isochrones" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.ListingLimit <= 0 {
			errs = append(errs, "server.listing_limit must be > 0")
		}
		if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" && c.Cache.Backend != "none" {
			errs = append(errs, fmt.Sprintf("cache.backend %q must be memory, redis or none", c.Cache.Backend))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		errs = append(errs, c.validateSuitability()...)
	case "area":
		errs = append(errs, c.validateSuitability()...)
	case "isochrones":
		if c.Isochrone.APIKey == "" {
			errs = append(errs, "isochrone.api_key is required")
		}
		if c.Isochrone.BatchSize < 1 {
			errs = append(errs, "isochrone.batch_size must be >= 1")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "migrate":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSuitability() []string {
	var errs []string
	s := c.Suitability
	if s.AccessDistanceM <= 0 {
		errs = append(errs, "suitability.access_distance_m must be > 0")
	}
	if s.CorridorDistanceM <= 0 {
		errs = append(errs, "suitability.corridor_distance_m must be > 0")
	}
	if s.StopDistanceM < 0 || s.ExclusionDistanceM < 0 {
		errs = append(errs, "suitability distances must be >= 0")
	}
	if s.MaxResults < 0 {
		errs = append(errs, "suitability.max_results must be >= 0")
	}
	if s.Workers < 1 || s.Workers > 64 {
		errs = append(errs, "suitability.workers must be between 1 and 64")
	}
	if s.Tolerance <= 0 {
		errs = append(errs, "suitability.tolerance must be > 0")
	}
	if len(c.Areas) == 0 {
		errs = append(errs, "areas must define at least one area")
	}
	for _, name := range c.AreaNames() {
		a := c.Areas[name]
		if a.MinLng >= a.MaxLng || a.MinLat >= a.MaxLat {
			errs = append(errs, fmt.Sprintf("areas.%s has an empty bounding box", name))
		}
	}
	return errs
}

// AreaNames returns the configured area names in sorted order.
func (c *Config) AreaNames() []string {
	names := make([]string, 0, len(c.Areas))
	for n := range c.Areas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
