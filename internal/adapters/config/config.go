package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"astra/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Polygon       PolygonConfig
	Options       OptionsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string   `envconfig:"APP_NAME" default:"astra"`
	Env      string   `envconfig:"APP_ENV" default:"development"`
	LogLevel string   `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool     `envconfig:"DEBUG" default:"false"`
	Symbols  []string `envconfig:"OPTIONS_SYMBOLS" default:"SPY"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type PolygonConfig struct {
	BaseURL        string        `envconfig:"POLYGON_BASE_URL" default:"https://api.polygon.io"`
	APIKey         string        `envconfig:"POLYGON_OPTIONS_API_KEY"`
	Timeout        time.Duration `envconfig:"POLYGON_TIMEOUT" default:"30s"`
	MaxAttempts    int           `envconfig:"POLYGON_MAX_ATTEMPTS" default:"5"`
	RequestsPerSec float64       `envconfig:"POLYGON_REQUESTS_PER_SEC" default:"5"`
}

// OptionsConfig contains every tunable of the options analytics engines:
// cache TTLs per namespace, refresh-policy intervals and thresholds,
// surface construction parameters and expected-move calibration bounds
type OptionsConfig struct {
	// Freshness cache TTLs, one per namespace
	ChainCacheTTL   time.Duration `envconfig:"OPTIONS_CACHE_TTL_CHAIN" default:"120s"`
	ATMCacheTTL     time.Duration `envconfig:"OPTIONS_CACHE_TTL_ATM" default:"120s"`
	SurfaceCacheTTL time.Duration `envconfig:"OPTIONS_CACHE_TTL_SURFACE" default:"300s"`

	// Refresh policy
	ATMRefreshInterval     time.Duration `envconfig:"ATM_REFRESH_INTERVAL" default:"120s"`
	SurfaceRefreshInterval time.Duration `envconfig:"SURFACE_REFRESH_INTERVAL" default:"300s"`
	MinUnderlyingMove      float64       `envconfig:"MIN_UNDERLYING_MOVE" default:"0.005"`

	// ATM straddle selection
	MinDTEBuffer int `envconfig:"OPTIONS_MIN_DTE_BUFFER" default:"7"`

	// Vol surface construction
	DTEBuckets     []int     `envconfig:"VOL_SURFACE_DTE_BUCKETS" default:"7,14,21,30,45,60"`
	MoneynessGrid  []float64 `envconfig:"VOL_SURFACE_MONEYNESS_GRID" default:"-0.20,-0.10,-0.05,0.0,0.05,0.10,0.20"`
	MinLiquidity   int       `envconfig:"VOL_SURFACE_MIN_LIQUIDITY" default:"100"`
	SurfaceMinDTE  int       `envconfig:"VOL_SURFACE_MIN_DTE" default:"5"`
	SurfaceMaxDTE  int       `envconfig:"VOL_SURFACE_MAX_DTE" default:"60"`
	MaxBucketDrift int       `envconfig:"VOL_SURFACE_MAX_BUCKET_DRIFT" default:"5"`

	// Expected move calibration
	WarnThreshold     float64 `envconfig:"EXPECTED_MOVE_WARN_THRESHOLD" default:"0.10"`
	SevereThreshold   float64 `envconfig:"EXPECTED_MOVE_SEVERE_THRESHOLD" default:"0.25"`
	SurfaceTolerance  float64 `envconfig:"EXPECTED_MOVE_TOL_SURFACE" default:"0.10"`
	RealizedTolerance float64 `envconfig:"EXPECTED_MOVE_TOL_REALIZED" default:"0.15"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
