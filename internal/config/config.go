package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/catalogsync/internal/refresh"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Payloads  PayloadsConfig  `mapstructure:"payloads"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the event log backend. Driver "memory" keeps the log
// in process and is meant for dry runs.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite, memory
	Path            string        `mapstructure:"path"`   // sqlite file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogSQL          bool          `mapstructure:"log_sql"`
	VisibilityLag   time.Duration `mapstructure:"visibility_lag"` // append-to-visible bound for other readers
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// PayloadsConfig selects where raw fetched payloads are kept.
type PayloadsConfig struct {
	Backend string `mapstructure:"backend"` // database, s3
	Prefix  string `mapstructure:"prefix"`  // object key prefix for s3
}

// StorageConfig configures S3-compatible object storage.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

// RemoteConfig configures the catalog API client.
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	ItemTypes      []string      `mapstructure:"item_types"`
	WithStats      bool          `mapstructure:"with_stats"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	MinRateLimit   float64       `mapstructure:"min_rate_limit"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	Jitter         time.Duration `mapstructure:"jitter"`        // random extra wait added to each backoff
	CoolOff        time.Duration `mapstructure:"cool_off"`      // pause for every worker after a 429
	RecoverEvery   int           `mapstructure:"recover_every"` // successes per step back up after throttling
	UserAgent      string        `mapstructure:"user_agent"`
}

// RefreshConfig is the file form of refresh.Policy; intervals are in days.
type RefreshConfig struct {
	BaseIntervalDays     float64       `mapstructure:"base_interval_days"`
	DecayFactor          float64       `mapstructure:"decay_factor"`
	MaxIntervalDays      float64       `mapstructure:"max_interval_days"`
	UpcomingIntervalDays float64       `mapstructure:"upcoming_interval_days"`
	UnknownIntervalDays  float64       `mapstructure:"unknown_interval_days"`
	BatchSize            int           `mapstructure:"batch_size"`
	ChunkSize            int           `mapstructure:"chunk_size"`
	AttemptCap           int           `mapstructure:"attempt_cap"`
	ClaimTTL             time.Duration `mapstructure:"claim_ttl"`
}

type IngestConfig struct {
	FetchWorkers     int           `mapstructure:"fetch_workers"`
	ProcessWorkers   int           `mapstructure:"process_workers"`
	ProcessBatchSize int           `mapstructure:"process_batch_size"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
}

// DiscoveryConfig configures how new item ids are found.
type DiscoveryConfig struct {
	Mode            string   `mapstructure:"mode"`              // idlist, sitemap
	IDListURL       string   `mapstructure:"id_list_url"`       // URL or path of "<id> <type>" lines
	SitemapIndexURL string   `mapstructure:"sitemap_index_url"` // sitemap mode entry point
	SitemapPattern  string   `mapstructure:"sitemap_pattern"`
	ItemPattern     string   `mapstructure:"item_pattern"` // named groups "id" and "type"
	ItemTypes       []string `mapstructure:"item_types"`
}

// Policy builds the immutable refresh policy for one run.
// Parameters: none.
// Returns:
//   - refresh.Policy: policy derived from the refresh section.
//   - error: wraps domain.ErrInvalidPolicy when the section is inconsistent.
func (c *Config) Policy() (refresh.Policy, error) {
	r := c.Refresh
	p := refresh.Policy{
		BaseInterval:     days(r.BaseIntervalDays),
		DecayFactor:      r.DecayFactor,
		MaxInterval:      days(r.MaxIntervalDays),
		UpcomingInterval: days(r.UpcomingIntervalDays),
		UnknownInterval:  days(r.UnknownIntervalDays),
		BatchSize:        r.BatchSize,
		ChunkSize:        r.ChunkSize,
		AttemptCap:       r.AttemptCap,
		ClaimTTL:         r.ClaimTTL,
	}
	if err := p.Validate(); err != nil {
		return refresh.Policy{}, err
	}
	return p, nil
}

func days(d float64) time.Duration {
	return time.Duration(d * float64(refresh.Day))
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment-specific values
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("remote.base_url", "REMOTE_BASE_URL")
	v.BindEnv("remote.token", "REMOTE_API_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	policy := refresh.DefaultPolicy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/catalog.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "catalog")
	v.SetDefault("database.dbname", "catalog")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("database.visibility_lag", 90*time.Minute)

	v.SetDefault("payloads.backend", "database")
	v.SetDefault("payloads.prefix", "payloads")

	v.SetDefault("storage.type", "s3compatible")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "catalog-payloads")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("remote.base_url", "https://boardgamegeek.com/xmlapi2")
	v.SetDefault("remote.item_types", []string{"boardgame", "boardgameexpansion"})
	v.SetDefault("remote.with_stats", true)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.rate_limit", 2.0)
	v.SetDefault("remote.min_rate_limit", 0.5)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.backoff_initial", 5*time.Second)
	v.SetDefault("remote.backoff_max", 2*time.Minute)
	v.SetDefault("remote.jitter", time.Second)
	v.SetDefault("remote.cool_off", 30*time.Second)
	v.SetDefault("remote.recover_every", 10)
	v.SetDefault("remote.user_agent", "catalogsync/1.0")

	v.SetDefault("refresh.base_interval_days", policy.BaseInterval.Hours()/24)
	v.SetDefault("refresh.decay_factor", policy.DecayFactor)
	v.SetDefault("refresh.max_interval_days", policy.MaxInterval.Hours()/24)
	v.SetDefault("refresh.upcoming_interval_days", policy.UpcomingInterval.Hours()/24)
	v.SetDefault("refresh.unknown_interval_days", policy.UnknownInterval.Hours()/24)
	v.SetDefault("refresh.batch_size", policy.BatchSize)
	v.SetDefault("refresh.chunk_size", policy.ChunkSize)
	v.SetDefault("refresh.attempt_cap", policy.AttemptCap)
	v.SetDefault("refresh.claim_ttl", policy.ClaimTTL)

	v.SetDefault("ingest.fetch_workers", 2)
	v.SetDefault("ingest.process_workers", 4)
	v.SetDefault("ingest.process_batch_size", 100)
	v.SetDefault("ingest.run_timeout", 2*time.Hour)

	v.SetDefault("discovery.mode", "idlist")
	v.SetDefault("discovery.id_list_url", "http://bgg.activityclub.org/bggdata/thingids.txt")
	v.SetDefault("discovery.sitemap_index_url", "https://boardgamegeek.com/sitemapindex")
	v.SetDefault("discovery.sitemap_pattern", `sitemap_geekitems_boardgame(expansion|accessory|)_\d+`)
	v.SetDefault("discovery.item_pattern", `/(?P<type>boardgame(?:expansion|accessory)?)/(?P<id>\d+)`)
	v.SetDefault("discovery.item_types", []string{"boardgame", "boardgameexpansion"})
}
