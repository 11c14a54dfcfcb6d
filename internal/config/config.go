package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/mpcrawl/internal/domain"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Fingerprint   FingerprintConfig   `mapstructure:"fingerprint"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Progress      ProgressConfig      `mapstructure:"progress"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
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

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
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
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN builds the driver specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// CrawlerConfig holds platform access settings and default task options.
type CrawlerConfig struct {
	Platform              string        `mapstructure:"platform"`
	BaseURL               string        `mapstructure:"base_url"`
	Token                 string        `mapstructure:"token"`
	Cookie                string        `mapstructure:"cookie"`
	UserAgent             string        `mapstructure:"user_agent"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	PageSize              int           `mapstructure:"page_size"`
	DefaultAccount        string        `mapstructure:"default_account"`
	CrawlDelay            time.Duration `mapstructure:"crawl_delay"`
	MaxRetries            int           `mapstructure:"max_retries"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MaxPages              int           `mapstructure:"max_pages"`
	FingerprintPolicy     string        `mapstructure:"fingerprint_policy"`
	UpdateOnDuplicate     bool          `mapstructure:"update_on_duplicate"`
}

// TaskOptions converts the configured defaults into task options.
func (c *CrawlerConfig) TaskOptions() domain.TaskOptions {
	return domain.TaskOptions{
		CrawlDelay:            c.CrawlDelay,
		MaxRetries:            c.MaxRetries,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		MaxPages:              c.MaxPages,
		FingerprintPolicy:     domain.FingerprintPolicy(c.FingerprintPolicy),
		UpdateOnDuplicate:     c.UpdateOnDuplicate,
	}
}

type FingerprintConfig struct {
	Backend   string `mapstructure:"backend"` // memory, redis or database
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
	Analyzer  string   `mapstructure:"analyzer"`
}

// StorageConfig configures the S3-compatible raw page archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type ProgressConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type SchedulerConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Spec     string   `mapstructure:"spec"`
	Accounts []string `mapstructure:"accounts"`
}

// Load reads configuration from file, .env and environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working dir.
//
// Returns:
//   - *Config: validated configuration.
//   - error: read, decode or validation failure (*domain.ConfigError for the latter).
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
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets usually come from the environment under their conventional names.
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "PGPASSWORD")
	_ = v.BindEnv("crawler.token", "WECHAT_TOKEN")
	_ = v.BindEnv("crawler.cookie", "WECHAT_COOKIE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("elasticsearch.username", "ES_USERNAME")
	_ = v.BindEnv("elasticsearch.password", "ES_PASSWORD")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mpcrawl.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "mpcrawl")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("crawler.platform", "wechat")
	v.SetDefault("crawler.base_url", "https://mp.weixin.qq.com")
	v.SetDefault("crawler.token", "")
	v.SetDefault("crawler.cookie", "")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.page_size", 5)
	v.SetDefault("crawler.default_account", "")
	v.SetDefault("crawler.crawl_delay", domain.DefaultCrawlDelay)
	v.SetDefault("crawler.max_retries", domain.DefaultMaxRetries)
	v.SetDefault("crawler.max_concurrent_requests", domain.DefaultMaxConcurrentRequests)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.fingerprint_policy", string(domain.FingerprintURL))
	v.SetDefault("crawler.update_on_duplicate", false)

	v.SetDefault("fingerprint.backend", "database")
	v.SetDefault("fingerprint.key_prefix", "mpcrawl:fp:")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "wechat_articles")
	v.SetDefault("elasticsearch.analyzer", "standard")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "mpcrawl-pages")
	v.SetDefault("storage.prefix", "pages")

	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.heartbeat_interval", 15*time.Second)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "0 */6 * * *")
	v.SetDefault("scheduler.accounts", []string{})
}

// Validate checks cross-field constraints that decoding cannot express.
func (c *Config) Validate() error {
	if _, err := c.Crawler.TaskOptions().Normalize(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return &domain.ConfigError{Field: "database.driver", Reason: "must be sqlite or postgres"}
	}
	switch c.Fingerprint.Backend {
	case "memory", "redis", "database":
	default:
		return &domain.ConfigError{Field: "fingerprint.backend", Reason: "must be memory, redis or database"}
	}
	if c.Crawler.PageSize < 1 {
		return &domain.ConfigError{Field: "crawler.page_size", Reason: "must be at least 1"}
	}
	if c.Progress.BufferSize < 1 {
		return &domain.ConfigError{Field: "progress.buffer_size", Reason: "must be at least 1"}
	}
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return &domain.ConfigError{Field: "elasticsearch.addresses", Reason: "required when elasticsearch is enabled"}
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return &domain.ConfigError{Field: "storage.bucket", Reason: "required when storage is enabled"}
	}
	if c.Scheduler.Enabled && len(c.Scheduler.Accounts) == 0 {
		return &domain.ConfigError{Field: "scheduler.accounts", Reason: "required when scheduler is enabled"}
	}
	return nil
}
