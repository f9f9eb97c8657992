package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	App      AppConfig      `yaml:"app"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Fonts    FontsConfig    `yaml:"fonts"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AppConfig holds the public facing URLs and copy of the frame
type AppConfig struct {
	// BaseURL is the absolute URL the service is reachable at. Every link the
	// service emits (card image, post targets, share embeds) is built from it.
	BaseURL            string `yaml:"base_url"`
	SplashImageURL     string `yaml:"splash_image_url"`
	BackgroundImageURL string `yaml:"background_image_url"`
	DefaultAvatarURL   string `yaml:"default_avatar_url"`
	ShareText          string `yaml:"share_text"`
	TipURL             string `yaml:"tip_url"`
	ComposeURL         string `yaml:"compose_url"`
	AddCastActionURL   string `yaml:"add_cast_action_url"`
}

// UpstreamConfig holds the upstream data sources
type UpstreamConfig struct {
	PriceURL          string        `yaml:"price_url"`
	IdentityURL       string        `yaml:"identity_url"`
	EarningsURL       string        `yaml:"earnings_url"`
	ImageTimeout      time.Duration `yaml:"image_timeout"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Moralis           MoralisConfig `yaml:"moralis"`
}

// MoralisConfig holds the token price API configuration
type MoralisConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Chain        string `yaml:"chain"`
	TokenAddress string `yaml:"token_address"`
}

// FontsConfig lists the font files loaded at startup
type FontsConfig struct {
	Dir   string     `yaml:"dir"`
	Faces []FontFace `yaml:"faces"`
}

// FontFace maps a family and weight to a file under FontsConfig.Dir
type FontFace struct {
	Family string `yaml:"family"`
	Weight int    `yaml:"weight"`
	File   string `yaml:"file"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds the snapshot job configuration
type SyncConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
	Enabled   bool   `yaml:"enabled"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	// A missing .env is fine, the real environment still applies.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults(os.Getenv)

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults(getenv func(string) string) {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 20 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// App defaults
	if c.App.BaseURL == "" {
		c.App.BaseURL = ResolveBaseURL(getenv)
	}
	c.App.BaseURL = strings.TrimRight(c.App.BaseURL, "/")
	if c.App.SplashImageURL == "" {
		c.App.SplashImageURL = "https://uqmhcw5knmkdj4wh.public.blob.vercel-storage.com/splash-Rdu7ATWoRkov7e7eYcpKORd5vuyCTD.gif"
	}
	if c.App.BackgroundImageURL == "" {
		c.App.BackgroundImageURL = "https://uqmhcw5knmkdj4wh.public.blob.vercel-storage.com/maxi-dUCgF5LzFt4mAHVwUUESvfSjhmsCT9.png"
	}
	if c.App.DefaultAvatarURL == "" {
		c.App.DefaultAvatarURL = "https://example.com/default-avatar.png"
	}
	if c.App.ShareText == "" {
		c.App.ShareText = "🔍 Curious about your Moxie? All stats revealed here! \n    frame by @0xdexter Tip for awesomeness"
	}
	if c.App.TipURL == "" {
		c.App.TipURL = "https://warpcast.com/0xdexter/0xa911067c"
	}
	if c.App.ComposeURL == "" {
		c.App.ComposeURL = "https://warpcast.com/~/compose"
	}
	if c.App.AddCastActionURL == "" {
		c.App.AddCastActionURL = "https://warpcast.com/~/add-cast-action"
	}

	// Upstream defaults
	if c.Upstream.IdentityURL == "" {
		c.Upstream.IdentityURL = c.App.BaseURL + "/api/farscore"
	}
	if c.Upstream.EarningsURL == "" {
		c.Upstream.EarningsURL = c.App.BaseURL + "/api/moxie-earnings"
	}
	if c.Upstream.PriceURL == "" {
		c.Upstream.PriceURL = "https://moxie-stat.vercel.app/api/moxie-price"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 5 * time.Second
	}
	if c.Upstream.ImageTimeout == 0 {
		c.Upstream.ImageTimeout = 4 * time.Second
	}
	if c.Upstream.RequestsPerSecond == 0 {
		c.Upstream.RequestsPerSecond = 50
	}
	if c.Upstream.Moralis.BaseURL == "" {
		c.Upstream.Moralis.BaseURL = "https://deep-index.moralis.io/api/v2.2"
	}
	if c.Upstream.Moralis.Chain == "" {
		c.Upstream.Moralis.Chain = "0x2105"
	}
	if c.Upstream.Moralis.TokenAddress == "" {
		c.Upstream.Moralis.TokenAddress = "0x8C9037D1Ef5c6D1f6816278C7AAF5491d24CD527"
	}

	// Font defaults
	if c.Fonts.Dir == "" {
		c.Fonts.Dir = "assets"
	}
	if len(c.Fonts.Faces) == 0 {
		c.Fonts.Faces = []FontFace{
			{Family: "Inter", Weight: 700, File: "Inter-Bold.ttf"},
			{Family: "Inter", Weight: 600, File: "Inter-SemiBold.ttf"},
			{Family: "Inter", Weight: 800, File: "Inter-ExtraBold.ttf"},
			{Family: "Inter", Weight: 400, File: "Inter-Regular.ttf"},
			{Family: "Jersey", Weight: 400, File: "Jersey-Regular.ttf"},
		}
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "reputation-updates"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "moxie-stats"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 30m"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// UnroutedUpstreams lists the upstream URLs under BaseURL. The service
// does not serve the identity or earnings APIs itself.
func (c *Config) UnroutedUpstreams() []string {
	var names []string
	base := c.App.BaseURL + "/"
	if strings.HasPrefix(c.Upstream.IdentityURL, base) {
		names = append(names, "identity_url")
	}
	if strings.HasPrefix(c.Upstream.EarningsURL, base) {
		names = append(names, "earnings_url")
	}
	return names
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults(os.Getenv)
	return cfg
}

// fallbackBaseURL is used when nothing in the environment names the service.
const fallbackBaseURL = "https://fc-aniversary-v3.vercel.app"

// ResolveBaseURL derives the public base URL from the environment: APP_URL
// first (https is assumed when it carries no scheme), then VERCEL_URL, then
// the local development address when APP_ENV is "development".
func ResolveBaseURL(getenv func(string) string) string {
	if custom := getenv("APP_URL"); custom != "" {
		if strings.HasPrefix(custom, "http") {
			return custom
		}
		return "https://" + custom
	}
	if vercel := getenv("VERCEL_URL"); vercel != "" {
		return "https://" + vercel
	}
	if getenv("APP_ENV") == "development" {
		return "http://localhost:3001"
	}
	return fallbackBaseURL
}
