package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	S3        S3        `yaml:"s3"`
	Instagram Instagram `yaml:"instagram"`
	YouTube   YouTube   `yaml:"youtube"`
	Relay     Relay     `yaml:"relay"`
	Payment   Payment   `yaml:"payment"`
	Scheduler Scheduler `yaml:"scheduler"`
	Retry     Retry     `yaml:"retry"`
	Session   Session   `yaml:"session"`
	Credits   Credits   `yaml:"credits"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Log holds logger configuration. Format "json" is meant for production, "text" for local development.
type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Database holds database configuration
type Database struct {
	// PostgreSQL. When empty the service runs on in-memory repositories.
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	MaxConns     int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns     int32         `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
	AutoMigrate  bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

// Redis holds Redis configuration. Optional; used for cross-instance account guards.
type Redis struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/media"`
}

// Instagram holds Instagram configuration. Login and challenge calls go through the
// session bridge, publishing goes to the Graph API.
type Instagram struct {
	BaseURL    string `yaml:"base_url" env:"INSTAGRAM_BASE_URL" env-default:"https://graph.instagram.com"`
	APIVersion string `yaml:"api_version" env:"INSTAGRAM_API_VERSION" env-default:"v21.0"`
	BridgeURL  string `yaml:"bridge_url" env:"INSTAGRAM_BRIDGE_URL" env-default:"http://localhost:8090"`
}

// YouTube holds Google OAuth configuration for channel authorization
type YouTube struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URL" env-default:"http://localhost:8080/api/v1/youtube/auth/callback"`
	// ReturnURL is where the browser lands after the callback. Empty answers with JSON.
	ReturnURL string `yaml:"return_url" env:"YOUTUBE_RETURN_URL"`
}

// Relay holds the platform relay configuration used for TikTok and WhatsApp
type Relay struct {
	BaseURL string        `yaml:"base_url" env:"RELAY_BASE_URL" env-default:"http://localhost:8091"`
	Token   string        `yaml:"token" env:"RELAY_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"RELAY_TIMEOUT" env-default:"60s"`
}

// Payment holds payment gateway configuration
type Payment struct {
	BaseURL string        `yaml:"base_url" env:"PAYMENT_BASE_URL" env-default:"http://localhost:8092"`
	APIKey  string        `yaml:"api_key" env:"PAYMENT_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"PAYMENT_TIMEOUT" env-default:"15s"`
}

// Scheduler holds scheduler configuration
type Scheduler struct {
	Enabled      bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	Interval     time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"15s"`
	BatchSize    int           `yaml:"batch_size" env:"SCHEDULER_BATCH_SIZE" env-default:"50"`
	Concurrency  int           `yaml:"concurrency" env:"SCHEDULER_CONCURRENCY" env-default:"8"`
	StaleAfter   time.Duration `yaml:"stale_after" env:"SCHEDULER_STALE_AFTER" env-default:"15m"`
	RequeueDelay time.Duration `yaml:"requeue_delay" env:"SCHEDULER_REQUEUE_DELAY" env-default:"0s"`
}

// Retry holds the retry policy parameters per error kind.
// A budget of 0 means the post's own max attempts apply.
type Retry struct {
	MaxAttempts int     `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"5"`
	Multiplier  float64 `yaml:"multiplier" env:"RETRY_BACKOFF_MULTIPLIER" env-default:"2"`

	RateLimitDelay    time.Duration `yaml:"rate_limit_delay" env:"RETRY_RATE_LIMIT_DELAY" env-default:"1m"`
	RateLimitMaxDelay time.Duration `yaml:"rate_limit_max_delay" env:"RETRY_RATE_LIMIT_MAX_DELAY" env-default:"30m"`

	NetworkDelay    time.Duration `yaml:"network_delay" env:"RETRY_NETWORK_DELAY" env-default:"30s"`
	NetworkMaxDelay time.Duration `yaml:"network_max_delay" env:"RETRY_NETWORK_MAX_DELAY" env-default:"10m"`

	QuotaWindow time.Duration `yaml:"quota_window" env:"RETRY_QUOTA_WINDOW" env-default:"1h"`

	AuthBudget int           `yaml:"auth_budget" env:"RETRY_AUTH_BUDGET" env-default:"3"`
	AuthDelay  time.Duration `yaml:"auth_delay" env:"RETRY_AUTH_DELAY" env-default:"5m"`

	ContentBudget int           `yaml:"content_budget" env:"RETRY_CONTENT_BUDGET" env-default:"3"`
	ContentDelay  time.Duration `yaml:"content_delay" env:"RETRY_CONTENT_DELAY" env-default:"5m"`

	UnknownBudget int           `yaml:"unknown_budget" env:"RETRY_UNKNOWN_BUDGET" env-default:"3"`
	UnknownDelay  time.Duration `yaml:"unknown_delay" env:"RETRY_UNKNOWN_DELAY" env-default:"2m"`
}

// Session holds platform session configuration
type Session struct {
	// SecretKey seals platform tokens at rest (AES, 16/24/32 bytes). Empty stores tokens as-is.
	SecretKey         string        `yaml:"secret_key" env:"SESSION_SECRET_KEY"`
	ChallengeAttempts int           `yaml:"challenge_attempts" env:"SESSION_CHALLENGE_ATTEMPTS" env-default:"3"`
	ChallengeTTL      time.Duration `yaml:"challenge_ttl" env:"SESSION_CHALLENGE_TTL" env-default:"10m"`
	ResendCooldown    time.Duration `yaml:"resend_cooldown" env:"SESSION_RESEND_COOLDOWN" env-default:"30s"`
	GuardTTL          time.Duration `yaml:"guard_ttl" env:"SESSION_GUARD_TTL" env-default:"2m"`
}

// Credits holds credit metering and payment confirmation configuration
type Credits struct {
	DefaultOwner   string           `yaml:"default_owner" env:"CREDITS_DEFAULT_OWNER" env-default:"default"`
	PollInterval   time.Duration    `yaml:"poll_interval" env:"CREDITS_POLL_INTERVAL" env-default:"3s"`
	PollTimeout    time.Duration    `yaml:"poll_timeout" env:"CREDITS_POLL_TIMEOUT" env-default:"10m"`
	PurchaseTTL    time.Duration    `yaml:"purchase_ttl" env:"CREDITS_PURCHASE_TTL" env-default:"30m"`
	ReservationTTL time.Duration    `yaml:"reservation_ttl" env:"CREDITS_RESERVATION_TTL" env-default:"15m"`
	OperationCosts map[string]int64 `yaml:"operation_costs" env:"CREDITS_OPERATION_COSTS" env-default:"ai_caption:1,ai_hashtags:1,ai_image:5,ai_video_script:3"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
