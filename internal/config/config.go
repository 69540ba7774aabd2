package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Transcoder TranscoderConfig
	Lock       LockConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	AssetTTL time.Duration
}

// StorageConfig holds local and object storage configuration
type StorageConfig struct {
	WebVideosDir string
	PreviewsDir  string
	TorrentsDir  string

	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	WorkerCount  int
	TempDir      string
	FFmpegPath   string
	FFprobePath  string
	Preset       string
	AudioBitrate string
	// Resolutions enabled for web variants
	Resolutions                       []int
	AlwaysTranscodeOriginalResolution bool
	TorrentPieceLength                int64
	// Trackers announced in generated torrents
	Trackers []string
	// WebSeedBaseURL is where web videos are publicly served, used as the
	// torrent web seed
	WebSeedBaseURL string
}

// LockConfig holds exclusive asset lock configuration
type LockConfig struct {
	// Backend is "memory" for a single worker process or "redis" when
	// several workers share the same assets
	Backend      string
	Timeout      time.Duration
	TTL          time.Duration
	PollInterval time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
	// MonitorInterval is how often queue depths and worker heartbeats
	// are refreshed
	MonitorInterval time.Duration
}

// TracingConfig holds jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid lock backend %q", c.Lock.Backend)
	}

	if c.Transcoder.WorkerCount < 1 {
		return fmt.Errorf("transcoder.workerCount must be at least 1, got %d", c.Transcoder.WorkerCount)
	}

	if len(c.Transcoder.Resolutions) == 0 && !c.Transcoder.AlwaysTranscodeOriginalResolution {
		return fmt.Errorf("transcoder.resolutions must not be empty")
	}

	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "vodpipeline")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.assetTTL", "5m")

	// Storage defaults
	viper.SetDefault("storage.webVideosDir", "/var/lib/vodpipeline/web-videos")
	viper.SetDefault("storage.previewsDir", "/var/lib/vodpipeline/previews")
	viper.SetDefault("storage.torrentsDir", "/var/lib/vodpipeline/torrents")
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "videos")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Transcoder defaults
	viper.SetDefault("transcoder.workerCount", 2)
	viper.SetDefault("transcoder.tempDir", "/tmp/vodpipeline")
	viper.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	viper.SetDefault("transcoder.ffprobePath", "ffprobe")
	viper.SetDefault("transcoder.preset", "veryfast")
	viper.SetDefault("transcoder.audioBitrate", "128k")
	viper.SetDefault("transcoder.resolutions", []int{144, 240, 360, 480, 720, 1080, 1440, 2160})
	viper.SetDefault("transcoder.alwaysTranscodeOriginalResolution", false)
	viper.SetDefault("transcoder.torrentPieceLength", 256*1024)
	viper.SetDefault("transcoder.trackers", []string{})
	viper.SetDefault("transcoder.webSeedBaseURL", "")

	// Lock defaults
	viper.SetDefault("lock.backend", "memory")
	viper.SetDefault("lock.timeout", "30m")
	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.pollInterval", "100ms")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9091)
	viper.SetDefault("metrics.monitorInterval", "10s")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.serviceName", "vodpipeline")
	viper.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Rate limit defaults
	viper.SetDefault("rateLimit.rps", 10)
	viper.SetDefault("rateLimit.burst", 20)
}
