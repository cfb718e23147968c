// Package config builds the process configuration once at startup. Values
// come from defaults, an optional YAML file (CONFIG_FILE) and the
// environment, in that order; a local .env file is loaded first if present.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	HTTPPort string `yaml:"httpPort"`
	// MetricsAddr is where the worker exposes /metrics. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr"`

	UploadFolder     string   `yaml:"uploadFolder"`
	MaxContentLength ByteSize `yaml:"maxContentLength"`

	RedisURL  string        `yaml:"redisURL"`
	QueueName string        `yaml:"queueName"`
	ResultTTL time.Duration `yaml:"resultTTL"`

	MetricsDriver string `yaml:"metricsDriver"` // postgres | sqlite | none
	DatabaseURL   string `yaml:"databaseURL"`
	SQLitePath    string `yaml:"sqlitePath"`

	CORSOrigins        []string `yaml:"corsOrigins"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	RequestLogPrefix   string   `yaml:"requestLogPrefix"`
	GeoIPDBPath        string   `yaml:"geoipDBPath"`

	AllowedURLHosts   []string `yaml:"allowedURLHosts"`
	BlockedVideoHosts []string `yaml:"blockedVideoHosts"`

	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	ToolTimeout       time.Duration `yaml:"toolTimeout"`
	AudioMuxTimeout   time.Duration `yaml:"audioMuxTimeout"`
	TaskTimeLimit     time.Duration `yaml:"taskTimeLimit"`
	TaskSoftTimeLimit time.Duration `yaml:"taskSoftTimeLimit"`
	WorkerConcurrency int           `yaml:"workerConcurrency"`

	TempFileMaxAge          time.Duration `yaml:"tempFileMaxAge"`
	TempFileCleanupInterval time.Duration `yaml:"tempFileCleanupInterval"`

	MaxGIFFrames int    `yaml:"maxGIFFrames"`
	MaxGIFPixels int    `yaml:"maxGIFPixels"`
	FontDir      string `yaml:"fontDir"`

	Storage StorageConfig `yaml:"storage"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// StorageConfig selects the artifact mirror. localfs keeps artifacts only in
// the upload folder; gdrive also copies each finished artifact to Drive.
type StorageConfig struct {
	Provider           string `yaml:"provider"`
	GDriveClientID     string `yaml:"gdriveClientID"`
	GDriveClientSecret string `yaml:"gdriveClientSecret"`
	GDriveRefreshToken string `yaml:"gdriveRefreshToken"`
	GDriveFolderID     string `yaml:"gdriveFolderID"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Env:                     "development",
		HTTPPort:                "8080",
		MetricsAddr:             ":9100",
		UploadFolder:            "upload",
		MaxContentLength:        200 * 1024 * 1024,
		RedisURL:                "redis://localhost:6379/0",
		QueueName:               "gifmill:queue",
		ResultTTL:               24 * time.Hour,
		MetricsDriver:           "postgres",
		SQLitePath:              "gifmill.db",
		CORSOrigins:             []string{"http://localhost:5173", "http://localhost:3000"},
		RateLimitPerMinute:      5,
		RequestLogPrefix:        "/api/",
		BlockedVideoHosts:       []string{"facebook.com", "tiktok.com", "twitter.com", "x.com"},
		RequestTimeout:          60 * time.Second,
		ToolTimeout:             120 * time.Second,
		AudioMuxTimeout:         60 * time.Second,
		TaskTimeLimit:           300 * time.Second,
		TaskSoftTimeLimit:       240 * time.Second,
		WorkerConcurrency:       2,
		TempFileMaxAge:          7200 * time.Second,
		TempFileCleanupInterval: 3600 * time.Second,
		MaxGIFFrames:            300,
		MaxGIFPixels:            800 * 800,
		FontDir:                 "fonts",
		Storage:                 StorageConfig{Provider: "localfs"},
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

// Load reads .env, the optional YAML file and the environment.
func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Env = Env("FLASK_ENV", Env("APP_ENV", c.Env))
	c.HTTPPort = Env("HTTP_PORT", Env("PORT", c.HTTPPort))
	c.MetricsAddr = Env("METRICS_ADDR", c.MetricsAddr)
	c.UploadFolder = Env("UPLOAD_FOLDER", c.UploadFolder)
	if v := Env("MAX_CONTENT_LENGTH", ""); v != "" {
		n, err := ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("MAX_CONTENT_LENGTH: %w", err)
		}
		c.MaxContentLength = ByteSize(n)
	}

	c.RedisURL = Env("REDIS_URL", Env("CELERY_BROKER_URL", c.RedisURL))
	c.QueueName = Env("JOB_QUEUE_NAME", c.QueueName)
	c.ResultTTL = EnvSeconds("RESULT_TTL", c.ResultTTL)

	c.MetricsDriver = strings.ToLower(Env("METRICS_DRIVER", c.MetricsDriver))
	c.DatabaseURL = Env("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = Env("SQLITE_PATH", c.SQLitePath)

	c.CORSOrigins = EnvCSV("CORS_ORIGINS", c.CORSOrigins)
	c.RateLimitPerMinute = EnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.RequestLogPrefix = Env("REQUEST_LOG_PREFIX", c.RequestLogPrefix)
	c.GeoIPDBPath = Env("GEOIP_DB_PATH", c.GeoIPDBPath)

	c.AllowedURLHosts = EnvCSV("ALLOWED_URL_HOSTS", c.AllowedURLHosts)
	c.BlockedVideoHosts = EnvCSV("BLOCKED_VIDEO_HOSTS", c.BlockedVideoHosts)

	c.RequestTimeout = EnvSeconds("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ToolTimeout = EnvSeconds("TOOL_TIMEOUT", c.ToolTimeout)
	c.AudioMuxTimeout = EnvSeconds("AUDIO_MUX_TIMEOUT", c.AudioMuxTimeout)
	c.TaskTimeLimit = EnvSeconds("TASK_TIME_LIMIT", c.TaskTimeLimit)
	c.TaskSoftTimeLimit = EnvSeconds("TASK_SOFT_TIME_LIMIT", c.TaskSoftTimeLimit)
	c.WorkerConcurrency = EnvInt("WORKER_CONCURRENCY", c.WorkerConcurrency)

	c.TempFileMaxAge = EnvSeconds("TEMP_FILE_MAX_AGE", c.TempFileMaxAge)
	c.TempFileCleanupInterval = EnvSeconds("TEMP_FILE_CLEANUP_INTERVAL", c.TempFileCleanupInterval)

	c.MaxGIFFrames = EnvInt("MAX_GIF_FRAMES", c.MaxGIFFrames)
	c.MaxGIFPixels = EnvInt("MAX_GIF_PIXELS", c.MaxGIFPixels)
	c.FontDir = Env("FONT_DIR", c.FontDir)

	c.Storage.Provider = Env("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.GDriveClientID = Env("GDRIVE_CLIENT_ID", c.Storage.GDriveClientID)
	c.Storage.GDriveClientSecret = Env("GDRIVE_CLIENT_SECRET", c.Storage.GDriveClientSecret)
	c.Storage.GDriveRefreshToken = Env("GDRIVE_REFRESH_TOKEN", c.Storage.GDriveRefreshToken)
	c.Storage.GDriveFolderID = Env("GDRIVE_FOLDER_ID", c.Storage.GDriveFolderID)

	c.LogLevel = Env("LOG_LEVEL", c.LogLevel)
	c.LogFormat = Env("LOG_FORMAT", c.LogFormat)
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.UploadFolder) == "" {
		return errors.New("UPLOAD_FOLDER is required")
	}
	switch c.MetricsDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when METRICS_DRIVER=postgres")
		}
	case "sqlite", "none":
	default:
		return fmt.Errorf("unknown METRICS_DRIVER %q", c.MetricsDriver)
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.MaxGIFFrames < 1 || c.MaxGIFPixels < 1 {
		return errors.New("MAX_GIF_FRAMES and MAX_GIF_PIXELS must be positive")
	}
	if c.TaskSoftTimeLimit <= 0 || c.TaskSoftTimeLimit > c.TaskTimeLimit {
		c.TaskSoftTimeLimit = c.TaskTimeLimit
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UploadRoot returns the absolute upload folder.
func (c *Config) UploadRoot() string {
	abs, err := filepath.Abs(c.UploadFolder)
	if err != nil {
		return filepath.Clean(c.UploadFolder)
	}
	return abs
}

// RedisOptions parses RedisURL. Managed providers hand out rediss:// URLs
// with ssl_cert_reqs, which go-redis does not understand; it is stripped and
// CERT_NONE turns into InsecureSkipVerify.
func (c *Config) RedisOptions() (*redis.Options, error) {
	raw := c.RedisURL
	insecure := false

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	q := u.Query()
	if v := q.Get("ssl_cert_reqs"); v != "" {
		insecure = strings.EqualFold(v, "CERT_NONE") || strings.EqualFold(v, "none")
		q.Del("ssl_cert_reqs")
		u.RawQuery = q.Encode()
		raw = u.String()
	}

	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if u.Scheme == "rediss" {
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.TLSConfig.InsecureSkipVerify = insecure
	}
	return opts, nil
}

// ByteSize is a size in bytes that accepts "200MB", "512KiB" or "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// Int64 returns the size as int64 for io APIs.
func (b ByteSize) Int64() int64 { return int64(b) }

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses bare bytes, binary (KiB, Mi) and decimal (KB, MB) sizes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		return strconv.ParseUint(s, 10, 64)
	}

	up := strings.ToUpper(s)
	units := []struct {
		suffix string
		value  uint64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KI", 1 << 10}, {"MI", 1 << 20}, {"GI", 1 << 30},
		// Decimal suffixes follow the binary convention of the upload limit.
		{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil || val < 0 {
				return 0, fmt.Errorf("invalid size number in %q", orig)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}
