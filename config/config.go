package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAuthToken = "changeme"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Client  ClientConfig  `yaml:"client"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig configures the transcript gateway served by "serve".
type GatewayConfig struct {
	AuthToken       string          `yaml:"auth_token"`
	UpstreamProxy   string          `yaml:"upstream_proxy"`
	ProviderCommand string          `yaml:"provider_command"`
	ProviderTimeout time.Duration   `yaml:"provider_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// ClientConfig configures the cache layer's connection to a gateway.
type ClientConfig struct {
	APIBase  string        `yaml:"api_base"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Backend    string   `yaml:"backend"`
	Dir        string   `yaml:"dir"`
	SQLitePath string   `yaml:"sqlite_path"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cacheDir := filepath.Join(home, "youtube")

	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			AuthToken:       DefaultAuthToken,
			ProviderCommand: "uv run scripts/transcript_provider.py",
			ProviderTimeout: 45 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
		},
		Client: ClientConfig{
			APIBase: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    BackendFile,
			Dir:        cacheDir,
			SQLitePath: filepath.Join(cacheDir, "cache.db"),
			S3: S3Config{
				Prefix: "transcripts/",
				Region: "us-east-1",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML config file
// and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if err := loadConfigFile(cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilePath returns the config file location: $YT_TRANSCRIPT_CONFIG, or
// ~/.yt-transcript/config.yaml.
func FilePath() (string, error) {
	if path := os.Getenv("YT_TRANSCRIPT_CONFIG"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".yt-transcript", "config.yaml"), nil
}

func loadConfigFile(cfg *Config) error {
	path, err := FilePath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = GetEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvAsDuration("IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Gateway.AuthToken = GetEnv("PROXY_AUTH_TOKEN", cfg.Gateway.AuthToken)
	cfg.Gateway.UpstreamProxy = GetEnv("UPSTREAM_PROXY", cfg.Gateway.UpstreamProxy)
	cfg.Gateway.ProviderCommand = GetEnv("PROVIDER_COMMAND", cfg.Gateway.ProviderCommand)
	cfg.Gateway.ProviderTimeout = getEnvAsDuration("PROVIDER_TIMEOUT", cfg.Gateway.ProviderTimeout)
	cfg.Gateway.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", cfg.Gateway.RateLimit.Enabled)
	cfg.Gateway.RateLimit.RequestsPerMinute = getEnvAsInt("RATE_LIMIT_RPM", cfg.Gateway.RateLimit.RequestsPerMinute)
	cfg.Gateway.RateLimit.BurstSize = getEnvAsInt("RATE_LIMIT_BURST", cfg.Gateway.RateLimit.BurstSize)

	cfg.Client.APIBase = strings.TrimRight(GetEnv("YT_API_BASE", cfg.Client.APIBase), "/")
	cfg.Client.APIToken = GetEnv("YT_API_TOKEN", cfg.Client.APIToken)
	cfg.Client.Timeout = getEnvAsDuration("YT_API_TIMEOUT", cfg.Client.Timeout)

	dir := GetEnv("YT_CACHE_DIR", cfg.Cache.Dir)
	if dir != cfg.Cache.Dir && cfg.Cache.SQLitePath == filepath.Join(cfg.Cache.Dir, "cache.db") {
		cfg.Cache.SQLitePath = filepath.Join(dir, "cache.db")
	}
	cfg.Cache.Dir = dir
	cfg.Cache.Backend = strings.ToLower(GetEnv("YT_CACHE_BACKEND", cfg.Cache.Backend))
	cfg.Cache.SQLitePath = GetEnv("YT_CACHE_SQLITE_PATH", cfg.Cache.SQLitePath)
	cfg.Cache.S3.Bucket = GetEnv("YT_CACHE_S3_BUCKET", cfg.Cache.S3.Bucket)
	cfg.Cache.S3.Prefix = GetEnv("YT_CACHE_S3_PREFIX", cfg.Cache.S3.Prefix)
	cfg.Cache.S3.Region = GetEnv("YT_CACHE_S3_REGION", cfg.Cache.S3.Region)
	cfg.Cache.S3.Endpoint = GetEnv("YT_CACHE_S3_ENDPOINT", cfg.Cache.S3.Endpoint)
	cfg.Cache.S3.AccessKey = GetEnv("S3_ACCESS_KEY", cfg.Cache.S3.AccessKey)
	cfg.Cache.S3.SecretKey = GetEnv("S3_SECRET_KEY", cfg.Cache.S3.SecretKey)

	cfg.Log.Level = GetEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Dir = GetEnv("LOG_DIR", cfg.Log.Dir)
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.ReadTimeout <= 0 {
		return errors.New("read timeout must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		return errors.New("idle timeout must be greater than 0")
	}
	if c.Gateway.ProviderTimeout <= 0 {
		return errors.New("provider timeout must be greater than 0")
	}
	if c.Gateway.RateLimit.Enabled && c.Gateway.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate limit requests per minute must be greater than 0")
	}
	if c.Client.Timeout <= 0 {
		return errors.New("api timeout must be greater than 0")
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			return errors.New("cache directory is required")
		}
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case BackendS3:
		if c.Cache.S3.Bucket == "" {
			return errors.New("s3 bucket is required")
		}
	default:
		return errors.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// UsesDefaultToken reports whether the gateway secret was never configured.
func (c *Config) UsesDefaultToken() bool {
	return c.Gateway.AuthToken == DefaultAuthToken
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid boolean, using default")
	}
	return defaultValue
}
