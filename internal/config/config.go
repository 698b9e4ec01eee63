package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the enaupload server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Registry  RegistryConfig
	Uploader  UploaderConfig
	Templates TemplatesConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Driver          string // postgres, sqlite or memory
	URL             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig is optional; without a URL the server runs without the status
// mirror, rate limiting and the cross-process uploader lease.
type RedisConfig struct {
	URL string
}

type RegistryConfig struct {
	Adapter        string // ena or mock
	Username       string
	Password       string
	UseDevEndpoint bool
	SubmitURL      string
	DevSubmitURL   string
	BrowserURL     string
	DevBrowserURL  string
	Timeout        time.Duration
	ToolName       string
	ToolVersion    string
	DataDir        string
	FTPHost        string
	JavaPath       string
	WebinJar       string
	WebinContext   string
	WebinTimeout   time.Duration
}

type UploaderConfig struct {
	Enabled      bool
	PollInterval time.Duration
	Throttle     time.Duration
	LockTTL      time.Duration
}

type TemplatesConfig struct {
	Driver      string // fs or s3
	Dir         string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3PathStyle bool
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

var validAdapters = map[string]bool{
	"ena":  true,
	"mock": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ENAUPLOAD_PORT", 8080),
			Env:  envString("ENAUPLOAD_ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			SQLitePath:      envString("SQLITE_PATH", "enaupload.db"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Registry: RegistryConfig{
			Adapter:        envString("REGISTRY_ADAPTER", "ena"),
			Username:       os.Getenv("ENA_USERNAME"),
			Password:       os.Getenv("ENA_PASSWORD"),
			UseDevEndpoint: envBool("ENA_USE_DEV_ENDPOINT", true),
			SubmitURL:      envString("ENA_SUBMIT_URL", "https://www.ebi.ac.uk/ena/submit/drop-box/submit/?auth=ENA"),
			DevSubmitURL:   envString("ENA_DEV_SUBMIT_URL", "https://wwwdev.ebi.ac.uk/ena/submit/drop-box/submit/?auth=ENA"),
			BrowserURL:     envString("ENA_BROWSER_URL", "https://www.ebi.ac.uk/ena/browser/view"),
			DevBrowserURL:  envString("ENA_DEV_BROWSER_URL", "https://wwwdev.ebi.ac.uk/ena/browser/view"),
			Timeout:        envDuration("ENA_TIMEOUT", 5*time.Minute),
			ToolName:       envString("ENA_SUBMISSION_TOOL", "enaupload"),
			ToolVersion:    envString("ENA_SUBMISSION_TOOL_VERSION", "1.0.0"),
			DataDir:        envString("DATA_DIR", "/data"),
			FTPHost:        envString("ENA_FTP_HOST", "webin2.ebi.ac.uk"),
			JavaPath:       envString("WEBIN_JAVA_PATH", "/usr/bin/java"),
			WebinJar:       envString("WEBIN_JAR", "/opt/webin-cli.jar"),
			WebinContext:   envString("WEBIN_CONTEXT", "genome"),
			WebinTimeout:   envDuration("WEBIN_TIMEOUT", 30*time.Minute),
		},
		Uploader: UploaderConfig{
			Enabled:      envBool("ENA_UPLOAD_ENABLED", true),
			PollInterval: envDurationSecs("ENA_UPLOAD_FREQ_SECS", 5*time.Second),
			Throttle:     envDurationSecs("ENA_UPLOAD_THROTTLE_SECS", 0),
			LockTTL:      envDuration("ENA_UPLOAD_LOCK_TTL", 10*time.Minute),
		},
		Templates: TemplatesConfig{
			Driver:      envString("TEMPLATE_DRIVER", "fs"),
			Dir:         envString("TEMPLATE_DIR", "/templates"),
			S3Bucket:    os.Getenv("TEMPLATE_S3_BUCKET"),
			S3Region:    envString("TEMPLATE_S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("TEMPLATE_S3_ENDPOINT"),
			S3Prefix:    os.Getenv("TEMPLATE_S3_PREFIX"),
			S3PathStyle: envBool("TEMPLATE_S3_PATH_STYLE", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite, memory; got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is postgres")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER is sqlite")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validAdapters[c.Registry.Adapter] {
		return fmt.Errorf("REGISTRY_ADAPTER must be one of ena, mock; got %q", c.Registry.Adapter)
	}
	if c.Registry.Adapter == "ena" {
		if c.Registry.Username == "" || c.Registry.Password == "" {
			return fmt.Errorf("ENA_USERNAME and ENA_PASSWORD are required when REGISTRY_ADAPTER is ena")
		}
		for name, u := range map[string]string{
			"ENA_SUBMIT_URL":     c.Registry.SubmitURL,
			"ENA_DEV_SUBMIT_URL": c.Registry.DevSubmitURL,
		} {
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
			}
		}
	}

	if c.Uploader.PollInterval <= 0 {
		return fmt.Errorf("ENA_UPLOAD_FREQ_SECS must be positive")
	}
	if c.Uploader.Throttle < 0 {
		return fmt.Errorf("ENA_UPLOAD_THROTTLE_SECS must not be negative")
	}

	switch c.Templates.Driver {
	case "fs":
		if c.Templates.Dir == "" {
			return fmt.Errorf("TEMPLATE_DIR is required when TEMPLATE_DRIVER is fs")
		}
	case "s3":
		if c.Templates.S3Bucket == "" {
			return fmt.Errorf("TEMPLATE_S3_BUCKET is required when TEMPLATE_DRIVER is s3")
		}
	default:
		return fmt.Errorf("TEMPLATE_DRIVER must be one of fs, s3; got %q", c.Templates.Driver)
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// envBool accepts the strconv.ParseBool spellings ("true", "True", "1", ...).
func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
