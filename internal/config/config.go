// Package config loads layerdeck settings from defaults, an optional TOML
// file and LAYERDECK_ environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LAYERDECK_LOG_LEVEL.
const EnvPrefix = "LAYERDECK"

// Config holds application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Stamp   StampConfig   `mapstructure:"stamp"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Journal JournalConfig `mapstructure:"journal"`
	Import  ImportConfig  `mapstructure:"import"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// NotifyConfig controls user notifications.
type NotifyConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	FeedSize int           `mapstructure:"feed_size"`
}

// StampConfig picks the layer stamping strategy: sequence or uuid.
type StampConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// BlobConfig selects the raw payload archive backend.
type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds S3 / MinIO settings for the s3 blob driver.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// JournalConfig selects the event journal backend.
type JournalConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ImportConfig names a directory imported at startup.
type ImportConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from file and env. Env var overrides use prefix LAYERDECK_.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFrom is Load with an explicit TOML file; an empty path skips the file.
func LoadFrom(cfgPath string) (Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_upload_bytes", int64(32<<20))
	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("notify.duration", 5000*time.Millisecond)
	v.SetDefault("notify.feed_size", 50)
	v.SetDefault("stamp.strategy", "sequence")
	v.SetDefault("blob.driver", "memory")
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("journal.driver", "memory")
	v.SetDefault("journal.sqlite_path", "layerdeck-journal.db")
	v.SetDefault("journal.postgres_dsn", "")
	v.SetDefault("import.dir", "")

	v.SetConfigType("toml")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects unknown drivers and strategies.
func (c Config) Validate() error {
	switch c.Stamp.Strategy {
	case "sequence", "uuid":
	default:
		return fmt.Errorf("unknown stamp strategy %q", c.Stamp.Strategy)
	}
	switch c.Blob.Driver {
	case "memory", "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Journal.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			return fmt.Errorf("journal.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown journal driver %q", c.Journal.Driver)
	}
	if c.Notify.Duration <= 0 {
		return fmt.Errorf("notify.duration must be positive")
	}
	return nil
}
