package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/partflow/partflow/database"
	partflowhttp "github.com/partflow/partflow/http"
	"github.com/partflow/partflow/keybackend"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for partflow.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Service  ServiceConfig           `mapstructure:"service"`
	Database database.Config         `mapstructure:"database"`
	Storage  StorageConfig           `mapstructure:"storage"`
	Auth     AuthConfig              `mapstructure:"auth"`
	CORS     partflowhttp.CORSConfig `mapstructure:"cors"`
	Log      LogConfig               `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// ServiceConfig holds coordinator tuning. Durations are in seconds.
type ServiceConfig struct {
	MaxPartSize    int64 `mapstructure:"max_part_size" validate:"min=1"`
	MaxExpiry      int   `mapstructure:"max_expiry" validate:"min=1"`
	SweepAfter     int   `mapstructure:"sweep_after" validate:"min=1"`
	CleanupTimeout int   `mapstructure:"cleanup_timeout" validate:"min=1"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Type       string           `mapstructure:"type" validate:"required,oneof=filesystem s3"`
	Filesystem FilesystemConfig `mapstructure:"filesystem"`
	S3         S3Config         `mapstructure:"s3"`
}

// FilesystemConfig holds local storage configuration. BaseURL is the
// public address signed object URLs are issued against; leave empty to
// disable URL issuing.
type FilesystemConfig struct {
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url"`
}

// S3Config holds S3 (or S3-compatible) storage configuration.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	AccessKeyID    string `mapstructure:"access_key_id"`
	SecretKey      string `mapstructure:"secret_key"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// AuthConfig holds authentication configuration. In public mode the
// API accepts unsigned requests.
type AuthConfig struct {
	Mode    string                `mapstructure:"mode" validate:"required,oneof=public private"`
	Region  string                `mapstructure:"region" validate:"required"`
	Service string                `mapstructure:"service" validate:"required"`
	Keys    keybackend.KeysConfig `mapstructure:"keys"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"db-type":      "database.type",
	"db-dsn":       "database.dsn",
	"storage-type": "storage.type",
	"storage-path": "storage.filesystem.path",
	"port":         "server.port",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5808)

	v.SetDefault("service.max_part_size", 64<<20)  // bytes
	v.SetDefault("service.max_expiry", 7*24*3600)  // seconds
	v.SetDefault("service.sweep_after", 24*3600)   // seconds
	v.SetDefault("service.cleanup_timeout", 30)    // seconds

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "partflow.db")
	v.SetDefault("database.tables.transfers", "transfers")
	v.SetDefault("database.tables.parts", "transfer_parts")

	v.SetDefault("storage.type", "filesystem")
	v.SetDefault("storage.filesystem.path", "./data")

	v.SetDefault("auth.mode", "public")
	v.SetDefault("auth.region", "us-east-1")
	v.SetDefault("auth.service", "partflow")

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("PARTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := validateStorage(cfg.Storage); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// validateStorage enforces the per-backend required fields that struct
// tags cannot express.
func validateStorage(s StorageConfig) error {
	switch s.Type {
	case "filesystem":
		if s.Filesystem.Path == "" {
			return errors.New("storage.filesystem.path is required")
		}
	case "s3":
		if s.S3.Bucket == "" || s.S3.Region == "" {
			return errors.New("storage.s3.bucket and storage.s3.region are required")
		}
	}
	return nil
}
