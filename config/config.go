// Package config loads the settings shared by every p2pdir command.
//
// Precedence, highest first: environment variables (P2PDIR_*), the YAML
// configuration file, built-in defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// P2PDIR_SERVER_READ_TIMEOUT=5s.
const EnvPrefix = "P2PDIR"

type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Audit       AuditConfig       `mapstructure:"audit"`
	AuditServer AuditServerConfig `mapstructure:"audit_server"`
	HTTP        HTTPConfig        `mapstructure:"http"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// ServerConfig controls the directory listener.
type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
	// ReadTimeout bounds the wait for each request line. Zero disables it.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	// MaxConnections caps concurrently served connections. Zero is unlimited.
	MaxConnections  int           `mapstructure:"max_connections" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxLineLength   int           `mapstructure:"max_line_length" validate:"gte=2,lte=65536"`
}

// RegistryConfig caps the table sizes. Zero means unlimited.
type RegistryConfig struct {
	MaxUsers int `mapstructure:"max_users" validate:"gte=0"`
	MaxFiles int `mapstructure:"max_files" validate:"gte=0"`
}

// AuditConfig points the directory server at the logging collaborator.
type AuditConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address" validate:"required_if=Enabled true"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Async     bool          `mapstructure:"async"`
	QueueSize int           `mapstructure:"queue_size" validate:"gte=1"`
}

// AuditServerConfig configures the collaborator itself.
type AuditServerConfig struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
	Sink    string `mapstructure:"sink" validate:"required,oneof=file badger"`
	Path    string `mapstructure:"path" validate:"required"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.address", ":8888")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_line_length", 256)

	v.SetDefault("registry.max_users", 100)
	v.SetDefault("registry.max_files", 1000)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.address", "127.0.0.1:4500")
	v.SetDefault("audit.timeout", 2*time.Second)
	v.SetDefault("audit.async", true)
	v.SetDefault("audit.queue_size", 256)

	v.SetDefault("audit_server.address", ":4500")
	v.SetDefault("audit_server.sink", "file")
	v.SetDefault("audit_server.path", "logs.txt")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.address", ":8000")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result. A missing file is an error only when path was
// given explicitly.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Errorf("configuration file not found: %s", path)
			}
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	return nil
}
