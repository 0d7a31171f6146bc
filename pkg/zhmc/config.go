package zhmc

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the TOML configuration of a client, typically loaded by a CLI
// or daemon embedding the library.
type Config struct {
	// HMC endpoint, e.g. "https://hmc.example.com:6794".
	HMCURL   string `toml:"hmc_url" validate:"required,url"`
	Userid   string `toml:"userid" validate:"required"`
	Password string `toml:"password" validate:"required"`

	// SkipCertVerify disables TLS certificate verification.
	SkipCertVerify bool `toml:"skip_cert_verify"`

	// Timeouts in seconds. Zero selects the library defaults.
	TimeoutSeconds    int `toml:"timeout_seconds" validate:"gte=0"`
	JobTimeoutSeconds int `toml:"job_timeout_seconds" validate:"gte=0"`

	// NameCacheTTLSeconds is the time-to-live of the per-manager name→URI
	// caches. Zero disables name caching.
	NameCacheTTLSeconds int `toml:"name_cache_ttl_seconds" validate:"gte=0"`

	// LogLevel is a zerolog level name ("debug", "info", ...). Empty
	// disables logging.
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	cfg := &Config{}
	if _, err := toml.Decode(string(content), cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration values are present and
// valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// NewClient builds a session and client from the configuration.
func (c *Config) NewClient() (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var logger *zerolog.Logger
	if c.LogLevel != "" {
		level, err := zerolog.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, errors.Wrap(err, "invalid log level")
		}
		l := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
		logger = &l
	}

	session := NewSession(SessionOptions{
		BaseURL:        c.HMCURL,
		Userid:         c.Userid,
		Password:       c.Password,
		Timeout:        time.Duration(c.TimeoutSeconds) * time.Second,
		JobTimeout:     time.Duration(c.JobTimeoutSeconds) * time.Second,
		SkipCertVerify: c.SkipCertVerify,
		Logger:         logger,
	})
	var opts []ClientOption
	if c.NameCacheTTLSeconds > 0 {
		opts = append(opts, WithNameCacheTTL(time.Duration(c.NameCacheTTLSeconds)*time.Second))
	}
	return NewClient(session, opts...), nil
}
