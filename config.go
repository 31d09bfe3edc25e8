package tokenlife

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigFile is read from the working directory when no path is given
const DefaultConfigFile = "tokenlife.yaml"

// Config holds the tunables of the manager, the monitor and the auth endpoints.
//
// Values are read, in order of precedence, from an explicit file, the file named
// by CONFIG_PATH, ./tokenlife.yaml, and finally the environment alone. Environment
// variables are applied on top of whichever file was read.
type Config struct {
	// ExpiryMonitor tick cadence
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"TOKENLIFE_POLL_INTERVAL_SECONDS" env-default:"30"`

	// Access token time left at which the monitor renews proactively
	ProactiveRefreshThresholdSeconds int `yaml:"proactive_refresh_threshold_seconds" env:"TOKENLIFE_PROACTIVE_REFRESH_THRESHOLD_SECONDS" env-default:"300"`

	// Refresh token time left at which the one-time warning fires
	WarningThresholdSeconds int `yaml:"warning_threshold_seconds" env:"TOKENLIFE_WARNING_THRESHOLD_SECONDS" env-default:"300"`

	// How long the warning notification should stay visible
	WarningDisplayDurationMs int `yaml:"warning_display_duration_ms" env:"TOKENLIFE_WARNING_DISPLAY_DURATION_MS" env-default:"10000"`

	// Grace period between the expiry notification and the forced logout
	ForcedLogoutDelayMs int `yaml:"forced_logout_delay_ms" env:"TOKENLIFE_FORCED_LOGOUT_DELAY_MS" env-default:"2000"`

	// Upper bound on a single renewal round trip
	RefreshTimeoutMs int `yaml:"refresh_timeout_ms" env:"TOKENLIFE_REFRESH_TIMEOUT_MS" env-default:"10000"`

	ServerURL       string `yaml:"server_url" env:"TOKENLIFE_SERVER_URL"`
	LoginEndpoint   string `yaml:"login_endpoint" env:"TOKENLIFE_LOGIN_ENDPOINT" env-default:"/auth/login"`
	RefreshEndpoint string `yaml:"refresh_endpoint" env:"TOKENLIFE_REFRESH_ENDPOINT" env-default:"/auth/refresh"`

	// Namespace for persisted entries
	Namespace string `yaml:"namespace" env:"TOKENLIFE_NAMESPACE" env-default:"tokenlife"`

	// StorePath is the file used by the fs store. Empty means the user config dir.
	StorePath string `yaml:"store_path" env:"TOKENLIFE_STORE_PATH"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		PollIntervalSeconds:              30,
		ProactiveRefreshThresholdSeconds: 300,
		WarningThresholdSeconds:          300,
		WarningDisplayDurationMs:         10000,
		ForcedLogoutDelayMs:              2000,
		RefreshTimeoutMs:                 10000,
		LoginEndpoint:                    "/auth/login",
		RefreshEndpoint:                  "/auth/refresh",
		Namespace:                        DefaultNamespace,
	}
}

// EnsureDefaults fills in default values for any unset fields
func (c *Config) EnsureDefaults() {
	d := DefaultConfig()
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = d.PollIntervalSeconds
	}
	if c.ProactiveRefreshThresholdSeconds == 0 {
		c.ProactiveRefreshThresholdSeconds = d.ProactiveRefreshThresholdSeconds
	}
	if c.WarningThresholdSeconds == 0 {
		c.WarningThresholdSeconds = d.WarningThresholdSeconds
	}
	if c.WarningDisplayDurationMs == 0 {
		c.WarningDisplayDurationMs = d.WarningDisplayDurationMs
	}
	if c.ForcedLogoutDelayMs == 0 {
		c.ForcedLogoutDelayMs = d.ForcedLogoutDelayMs
	}
	if c.RefreshTimeoutMs == 0 {
		c.RefreshTimeoutMs = d.RefreshTimeoutMs
	}
	if c.LoginEndpoint == "" {
		c.LoginEndpoint = d.LoginEndpoint
	}
	if c.RefreshEndpoint == "" {
		c.RefreshEndpoint = d.RefreshEndpoint
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
}

// Validate rejects negative or zero intervals
func (c Config) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("%w: poll_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.RefreshTimeoutMs <= 0 {
		return fmt.Errorf("%w: refresh_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.ProactiveRefreshThresholdSeconds < 0 || c.WarningThresholdSeconds < 0 {
		return fmt.Errorf("%w: thresholds must not be negative", ErrInvalidConfig)
	}
	if c.WarningDisplayDurationMs < 0 || c.ForcedLogoutDelayMs < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) ProactiveRefreshThreshold() time.Duration {
	return time.Duration(c.ProactiveRefreshThresholdSeconds) * time.Second
}

func (c Config) WarningThreshold() time.Duration {
	return time.Duration(c.WarningThresholdSeconds) * time.Second
}

func (c Config) WarningDisplayDuration() time.Duration {
	return time.Duration(c.WarningDisplayDurationMs) * time.Millisecond
}

func (c Config) ForcedLogoutDelay() time.Duration {
	return time.Duration(c.ForcedLogoutDelayMs) * time.Millisecond
}

func (c Config) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutMs) * time.Millisecond
}

// MustLoad is Load that panics on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration: explicit path, then CONFIG_PATH, then
// ./tokenlife.yaml, then the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
		return &cfg, nil
	}

	var (
		loaded *Config
		err    error
	)
	switch {
	case path != "":
		loaded, err = read(path)
	case os.Getenv("CONFIG_PATH") != "":
		loaded, err = read(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat(DefaultConfigFile); statErr == nil {
			loaded, err = read(DefaultConfigFile)
		} else if envErr := cleanenv.ReadEnv(&cfg); envErr != nil {
			err = fmt.Errorf("failed to read env: %w", envErr)
		} else {
			loaded = &cfg
		}
	}
	if err != nil {
		return nil, err
	}

	loaded.EnsureDefaults()
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}
