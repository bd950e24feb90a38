// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the application. It is populated from
// defaults, an optional config file, and ORDERMATE_* environment variables,
// in that order of precedence.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Site     SiteConfig     `mapstructure:"site" yaml:"site"`
	Oracle   OracleConfig   `mapstructure:"oracle" yaml:"oracle"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Flow     FlowConfig     `mapstructure:"flow" yaml:"flow"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Persona           string         `mapstructure:"persona" yaml:"persona"`
	BlockRetries      int            `mapstructure:"block_retries" yaml:"block_retries"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// SiteConfig pins the target storefront URLs. Everything else about the site
// is discovered at runtime from the live DOM.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	OrdersURL string `mapstructure:"orders_url" yaml:"orders_url"`
}

// OracleConfig configures the LLM that backs semantic element resolution.
type OracleConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	Model         string        `mapstructure:"model" yaml:"model"`
	APIKey        string        `mapstructure:"api_key" yaml:"-"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxCandidates int           `mapstructure:"max_candidates" yaml:"max_candidates"`
	MaxElements   int           `mapstructure:"max_elements" yaml:"max_elements"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// FlowConfig tunes the login/scrape/return state machine.
type FlowConfig struct {
	OTPTimeout       time.Duration `mapstructure:"otp_timeout" yaml:"otp_timeout"`
	MaxOrderPages    int           `mapstructure:"max_order_pages" yaml:"max_order_pages"`
	PopupAttempts    int           `mapstructure:"popup_attempts" yaml:"popup_attempts"`
	ReturnWindowDays int           `mapstructure:"return_window_days" yaml:"return_window_days"`
	ReminderLead     time.Duration `mapstructure:"reminder_lead" yaml:"reminder_lead"`
	StepTimeout      time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "ordermate")
	v.SetDefault("logger.log_file", "ordermate.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.persona", "")
	v.SetDefault("browser.block_retries", 1)
	setHumanoidDefaults(v)

	// -- Site --
	v.SetDefault("site.base_url", "https://www.ajio.com")
	v.SetDefault("site.orders_url", "https://www.ajio.com/my-account/orders")

	// -- Oracle --
	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.provider", "gemini")
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("oracle.api_timeout", "45s")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.max_candidates", 3)
	v.SetDefault("oracle.max_elements", 120)

	// -- Flow --
	v.SetDefault("flow.otp_timeout", "3m")
	v.SetDefault("flow.max_order_pages", 10)
	v.SetDefault("flow.popup_attempts", 3)
	v.SetDefault("flow.return_window_days", 7)
	v.SetDefault("flow.reminder_lead", "48h")
	v.SetDefault("flow.step_timeout", "60s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("oracle.api_key", "ORDERMATE_ORACLE_API_KEY")
	v.BindEnv("database.url", "ORDERMATE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.Oracle.Enabled && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("ORDERMATE_ORACLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if c.Flow.MaxOrderPages <= 0 {
		return fmt.Errorf("flow.max_order_pages must be a positive integer")
	}
	if c.Flow.PopupAttempts <= 0 {
		return fmt.Errorf("flow.popup_attempts must be a positive integer")
	}
	if c.Flow.ReturnWindowDays <= 0 {
		return fmt.Errorf("flow.return_window_days must be a positive integer")
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle configuration invalid: %w", err)
	}
	if err := c.Browser.Humanoid.Validate(); err != nil {
		return fmt.Errorf("browser.humanoid configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the Oracle configuration.
func (o *OracleConfig) Validate() error {
	if !o.Enabled {
		return nil
	}
	if o.Model == "" {
		return fmt.Errorf("model is required when the oracle is enabled")
	}
	if o.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be greater than 0")
	}
	if o.Temperature < 0.0 || o.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
