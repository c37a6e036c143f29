// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Explorer ExplorerConfig `mapstructure:"explorer" yaml:"explorer"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
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

// Browser drivers.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Driver          string         `mapstructure:"driver" yaml:"driver"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// InstallPlaywright downloads the playwright browsers on first use.
	InstallPlaywright bool `mapstructure:"install_playwright" yaml:"install_playwright"`
}

// NetworkConfig tunes page loading.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ActionTimeout     time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// ExplorerConfig bounds a single exploration session.
type ExplorerConfig struct {
	MaxPages          int           `mapstructure:"max_pages" yaml:"max_pages"`
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepDelay         time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	Goal              string        `mapstructure:"goal" yaml:"goal"`
	HistoryWindow     int           `mapstructure:"history_window" yaml:"history_window"`
	IncludeSubdomains bool          `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	Screenshots       bool          `mapstructure:"screenshots" yaml:"screenshots"`
	EmbedSnapshots    bool          `mapstructure:"embed_snapshots" yaml:"embed_snapshots"`
	// Parallel caps concurrent sessions for batch runs and the HTTP server.
	Parallel int `mapstructure:"parallel" yaml:"parallel"`
}

// SnapshotConfig bounds the size of a page snapshot.
type SnapshotConfig struct {
	MaxElementText    int    `mapstructure:"max_element_text" yaml:"max_element_text"`
	MaxElements       int    `mapstructure:"max_elements" yaml:"max_elements"`
	MaxMarkupTokens   int    `mapstructure:"max_markup_tokens" yaml:"max_markup_tokens"`
	TokenizerEncoding string `mapstructure:"tokenizer_encoding" yaml:"tokenizer_encoding"`
}

// AgentConfig holds settings related to the decision oracle.
type AgentConfig struct {
	LLM           LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	OracleTimeout time.Duration   `mapstructure:"oracle_timeout" yaml:"oracle_timeout"`
	// RateLimit is the sustained number of oracle calls per second; Burst the bucket size.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ReportConfig controls where and how session reports are written.
type ReportConfig struct {
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir"`
	Recommendations bool   `mapstructure:"recommendations" yaml:"recommendations"`
}

// StoreConfig holds the optional report database connection.
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "webprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	v.SetDefault("browser.install_playwright", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "500ms")
	v.SetDefault("network.action_timeout", "5s")

	// -- Explorer --
	v.SetDefault("explorer.max_pages", 10)
	v.SetDefault("explorer.max_steps", 15)
	v.SetDefault("explorer.step_delay", "1s")
	v.SetDefault("explorer.settle_delay", "500ms")
	v.SetDefault("explorer.settle_timeout", "10s")
	v.SetDefault("explorer.goal", "Explore the site like a curious first-time user and note anything broken.")
	v.SetDefault("explorer.history_window", 5)
	v.SetDefault("explorer.include_subdomains", false)
	v.SetDefault("explorer.screenshots", true)
	v.SetDefault("explorer.embed_snapshots", false)
	v.SetDefault("explorer.parallel", 2)

	// -- Snapshot --
	v.SetDefault("snapshot.max_element_text", 100)
	v.SetDefault("snapshot.max_elements", 150)
	v.SetDefault("snapshot.max_markup_tokens", 3000)
	v.SetDefault("snapshot.tokenizer_encoding", "cl100k_base")

	// -- Agent --
	v.SetDefault("agent.oracle_timeout", "30s")
	v.SetDefault("agent.rate_limit", 1.0)
	v.SetDefault("agent.burst", 2)
	v.SetDefault("agent.llm.default_fast_model", "gemini-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-pro")
	v.SetDefault("agent.llm.models", map[string]interface{}{
		"gemini-flash": map[string]interface{}{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-flash",
			"api_timeout": "60s",
			"temperature": 0.2,
		},
		"gemini-pro": map[string]interface{}{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-pro",
			"api_timeout": "120s",
			"temperature": 0.2,
		},
	})

	// -- Report --
	v.SetDefault("report.output_dir", "./webprobe-reports")
	v.SetDefault("report.recommendations", true)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("store.database_url", "WEBPROBE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.resolveAPIKeys()

	expanded, err := homedir.Expand(cfg.Report.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("could not expand report.output_dir: %w", err)
	}
	cfg.Report.OutputDir = expanded

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// resolveAPIKeys fills missing model keys from the provider's conventional env var.
func (c *Config) resolveAPIKeys() {
	for name, m := range c.Agent.LLM.Models {
		if m.APIKey != "" {
			continue
		}
		switch m.Provider {
		case ProviderGemini:
			m.APIKey = firstEnv("WEBPROBE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
		case ProviderOpenAI:
			m.APIKey = firstEnv("WEBPROBE_OPENAI_API_KEY", "OPENAI_API_KEY")
		}
		c.Agent.LLM.Models[name] = m
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverPlaywright, c.Browser.Driver)
	}
	if err := c.Explorer.Validate(); err != nil {
		return fmt.Errorf("explorer configuration invalid: %w", err)
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Agent.OracleTimeout <= 0 {
		return fmt.Errorf("agent.oracle_timeout must be a positive duration")
	}
	if c.Snapshot.MaxElementText <= 0 {
		return fmt.Errorf("snapshot.max_element_text must be a positive integer")
	}
	for name, m := range c.Agent.LLM.Models {
		if m.Provider != ProviderGemini && m.Provider != ProviderOpenAI {
			return fmt.Errorf("agent.llm.models.%s: unsupported provider %q", name, m.Provider)
		}
	}
	return nil
}

// Validate checks the per-session bounds.
func (e *ExplorerConfig) Validate() error {
	if e.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	if e.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if e.StepDelay < 0 || e.SettleDelay < 0 {
		return fmt.Errorf("step_delay and settle_delay must not be negative")
	}
	if e.SettleTimeout <= 0 {
		return fmt.Errorf("settle_timeout must be a positive duration")
	}
	if e.Parallel <= 0 {
		return fmt.Errorf("parallel must be a positive integer")
	}
	return nil
}
