package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds crawler configuration.
type Config struct {
	Crawl     CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Selectors SelectorConfig `yaml:"selectors" mapstructure:"selectors"`
	LLM       LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Backoff   BackoffConfig  `yaml:"backoff" mapstructure:"backoff"`
	Store     StoreConfig    `yaml:"store" mapstructure:"store"`
	Server    ServerConfig   `yaml:"server" mapstructure:"server"`
	Log       LogConfig      `yaml:"log" mapstructure:"log"`
}

// CrawlConfig configures listing traversal.
type CrawlConfig struct {
	SearchURL       string        `yaml:"search_url" mapstructure:"search_url"`
	KeywordParam    string        `yaml:"keyword_param" mapstructure:"keyword_param"`
	PageParam       string        `yaml:"page_param" mapstructure:"page_param"`
	DefaultKeyword  string        `yaml:"default_keyword" mapstructure:"default_keyword"`
	MaxPages        int           `yaml:"max_pages" mapstructure:"max_pages"` // 0 = follow "next" until it disappears
	ExtractionDelay time.Duration `yaml:"extraction_delay" mapstructure:"extraction_delay"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
	Browser         string        `yaml:"browser" mapstructure:"browser"` // colly or chrome
	Headless        bool          `yaml:"headless" mapstructure:"headless"`
	DetailCacheSize int           `yaml:"detail_cache_size" mapstructure:"detail_cache_size"`
}

// SelectorConfig holds the CSS selectors the crawler depends on.
type SelectorConfig struct {
	Item   string `yaml:"item" mapstructure:"item"`
	Link   string `yaml:"link" mapstructure:"link"`
	Next   string `yaml:"next" mapstructure:"next"`
	Detail string `yaml:"detail" mapstructure:"detail"`
}

// LLMConfig configures the completion backend used for extraction.
type LLMConfig struct {
	Provider            string        `yaml:"provider" mapstructure:"provider"` // groq or anthropic
	APIKey              string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL             string        `yaml:"base_url" mapstructure:"base_url"`
	Model               string        `yaml:"model" mapstructure:"model"`
	Temperature         float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens           int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxFragmentChars    int           `yaml:"max_fragment_chars" mapstructure:"max_fragment_chars"`
	BatchSize           int           `yaml:"batch_size" mapstructure:"batch_size"`
	TransientRetries    int           `yaml:"transient_retries" mapstructure:"transient_retries"`
	TransientRetryDelay time.Duration `yaml:"transient_retry_delay" mapstructure:"transient_retry_delay"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BackoffConfig bounds the rate-limit retry loop.
type BackoffConfig struct {
	DefaultWait time.Duration `yaml:"default_wait" mapstructure:"default_wait"`
	MaxWait     time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StoreConfig configures persisted state.
type StoreConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	RunsDSN string `yaml:"runs_dsn" mapstructure:"runs_dsn"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level            string        `yaml:"level" mapstructure:"level"`
	Format           string        `yaml:"format" mapstructure:"format"`
	ProgressInterval time.Duration `yaml:"progress_interval" mapstructure:"progress_interval"` // 0 disables pipeline progress logs
}

// DefaultConfig returns defaults for the eBay search target.
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			SearchURL:       "https://www.ebay.com/sch/i.html",
			KeywordParam:    "_nkw",
			PageParam:       "_pgn",
			DefaultKeyword:  "nike",
			MaxPages:        0,
			ExtractionDelay: 4 * time.Second,
			Timeout:         60 * time.Second,
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
			Browser:         "colly",
			Headless:        true,
			DetailCacheSize: 256,
		},
		Selectors: SelectorConfig{
			Item:   ".s-item",
			Link:   "a.s-item__link",
			Next:   ".pagination__next",
			Detail: "#viTabs_0_is table, .itemAttr",
		},
		LLM: LLMConfig{
			Provider:            "groq",
			BaseURL:             "",
			Model:               "llama3-8b-8192",
			Temperature:         0.2,
			MaxTokens:           2048,
			MaxFragmentChars:    10000,
			BatchSize:           1,
			TransientRetries:    3,
			TransientRetryDelay: 3 * time.Second,
			Timeout:             60 * time.Second,
		},
		Backoff: BackoffConfig{
			DefaultWait: 5 * time.Second,
			MaxWait:     60 * time.Second,
			MaxAttempts: 10,
		},
		Store: StoreConfig{
			Path:    "output/results.json",
			RunsDSN: "output/runs.db",
		},
		Server: ServerConfig{
			Port: 3000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from an optional file and the environment.
// An empty path looks for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "SCRAPER_LLM_API_KEY", "GROQ_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind api key env")
	}

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("crawl.search_url", d.Crawl.SearchURL)
	v.SetDefault("crawl.keyword_param", d.Crawl.KeywordParam)
	v.SetDefault("crawl.page_param", d.Crawl.PageParam)
	v.SetDefault("crawl.default_keyword", d.Crawl.DefaultKeyword)
	v.SetDefault("crawl.max_pages", d.Crawl.MaxPages)
	v.SetDefault("crawl.extraction_delay", d.Crawl.ExtractionDelay)
	v.SetDefault("crawl.timeout", d.Crawl.Timeout)
	v.SetDefault("crawl.user_agent", d.Crawl.UserAgent)
	v.SetDefault("crawl.browser", d.Crawl.Browser)
	v.SetDefault("crawl.headless", d.Crawl.Headless)
	v.SetDefault("crawl.detail_cache_size", d.Crawl.DetailCacheSize)

	v.SetDefault("selectors.item", d.Selectors.Item)
	v.SetDefault("selectors.link", d.Selectors.Link)
	v.SetDefault("selectors.next", d.Selectors.Next)
	v.SetDefault("selectors.detail", d.Selectors.Detail)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.max_fragment_chars", d.LLM.MaxFragmentChars)
	v.SetDefault("llm.batch_size", d.LLM.BatchSize)
	v.SetDefault("llm.transient_retries", d.LLM.TransientRetries)
	v.SetDefault("llm.transient_retry_delay", d.LLM.TransientRetryDelay)
	v.SetDefault("llm.timeout", d.LLM.Timeout)

	v.SetDefault("backoff.default_wait", d.Backoff.DefaultWait)
	v.SetDefault("backoff.max_wait", d.Backoff.MaxWait)
	v.SetDefault("backoff.max_attempts", d.Backoff.MaxAttempts)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.runs_dsn", d.Store.RunsDSN)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.progress_interval", d.Log.ProgressInterval)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Crawl.SearchURL == "" {
		return eris.New("search URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.Crawl.SearchURL)
	if err != nil {
		return eris.Wrap(err, "invalid search URL")
	}
	if parsedURL.Host == "" {
		return eris.New("search URL must include a host")
	}
	if c.Crawl.KeywordParam == "" || c.Crawl.PageParam == "" {
		return eris.New("keyword and page query params cannot be empty")
	}
	if c.Crawl.MaxPages < 0 {
		return eris.New("max pages cannot be negative")
	}
	if c.Crawl.ExtractionDelay < 0 {
		return eris.New("extraction delay cannot be negative")
	}
	if c.Crawl.Timeout <= 0 {
		return eris.New("crawl timeout must be positive")
	}
	if c.Crawl.UserAgent == "" {
		return eris.New("user agent cannot be empty")
	}
	if c.Crawl.Browser != "colly" && c.Crawl.Browser != "chrome" {
		return eris.New("browser must be colly or chrome")
	}
	if c.Selectors.Item == "" || c.Selectors.Next == "" || c.Selectors.Detail == "" {
		return eris.New("item, next and detail selectors are required")
	}

	if c.LLM.Provider != "groq" && c.LLM.Provider != "anthropic" {
		return eris.New("llm provider must be groq or anthropic")
	}
	if c.LLM.Model == "" {
		return eris.New("llm model cannot be empty")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return eris.Errorf("llm temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return eris.New("llm max tokens must be positive")
	}
	if c.LLM.MaxFragmentChars <= 0 {
		return eris.New("llm max fragment chars must be positive")
	}
	if c.LLM.BatchSize <= 0 {
		return eris.New("llm batch size must be positive")
	}
	if c.LLM.TransientRetries < 0 {
		return eris.New("llm transient retries cannot be negative")
	}
	if c.LLM.TransientRetryDelay < 0 {
		return eris.New("llm transient retry delay cannot be negative")
	}

	if c.Backoff.DefaultWait <= 0 {
		return eris.New("backoff default wait must be positive")
	}
	if c.Backoff.MaxWait < c.Backoff.DefaultWait {
		return eris.Errorf("backoff max wait (%s) cannot be below default wait (%s)", c.Backoff.MaxWait, c.Backoff.DefaultWait)
	}
	if c.Backoff.MaxAttempts <= 0 {
		return eris.New("backoff max attempts must be positive")
	}

	if c.Store.Path == "" {
		return eris.New("store path cannot be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return eris.Errorf("server port %d out of range", c.Server.Port)
	}

	return nil
}

// RequireAPIKey reports a missing completion API key.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return eris.Errorf("llm api key is not set (SCRAPER_LLM_API_KEY or the %s provider key)", c.LLM.Provider)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
