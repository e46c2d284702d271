package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix for every setting, e.g.
// LLMSCRAPE_SERVER_PORT or LLMSCRAPE_LLM_MODEL.
const Prefix = "LLMSCRAPE"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Browser   BrowserConfig   `envconfig:"BROWSER"`
	Renderer  RendererConfig  `envconfig:"RENDERER"`
	LLM       LLMConfig       `envconfig:"LLM"`
	Cleaner   CleanerConfig   `envconfig:"CLEANER"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	RateLimit RateLimitConfig `envconfig:"RATE"`
	Log       LogConfig       `envconfig:"LOG"`
	Download  DownloadConfig  `envconfig:"DOWNLOAD"`

	// RootDir anchors relative paths such as the log file and job outputs.
	RootDir string `envconfig:"ROOT_DIR" default:"."`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8080"`
	Mode string `envconfig:"MODE" default:"release"` // "debug", "release", "test"

	// RequestTimeout bounds one whole scrape request, navigation retries included.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5m"`
}

// BrowserConfig controls the browser session the renderer drives.
type BrowserConfig struct {
	// Driver selects the automation library: "rod" or "chromedp".
	Driver string `envconfig:"DRIVER" default:"rod"`

	Headless  bool   `envconfig:"HEADLESS" default:"true"`
	NoSandbox bool   `envconfig:"NO_SANDBOX" default:"false"` // needed in Docker
	Bin       string `envconfig:"BIN"`
	Proxy     string `envconfig:"PROXY"`
	Stealth   bool   `envconfig:"STEALTH" default:"true"`
	UserAgent string `envconfig:"USER_AGENT"`

	// BlockedResourceTypes lists resource types the page never loads.
	BlockedResourceTypes []string `envconfig:"BLOCKED_RESOURCES" default:"Image,Font,Media"`
	BlockAds             bool     `envconfig:"BLOCK_ADS" default:"true"`

	// Headers are sent with every request, as "Name:Value" pairs.
	Headers map[string]string `envconfig:"HEADERS"`
}

// RendererConfig controls navigation retry and scrolling.
type RendererConfig struct {
	NavigationAttempts int           `envconfig:"NAV_ATTEMPTS" default:"3"`
	NavigationMinDelay time.Duration `envconfig:"NAV_MIN_DELAY" default:"10s"`
	NavigationMaxDelay time.Duration `envconfig:"NAV_MAX_DELAY" default:"60s"`
	NavigationTimeout  time.Duration `envconfig:"NAV_TIMEOUT" default:"30s"`

	ScrollInterval      time.Duration `envconfig:"SCROLL_INTERVAL" default:"2s"`
	MaxScrollIterations int           `envconfig:"MAX_SCROLL_ITERATIONS" default:"50"`

	// RemoveOverlays strips cookie banners and popups before reading the page.
	RemoveOverlays bool `envconfig:"REMOVE_OVERLAYS" default:"false"`

	// LogHTML logs every page's full HTML at debug level.
	LogHTML bool `envconfig:"LOG_HTML" default:"false"`
}

// LLMConfig controls the model endpoint and how it is invoked.
type LLMConfig struct {
	// Style is "chat" or "instruct". Ignored when Preset is set.
	Style string `envconfig:"STYLE" default:"chat"`

	// Preset names a local instruct model (llama2, mistral, mistral-instruct).
	Preset string `envconfig:"PRESET"`

	BaseURL     string  `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	APIKey      string  `envconfig:"API_KEY"`
	Model       string  `envconfig:"MODEL" default:"gpt-4o-mini"`
	Temperature float32 `envconfig:"TEMPERATURE" default:"0"`
	JSONMode    bool    `envconfig:"JSON_MODE" default:"true"`

	Timeout  time.Duration `envconfig:"TIMEOUT" default:"60s"`
	Attempts int           `envconfig:"ATTEMPTS" default:"3"`
	MinDelay time.Duration `envconfig:"MIN_DELAY" default:"1s"`
	MaxDelay time.Duration `envconfig:"MAX_DELAY" default:"20s"`

	MaxTextTokens   int `envconfig:"MAX_TEXT_TOKENS" default:"0"`
	MaxOutputTokens int `envconfig:"MAX_OUTPUT_TOKENS" default:"1024"`

	// MaxParseAttempts is how many times a model is asked before an
	// unparseable reply becomes terminal.
	MaxParseAttempts int `envconfig:"MAX_PARSE_ATTEMPTS" default:"1"`

	CacheEntries int           `envconfig:"CACHE_ENTRIES" default:"256"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

// CleanerConfig controls how page text is produced.
type CleanerConfig struct {
	Mode     string `envconfig:"MODE" default:"text"` // "text", "readability", "markdown"
	Selector string `envconfig:"SELECTOR"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     `envconfig:"ENABLED" default:"false"`
	APIKeys []string `envconfig:"API_KEYS"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RPS" default:"1"`
	Burst             int     `envconfig:"BURST" default:"2"`
}

// DownloadConfig controls the artifact downloader used by job files.
type DownloadConfig struct {
	Attempts int           `envconfig:"ATTEMPTS" default:"3"`
	MinDelay time.Duration `envconfig:"MIN_DELAY" default:"1s"`
	MaxDelay time.Duration `envconfig:"MAX_DELAY" default:"20s"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"5m"`

	// Fingerprint dials TLS with a Chrome ClientHello.
	Fingerprint bool   `envconfig:"FINGERPRINT" default:"true"`
	Dir         string `envconfig:"DIR" default:"downloads"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
	JSON  bool   `envconfig:"JSON" default:"false"`

	// File receives every record at debug level as JSON. Empty disables it.
	File    string `envconfig:"FILE" default:".logs/scraper.log"`
	Replace bool   `envconfig:"REPLACE" default:"false"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}
	switch c.LLM.Style {
	case "chat", "instruct":
	default:
		return fmt.Errorf("unknown llm style %q", c.LLM.Style)
	}
	switch c.Cleaner.Mode {
	case "text", "readability", "markdown":
	default:
		return fmt.Errorf("unknown cleaner mode %q", c.Cleaner.Mode)
	}
	if c.Renderer.NavigationAttempts < 1 {
		return errors.New("navigation attempts must be at least 1")
	}
	if c.LLM.Attempts < 1 {
		return errors.New("llm attempts must be at least 1")
	}
	if c.LLM.MaxParseAttempts < 1 {
		return errors.New("llm parse attempts must be at least 1")
	}
	if c.Renderer.NavigationMinDelay > c.Renderer.NavigationMaxDelay {
		return errors.New("navigation min delay exceeds max delay")
	}
	if c.LLM.MinDelay > c.LLM.MaxDelay {
		return errors.New("llm min delay exceeds max delay")
	}
	if c.Download.Attempts < 1 {
		return errors.New("download attempts must be at least 1")
	}
	return nil
}
