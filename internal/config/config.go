// Package config provides the configuration schema, loader, and provider registry
// for the Lydia assistant.
package config

import (
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/backend/webchat"
	"github.com/Klingefjord/chatgpt-telegram/internal/resilience"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendKind selects which conversational backend serves each session.
type BackendKind string

const (
	// BackendCompletion calls a hosted completion API through providers.llm.
	BackendCompletion BackendKind = backend.KindCompletion

	// BackendWebChat drives a chat web page through headless Chrome.
	BackendWebChat BackendKind = backend.KindWebChat

	// BackendMendable calls the Mendable hosted Q&A API.
	BackendMendable BackendKind = backend.KindMendable
)

// IsValid reports whether k is a recognised backend kind.
func (k BackendKind) IsValid() bool {
	switch k {
	case BackendCompletion, BackendWebChat, BackendMendable:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Backend    BackendConfig    `yaml:"backend"`
	Search     SearchConfig     `yaml:"search"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Store      StoreConfig      `yaml:"store"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds the HTTP listener (metrics and health probes) and
// logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics/health server (e.g., ":9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TelegramConfig configures the bot connection and who may use it.
type TelegramConfig struct {
	// Token is the bot token issued by BotFather.
	Token string `yaml:"token"`

	// AllowedUserIDs lists the Telegram user IDs allowed to talk to the bot.
	// An empty list denies everyone.
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`

	// Endpoint overrides the Bot API URL template.
	Endpoint string `yaml:"endpoint"`

	// Debug logs every Bot API request.
	Debug bool `yaml:"debug"`

	// RateLimit is the sustained per-user message rate, in messages per second.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the per-user burst size.
	RateBurst int `yaml:"rate_burst"`
}

// ProvidersConfig declares the language-model providers. Each entry selects
// a named factory registered in the [Registry].
type ProvidersConfig struct {
	// LLM is the primary provider for replies and summaries.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// BackendConfig selects and configures the conversational backend.
type BackendConfig struct {
	Kind       BackendKind      `yaml:"kind"`
	Completion CompletionConfig `yaml:"completion"`
	WebChat    WebChatConfig    `yaml:"webchat"`
	Mendable   MendableConfig   `yaml:"mendable"`
}

// CompletionConfig tunes the completion backend and its summarising memory.
type CompletionConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// BufferMaxLen is the memory buffer length that triggers summarisation.
	BufferMaxLen int `yaml:"buffer_max_len"`

	// SummaryMaxTokens caps the length of generated summaries.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`
}

// WebChatConfig configures the browser-driven backend.
type WebChatConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ShowBrowser runs Chrome with a visible window instead of headless.
	ShowBrowser bool `yaml:"show_browser"`

	// UserDataDir keeps the browser profile (and login cookies) between runs.
	UserDataDir string `yaml:"user_data_dir"`
	UserAgent   string `yaml:"user_agent"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	TypingInterval time.Duration `yaml:"typing_interval"`
	Timeout        time.Duration `yaml:"timeout"`

	MaxLoginAttempts int `yaml:"max_login_attempts"`

	// StepDelay is the pause between login form steps.
	StepDelay time.Duration `yaml:"step_delay"`

	// ScreenshotDir receives screenshots of failed logins. Empty means
	// UserDataDir.
	ScreenshotDir string `yaml:"screenshot_dir"`

	// Selectors overrides individual page selectors and button captions.
	// Empty entries keep the built-in defaults.
	Selectors webchat.Selectors `yaml:"selectors"`
}

// MendableConfig configures the Mendable backend.
type MendableConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SearchConfig configures the SerpAPI client used by /browse.
type SearchConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// Language and Country are the hl and gl search parameters.
	Language string `yaml:"language"`
	Country  string `yaml:"country"`
}

// ScheduleConfig configures reminders.
type ScheduleConfig struct {
	// Timezone is an IANA zone name used to read reminder times.
	Timezone string `yaml:"timezone"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	// Driver is one of "file", "sqlite", or "postgres".
	Driver string `yaml:"driver"`

	// Path is the file location for the file and sqlite drivers.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// ResilienceConfig tunes the circuit breakers around external calls.
type ResilienceConfig struct {
	LLM    resilience.CircuitBreakerConfig `yaml:"llm"`
	Search resilience.CircuitBreakerConfig `yaml:"search"`
}
