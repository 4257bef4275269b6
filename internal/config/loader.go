package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Klingefjord/chatgpt-telegram/internal/auth"
	"github.com/Klingefjord/chatgpt-telegram/internal/schedule"
	"github.com/Klingefjord/chatgpt-telegram/internal/store"
)

// ValidLLMNames lists the LLM provider names that ship with the binary.
// Used by [Validate] to warn about unrecognised provider names.
var ValidLLMNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLLMModel  = "gpt-4o-mini"
	DefaultRateLimit = 1.0
	DefaultRateBurst = 5
	DefaultLanguage  = "en"
	DefaultCountry   = "de"
)

// Lookup returns the value of an environment variable. [os.LookupEnv]
// satisfies it.
type Lookup func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides from env, fills defaults, and validates the result. An empty path
// skips the file and builds the configuration from env alone. A nil env means
// [os.LookupEnv].
func Load(path string, env Lookup) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""), env)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, env)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and runs the same override,
// default, and validation steps as [Load]. An empty document is allowed.
func LoadFromReader(r io.Reader, env Lookup) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if env == nil {
		env = os.LookupEnv
	}
	if err := ApplyEnv(cfg, env); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables the assistant has
// always been configured with. Set variables win over file values.
func ApplyEnv(cfg *Config, env Lookup) error {
	get := func(key string) (string, bool) {
		v, ok := env(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TELEGRAM_API_KEY"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("TELEGRAM_USER_ID"); ok {
		ids, err := auth.ParseIDs(v)
		if err != nil {
			return fmt.Errorf("config: TELEGRAM_USER_ID: %w", err)
		}
		cfg.Telegram.AllowedUserIDs = ids
	}
	if v, ok := get("OPENAI_API_KEY"); ok {
		if isOpenAI(cfg.Providers.LLM.Name) {
			cfg.Providers.LLM.APIKey = v
		}
		for i := range cfg.Providers.LLMFallbacks {
			fb := &cfg.Providers.LLMFallbacks[i]
			if fb.Name == "openai" && fb.APIKey == "" {
				fb.APIKey = v
			}
		}
	}
	if v, ok := get("SERP_API_KEY"); ok {
		cfg.Search.APIKey = v
	}
	if v, ok := get("MENDABLE_API_KEY"); ok {
		cfg.Backend.Mendable.APIKey = v
	}
	if v, ok := get("OPENAI_USERNAME"); ok {
		cfg.Backend.WebChat.Username = v
	}
	if v, ok := get("OPENAI_PASSWORD"); ok {
		cfg.Backend.WebChat.Password = v
	}
	if v, ok := get("DATABASE_URL"); ok {
		cfg.Store.DSN = v
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = store.DriverPostgres
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := get("TZ"); ok {
		cfg.Schedule.Timezone = v
	}
	return nil
}

// isOpenAI reports whether an LLM entry named name talks to OpenAI. An
// unnamed entry defaults to OpenAI.
func isOpenAI(name string) bool {
	return name == "" || name == "openai"
}

// ApplyDefaults fills zero values that have a sensible default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = DefaultRateLimit
	}
	if cfg.Telegram.RateBurst == 0 {
		cfg.Telegram.RateBurst = DefaultRateBurst
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendCompletion
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "openai"
	}
	if cfg.Providers.LLM.Name == "openai" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = DefaultLLMModel
	}
	if cfg.Search.Language == "" {
		cfg.Search.Language = DefaultLanguage
	}
	if cfg.Search.Country == "" {
		cfg.Search.Country = DefaultCountry
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = schedule.DefaultTimezone
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = store.DriverFile
	}
	if cfg.Resilience.LLM.Name == "" {
		cfg.Resilience.LLM.Name = cfg.Providers.LLM.Name
	}
	if cfg.Resilience.Search.Name == "" {
		cfg.Resilience.Search.Name = "serpapi"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Telegram
	if cfg.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required (or set TELEGRAM_API_KEY)"))
	}
	if len(cfg.Telegram.AllowedUserIDs) == 0 {
		slog.Warn("telegram.allowed_user_ids is empty; every message will be refused")
	}
	if cfg.Telegram.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("telegram.rate_limit %.2f must not be negative", cfg.Telegram.RateLimit))
	}
	if cfg.Telegram.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("telegram.rate_burst %d must not be negative", cfg.Telegram.RateBurst))
	}

	// Providers
	validateProvider("providers.llm", cfg.Providers.LLM, &errs)
	for i, fb := range cfg.Providers.LLMFallbacks {
		validateProvider(fmt.Sprintf("providers.llm_fallbacks[%d]", i), fb, &errs)
	}

	// Backend
	switch cfg.Backend.Kind {
	case BackendCompletion:
		c := cfg.Backend.Completion
		if c.Temperature < 0 || c.Temperature > 2 {
			errs = append(errs, fmt.Errorf("backend.completion.temperature %.2f is out of range [0, 2]", c.Temperature))
		}
		if c.MaxTokens < 0 || c.SummaryMaxTokens < 0 || c.BufferMaxLen < 0 {
			errs = append(errs, errors.New("backend.completion limits must not be negative"))
		}
	case BackendWebChat:
		w := cfg.Backend.WebChat
		if (w.Username == "") != (w.Password == "") {
			errs = append(errs, errors.New("backend.webchat.username and password must be set together"))
		}
		if w.Username == "" && w.UserDataDir == "" {
			slog.Warn("backend.webchat has no credentials and no user_data_dir; login will fail unless the profile is already signed in")
		}
		if w.MaxLoginAttempts < 0 {
			errs = append(errs, fmt.Errorf("backend.webchat.max_login_attempts %d must not be negative", w.MaxLoginAttempts))
		}
		if w.StepDelay < 0 || w.PollInterval < 0 || w.TypingInterval < 0 || w.Timeout < 0 {
			errs = append(errs, errors.New("backend.webchat durations must not be negative"))
		}
	case BackendMendable:
		if cfg.Backend.Mendable.APIKey == "" {
			errs = append(errs, errors.New("backend.mendable.api_key is required (or set MENDABLE_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.kind %q is invalid; valid values: completion, webchat, mendable", cfg.Backend.Kind))
	}

	// Search
	if cfg.Search.APIKey == "" {
		slog.Warn("search.api_key is empty; /browse will be unavailable")
	}

	// Schedule
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone %q: %w", cfg.Schedule.Timezone, err))
	}

	// Store
	switch cfg.Store.Driver {
	case store.DriverFile, store.DriverSQLite:
	case store.DriverPostgres:
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver (or set DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: file, sqlite, postgres", cfg.Store.Driver))
	}

	return errors.Join(errs...)
}

// validateProvider appends errors for a malformed entry and logs a warning
// if the name is not a built-in provider.
func validateProvider(field string, e ProviderEntry, errs *[]error) {
	if e.Name == "" {
		*errs = append(*errs, fmt.Errorf("%s.name is required", field))
		return
	}
	if e.Model == "" {
		*errs = append(*errs, fmt.Errorf("%s.model is required for provider %q", field, e.Name))
	}
	if !slices.Contains(ValidLLMNames, e.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"field", field,
			"name", e.Name,
			"known", ValidLLMNames,
		)
	}
}
