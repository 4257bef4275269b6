package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/config"
)

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Telegram:  config.TelegramConfig{Token: "from-file"},
		Providers: config.ProvidersConfig{LLMFallbacks: []config.ProviderEntry{{Name: "openai"}, {Name: "groq"}}},
	}
	err := config.ApplyEnv(cfg, env(map[string]string{
		"TELEGRAM_API_KEY": "from-env",
		"TELEGRAM_USER_ID": "1, 2",
		"OPENAI_API_KEY":   "sk-env",
		"SERP_API_KEY":     "serp",
		"MENDABLE_API_KEY": "mend",
		"OPENAI_USERNAME":  "ada",
		"OPENAI_PASSWORD":  "pw",
		"DATABASE_URL":     "postgres://localhost/lydia",
		"LOG_LEVEL":        "WARN",
		"TZ":               "UTC",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Telegram.Token != "from-env" {
		t.Errorf("token: got %q", cfg.Telegram.Token)
	}
	if !slices.Equal(cfg.Telegram.AllowedUserIDs, []int64{1, 2}) {
		t.Errorf("allowed ids: got %v", cfg.Telegram.AllowedUserIDs)
	}
	if cfg.Providers.LLM.APIKey != "sk-env" {
		t.Errorf("llm api key: got %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.LLMFallbacks[0].APIKey != "sk-env" || cfg.Providers.LLMFallbacks[1].APIKey != "" {
		t.Errorf("fallback keys: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Search.APIKey != "serp" || cfg.Backend.Mendable.APIKey != "mend" {
		t.Errorf("api keys: search %q mendable %q", cfg.Search.APIKey, cfg.Backend.Mendable.APIKey)
	}
	if cfg.Backend.WebChat.Username != "ada" || cfg.Backend.WebChat.Password != "pw" {
		t.Errorf("webchat credentials: got %+v", cfg.Backend.WebChat)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/lydia" {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Schedule.Timezone != "UTC" {
		t.Errorf("timezone: got %q", cfg.Schedule.Timezone)
	}
}

func TestApplyEnv_OpenAIKeyIgnoredForOtherProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "anthropic", APIKey: "sk-ant"}}}
	if err := config.ApplyEnv(cfg, env(map[string]string{"OPENAI_API_KEY": "sk-oai"})); err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.LLM.APIKey != "sk-ant" {
		t.Errorf("api key overwritten: %q", cfg.Providers.LLM.APIKey)
	}
}

func TestApplyEnv_BadUserID(t *testing.T) {
	t.Parallel()

	err := config.ApplyEnv(&config.Config{}, env(map[string]string{"TELEGRAM_USER_ID": "ada"}))
	if err == nil || !strings.Contains(err.Error(), "TELEGRAM_USER_ID") {
		t.Errorf("ApplyEnv() error = %v, want TELEGRAM_USER_ID error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "tls needs both files",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "negative rate",
			yaml:    "telegram:\n  rate_limit: -1\n",
			wantErr: "rate_limit",
		},
		{
			name:    "unknown backend",
			yaml:    "backend:\n  kind: carrier-pigeon\n",
			wantErr: "backend.kind",
		},
		{
			name:    "mendable needs key",
			yaml:    "backend:\n  kind: mendable\n",
			wantErr: "backend.mendable.api_key",
		},
		{
			name:    "webchat credentials together",
			yaml:    "backend:\n  kind: webchat\n  webchat:\n    username: ada\n",
			wantErr: "username and password",
		},
		{
			name:    "webchat negative step delay",
			yaml:    "backend:\n  kind: webchat\n  webchat:\n    step_delay: -1s\n",
			wantErr: "backend.webchat durations",
		},
		{
			name:    "temperature range",
			yaml:    "backend:\n  completion:\n    temperature: 3\n",
			wantErr: "temperature",
		},
		{
			name:    "non-openai provider needs model",
			yaml:    "providers:\n  llm:\n    name: anthropic\n",
			wantErr: "providers.llm.model",
		},
		{
			name:    "fallback needs name",
			yaml:    "providers:\n  llm_fallbacks:\n    - model: x\n",
			wantErr: "providers.llm_fallbacks[0].name",
		},
		{
			name:    "bad timezone",
			yaml:    "schedule:\n  timezone: Mars/Olympus_Mons\n",
			wantErr: "schedule.timezone",
		},
		{
			name:    "postgres needs dsn",
			yaml:    "store:\n  driver: postgres\n",
			wantErr: "store.dsn",
		},
		{
			name:    "unknown store driver",
			yaml:    "store:\n  driver: redis\n",
			wantErr: "store.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml), env(minimal))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_TokenRequired(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(""), env(nil))
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Errorf("error = %v, want telegram.token error", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
store:
  driver: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml), env(nil))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "telegram.token", "store.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_WebChatSelectors(t *testing.T) {
	t.Parallel()

	const doc = `
backend:
  kind: webchat
  webchat:
    step_delay: 250ms
    screenshot_dir: /tmp/shots
    selectors:
      input: "#prompt"
      streaming: ".typing"
      done_text: Finish
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc), env(minimal))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	w := cfg.Backend.WebChat
	if w.StepDelay != 250*time.Millisecond {
		t.Errorf("step_delay = %v, want 250ms", w.StepDelay)
	}
	if w.ScreenshotDir != "/tmp/shots" {
		t.Errorf("screenshot_dir = %q", w.ScreenshotDir)
	}
	if w.Selectors.Input != "#prompt" || w.Selectors.Streaming != ".typing" || w.Selectors.DoneText != "Finish" {
		t.Errorf("selectors = %+v", w.Selectors)
	}
	if w.Selectors.Response != "" {
		t.Errorf("unset selector response = %q, want empty so the default applies", w.Selectors.Response)
	}
}
