package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/config"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

telegram:
  token: "123:abc"
  allowed_user_ids: [42, 7]
  rate_limit: 0.5
  rate_burst: 3

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  llm_fallbacks:
    - name: anthropic
      model: claude-3-5-haiku-latest

backend:
  kind: webchat
  webchat:
    username: ada@example.com
    password: hunter2
    poll_interval: 250ms
    timeout: 2m

search:
  api_key: serp-test

schedule:
  timezone: Asia/Tokyo

store:
  driver: sqlite
  path: /var/lib/lydia/lydia.db

resilience:
  llm:
    max_failures: 2
    reset_timeout: 10s
`

// env returns a Lookup backed by m.
func env(m map[string]string) config.Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// minimal is the smallest environment that passes validation.
var minimal = map[string]string{"TELEGRAM_API_KEY": "123:abc"}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML), env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if got := cfg.Telegram.AllowedUserIDs; len(got) != 2 || got[0] != 42 || got[1] != 7 {
		t.Errorf("telegram.allowed_user_ids: got %v", got)
	}
	if cfg.Telegram.RateLimit != 0.5 || cfg.Telegram.RateBurst != 3 {
		t.Errorf("telegram rate: got %v/%d", cfg.Telegram.RateLimit, cfg.Telegram.RateBurst)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "anthropic" {
		t.Errorf("providers.llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Backend.Kind != config.BackendWebChat {
		t.Errorf("backend.kind: got %q", cfg.Backend.Kind)
	}
	if cfg.Backend.WebChat.PollInterval != 250*time.Millisecond {
		t.Errorf("backend.webchat.poll_interval: got %v", cfg.Backend.WebChat.PollInterval)
	}
	if cfg.Backend.WebChat.Timeout != 2*time.Minute {
		t.Errorf("backend.webchat.timeout: got %v", cfg.Backend.WebChat.Timeout)
	}
	if cfg.Schedule.Timezone != "Asia/Tokyo" {
		t.Errorf("schedule.timezone: got %q", cfg.Schedule.Timezone)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/var/lib/lydia/lydia.db" {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.Resilience.LLM.MaxFailures != 2 || cfg.Resilience.LLM.ResetTimeout != 10*time.Second {
		t.Errorf("resilience.llm: got %+v", cfg.Resilience.LLM)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""), env(minimal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		field, got, want string
	}{
		{"server.log_level", string(cfg.Server.LogLevel), "info"},
		{"backend.kind", string(cfg.Backend.Kind), "completion"},
		{"providers.llm.name", cfg.Providers.LLM.Name, "openai"},
		{"providers.llm.model", cfg.Providers.LLM.Model, config.DefaultLLMModel},
		{"search.language", cfg.Search.Language, "en"},
		{"search.country", cfg.Search.Country, "de"},
		{"schedule.timezone", cfg.Schedule.Timezone, "Europe/Berlin"},
		{"store.driver", cfg.Store.Driver, "file"},
		{"resilience.search.name", cfg.Resilience.Search.Name, "serpapi"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.Telegram.RateLimit != config.DefaultRateLimit || cfg.Telegram.RateBurst != config.DefaultRateBurst {
		t.Errorf("telegram rate defaults: got %v/%d", cfg.Telegram.RateLimit, cfg.Telegram.RateBurst)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("telegram:\n  tokn: x\n"), env(minimal))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "tokn") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lydia.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram.token: got %q", cfg.Telegram.Token)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"), env(minimal))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Backend.WebChat.PollInterval != 250*time.Millisecond {
		t.Errorf("webchat.poll_interval: got %v", cfg.Backend.WebChat.PollInterval)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("llm_fallbacks: got %d entries", len(cfg.Providers.LLMFallbacks))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), env(minimal))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_EmptyPathUsesEnvOnly(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", env(minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram.token: got %q", cfg.Telegram.Token)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &mock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory received entry %+v", gotEntry)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_LLMNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	}
	if got := strings.Join(reg.LLMNames(), ","); got != "anthropic,ollama,openai" {
		t.Errorf("LLMNames() = %s", got)
	}
}
