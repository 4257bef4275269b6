// Command lydia is the entry point of the Lydia Telegram assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Klingefjord/chatgpt-telegram/internal/app"
	"github.com/Klingefjord/chatgpt-telegram/internal/config"
	"github.com/Klingefjord/chatgpt-telegram/internal/health"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/resilience"
	"github.com/Klingefjord/chatgpt-telegram/internal/telegram"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm/anyllm"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional dotenv file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "lydia: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lydia: config file %q not found; copy configs/example.yaml or run without -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lydia: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if err := telegram.RedirectLogs(logger); err != nil {
		slog.Warn("could not redirect telegram library logs", "err", err)
	}

	slog.Info("lydia starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Backend.Kind,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lydia",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Language model ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	var provider llm.Provider
	if cfg.Backend.Kind == config.BackendCompletion {
		provider, err = buildLLM(cfg, reg)
		if err != nil {
			slog.Error("failed to build llm provider", "err", err)
			return 1
		}
	}

	// ── Telegram ──────────────────────────────────────────────────────────────
	api, err := telegram.Connect(telegram.Config{
		Token:    cfg.Telegram.Token,
		Endpoint: cfg.Telegram.Endpoint,
		Debug:    cfg.Telegram.Debug,
	})
	if err != nil {
		slog.Error("failed to connect to telegram", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, api, provider)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })

	// ── Metrics and health server ─────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(application.HealthCheckers()...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr)
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("assistant ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM factories into reg.
// OpenAI goes through the official SDK; every other backend goes through
// any-llm-go, which shares the optional APIKey + BaseURL pattern.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	slog.Debug("registered llm providers", "names", reg.LLMNames())
}

// buildLLM creates the primary provider and its fallbacks. Every entry sits
// behind its own circuit breaker.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	chain := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: cfg.Resilience.LLM,
	})
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

	for _, fb := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", fb.Name, "model", fb.Model)
	}
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lydia · startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", string(cfg.Backend.Kind))
	if cfg.Backend.Kind == config.BackendCompletion {
		printRow("LLM", cfg.Providers.LLM.Name+" / "+cfg.Providers.LLM.Model)
		printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	}
	printRow("Store", cfg.Store.Driver)
	printRow("Allowed users", fmt.Sprint(len(cfg.Telegram.AllowedUserIDs)))
	if cfg.Search.APIKey != "" {
		printRow("Web search", "serpapi")
	} else {
		printRow("Web search", "(disabled)")
	}
	printRow("Timezone", cfg.Schedule.Timezone)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
