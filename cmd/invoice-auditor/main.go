package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/invoice-auditor/internal/auditor"
	"github.com/zombor/invoice-auditor/internal/invoice"
	"github.com/zombor/invoice-auditor/internal/metrics"
	"github.com/zombor/invoice-auditor/internal/pricing"
	"github.com/zombor/invoice-auditor/internal/provider"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-auditor")
	var (
		port                = fs.IntLong("port", 8080, "HTTP server port")
		dbPath              = fs.StringLong("db", "invoice-auditor.db", "Database file path")
		storagePath         = fs.StringLong("storage", "./invoices", "Storage directory path")
		extractionProvider  = fs.StringLong("extraction-provider", provider.NameGemini, "Provider that reads invoices: gemini, claude, openai or ollama")
		reasoningProvider   = fs.StringLong("reasoning-provider", "", "Provider for narratives and negotiation drafts (defaults to the extraction provider; 'none' disables)")
		geminiKey           = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel         = fs.StringLong("gemini-model", provider.DefaultModel(provider.NameGemini), "Google Gemini model name")
		claudeKey           = fs.StringLong("claude-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		claudeModel         = fs.StringLong("claude-model", provider.DefaultModel(provider.NameClaude), "Claude model name")
		claudeURL           = fs.StringLong("claude-url", "", "Anthropic API base URL (optional)")
		openaiKey           = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel         = fs.StringLong("openai-model", provider.DefaultModel(provider.NameOpenAI), "OpenAI model name")
		openaiURL           = fs.StringLong("openai-url", "", "OpenAI compatible API base URL (optional)")
		ollamaURL           = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel         = fs.StringLong("ollama-model", provider.DefaultModel(provider.NameOllama), "Ollama model name (e.g., llava, qwen2-vl)")
		providerTimeout     = fs.DurationLong("provider-timeout", 0, "Timeout for a single model call (0 uses the provider default)")
		providerConcurrency = fs.IntLong("provider-concurrency", 4, "Maximum concurrent model calls")
		retryAttempts       = fs.IntLong("retry-attempts", 3, "Attempts per model call for transient failures")
		pricingFile         = fs.StringLong("pricing-file", "", "YAML or JSON pricing table to import on startup (optional)")
		pricingVendor       = fs.StringLong("pricing-vendor", "", "Only match pricing rows of this vendor (optional)")
		authUser            = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass            = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel            = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat           = fs.StringLong("log-format", "text", "Log format: text or json")
		_                   = fs.StringLong("config", "", "Config file of 'flag value' lines (optional)")
		showVersion         = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_AUDITOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := invoice.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *pricingFile != "" {
		rows, err := pricing.Load(*pricingFile)
		if err != nil {
			slog.Error("Failed to load pricing table", "error", err)
			os.Exit(1)
		}
		if err := db.SavePricing(rows); err != nil {
			slog.Error("Failed to save pricing table", "error", err)
			os.Exit(1)
		}
		slog.Info("Pricing table imported", "file", *pricingFile, "rows", len(rows))
	}

	configFor := func(name string) provider.Config {
		cfg := provider.Config{
			Name:          name,
			Timeout:       *providerTimeout,
			RetryAttempts: *retryAttempts,
		}
		switch name {
		case provider.NameGemini:
			cfg.APIKey, cfg.Model = orEnv(*geminiKey, "GEMINI_API_KEY"), *geminiModel
		case provider.NameClaude:
			cfg.APIKey, cfg.Model, cfg.BaseURL = orEnv(*claudeKey, "ANTHROPIC_API_KEY"), *claudeModel, *claudeURL
		case provider.NameOpenAI:
			cfg.APIKey, cfg.Model, cfg.BaseURL = orEnv(*openaiKey, "OPENAI_API_KEY"), *openaiModel, *openaiURL
		case provider.NameOllama:
			cfg.Model, cfg.BaseURL = *ollamaModel, *ollamaURL
		}
		return cfg
	}

	slog.Info("Initializing extraction provider...", "provider", *extractionProvider)
	extractor, err := provider.New(ctx, configFor(*extractionProvider))
	if err != nil {
		slog.Error("Failed to initialize extraction provider", "error", err)
		os.Exit(1)
	}

	var reasoner provider.Provider
	switch *reasoningProvider {
	case "", *extractionProvider:
		reasoner = extractor
	case "none":
		slog.Warn("Reasoning provider disabled; every audit will require human review")
	default:
		slog.Info("Initializing reasoning provider...", "provider", *reasoningProvider)
		reasoner, err = provider.New(ctx, configFor(*reasoningProvider))
		if err != nil {
			slog.Error("Failed to initialize reasoning provider", "error", err)
			os.Exit(1)
		}
	}

	recorder := metrics.NewRecorder()
	aud := auditor.New(extractor, reasoner, int64(*providerConcurrency), recorder)
	defer aud.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := invoice.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := invoice.NewService(db, store, aud,
		invoice.WithPricingVendorFilter(*pricingVendor),
		invoice.WithReauditConcurrency(*providerConcurrency),
	)

	basicAuth := invoice.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := invoice.NewServer(service, basicAuth, recorder.Handler())

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// orEnv returns value, falling back to the environment variable
func orEnv(value, env string) string {
	if value != "" {
		return value
	}
	return os.Getenv(env)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
}
