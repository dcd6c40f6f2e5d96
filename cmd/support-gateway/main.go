// ABOUTME: Entry point for the support-gateway server
// ABOUTME: Registers domains, provisions remote agents, and serves widget chat

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/config"
	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/gateway"
	"github.com/2389/support-gateway/internal/provider"
	"github.com/2389/support-gateway/internal/registry"
	"github.com/2389/support-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                      _
 ___ _   _ _ __  _ __   ___  _ __ ___| |_
/ __| | | | '_ \| '_ \ / _ \| '__/ __| __|
\__ \ |_| | |_) | |_) | (_) | |  \__ \ |_
|___/\__,_| .__/| .__/ \___/|_|  |___/\__|
          |_|   |_|            gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: SUPPORT_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/support-gateway/gateway.yaml > ~/.config/support-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SUPPORT_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "support-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: support-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  health    Check gateway health")
		os.Exit(1)
	}

	// Local overrides for provider keys and secrets; absence is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Provider: %s\n", cfg.Provider.BaseURL)
	fmt.Println()

	logger.Info("starting support-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	client := provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)

	reg := registry.New(st, client, registry.Config{
		CredentialTTL:   cfg.Registry.CredentialTTL,
		PollInterval:    cfg.Registry.PollInterval,
		PollMaxInterval: cfg.Registry.PollMaxInterval,
		PollBudget:      cfg.Registry.PollBudget,
	}, logger)
	defer reg.Close()

	if err := reg.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrating registry: %w", err)
	}

	conv := conversation.New(st, logger)
	tokens := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	srv := gateway.New(cfg.Server.HTTPAddr, st, reg, conv, tokens, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runHealth(ctx context.Context) error {
	addr := os.Getenv("SUPPORT_GATEWAY_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var status map[string]string
	if err := json.Unmarshal(body, &status); err != nil || resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: %s %s", resp.Status, body)
	}

	color.Green("gateway healthy: %s", status["status"])
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
